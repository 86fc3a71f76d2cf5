package delivery

import (
	"time"

	"webhook-delivery/internal/common/errors"
)

// BackoffPolicy is the two-tier retry ladder. The first MaxFast failed
// attempts retry on the fast tier, the next MaxSlow on the slow tier, then
// the chain is exhausted. Delays are deterministic per attempt number so
// retries are reproducible; wall-clock scheduling happens at re-enqueue.
type BackoffPolicy struct {
	MaxFast  int
	MaxSlow  int
	FastBase time.Duration
	SlowBase time.Duration
	SlowMax  time.Duration
}

// DefaultBackoffPolicy mirrors the configuration defaults.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxFast:  3,
		MaxSlow:  2,
		FastBase: 5 * time.Second,
		SlowBase: 5 * time.Minute,
		SlowMax:  time.Hour,
	}
}

func (p BackoffPolicy) Validate() error {
	if p.MaxFast < 0 || p.MaxSlow < 0 {
		return errors.ConfigError("retry maxima must not be negative")
	}
	if p.MaxFast > 0 && p.FastBase <= 0 {
		return errors.ConfigError("fast tier requires a positive base delay")
	}
	if p.MaxSlow > 0 && (p.SlowBase <= 0 || p.SlowMax < p.SlowBase) {
		return errors.ConfigError("slow tier requires a positive base delay and a cap no smaller than it")
	}
	return nil
}

// Budget is the total number of attempts a chain may make: the first
// attempt plus the retries of both tiers exhaust at Budget failures.
func (p BackoffPolicy) Budget() int {
	return p.MaxFast + p.MaxSlow
}

// Exhausted reports whether a failure at the given attempt number ends the
// chain. With MaxFast=3 and MaxSlow=2 the fifth failed attempt is final.
func (p BackoffPolicy) Exhausted(attemptNumber int) bool {
	return attemptNumber >= p.Budget()
}

// Delay returns the backoff after a failure at the given attempt number.
// Fast tier: FastBase * 2^(n-1). Slow tier: SlowBase * 2^(k-1) capped at
// SlowMax, where k counts from the first slow attempt.
func (p BackoffPolicy) Delay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}
	if attemptNumber <= p.MaxFast {
		return scaleCapped(p.FastBase, attemptNumber-1, p.SlowMax)
	}
	k := attemptNumber - p.MaxFast
	return scaleCapped(p.SlowBase, k-1, p.SlowMax)
}

func scaleCapped(base time.Duration, exp int, max time.Duration) time.Duration {
	d := base
	for i := 0; i < exp; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
