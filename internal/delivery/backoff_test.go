package delivery

import (
	"testing"
	"time"
)

func TestBackoffPolicy_Delay(t *testing.T) {
	policy := BackoffPolicy{
		MaxFast:  3,
		MaxSlow:  2,
		FastBase: 5 * time.Second,
		SlowBase: 5 * time.Minute,
		SlowMax:  time.Hour,
	}

	tests := []struct {
		attemptNumber int
		want          time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 5 * time.Minute},
		{5, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := policy.Delay(tt.attemptNumber); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attemptNumber, got, tt.want)
		}
	}
}

func TestBackoffPolicy_SlowCap(t *testing.T) {
	policy := BackoffPolicy{
		MaxFast:  1,
		MaxSlow:  6,
		FastBase: time.Second,
		SlowBase: 10 * time.Minute,
		SlowMax:  time.Hour,
	}

	// 10m, 20m, 40m, then pinned at the cap.
	for attempt, want := range map[int]time.Duration{
		2: 10 * time.Minute,
		3: 20 * time.Minute,
		4: 40 * time.Minute,
		5: time.Hour,
		6: time.Hour,
		7: time.Hour,
	} {
		if got := policy.Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestBackoffPolicy_Exhausted(t *testing.T) {
	policy := BackoffPolicy{MaxFast: 3, MaxSlow: 2, FastBase: time.Second, SlowBase: time.Minute, SlowMax: time.Hour}

	for n := 1; n <= 4; n++ {
		if policy.Exhausted(n) {
			t.Errorf("Exhausted(%d) = true, budget not used up yet", n)
		}
	}
	if !policy.Exhausted(5) {
		t.Error("Exhausted(5) = false, want true: the fifth failed attempt ends the chain")
	}
}

func TestBackoffPolicy_Deterministic(t *testing.T) {
	policy := DefaultBackoffPolicy()
	for n := 1; n <= policy.Budget(); n++ {
		first := policy.Delay(n)
		second := policy.Delay(n)
		if first != second {
			t.Errorf("Delay(%d) not deterministic: %v vs %v", n, first, second)
		}
	}
}

func TestBackoffPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  BackoffPolicy
		wantErr bool
	}{
		{"defaults", DefaultBackoffPolicy(), false},
		{"no retries at all", BackoffPolicy{}, false},
		{"negative fast budget", BackoffPolicy{MaxFast: -1}, true},
		{"fast tier without base", BackoffPolicy{MaxFast: 2}, true},
		{"slow cap below base", BackoffPolicy{MaxSlow: 1, SlowBase: time.Hour, SlowMax: time.Minute}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
