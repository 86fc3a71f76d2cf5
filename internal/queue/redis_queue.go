package queue

import (
	"context"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/logging"
)

const defaultPollInterval = 250 * time.Millisecond

// popScript first reclaims jobs whose visibility window expired, then
// claims the earliest due job: removed from the scheduled set and parked
// in the processing set with a redelivery deadline. Atomic so no two
// workers claim the same job.
var popScript = goredis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, member in ipairs(expired) do
  redis.call('ZREM', KEYS[2], member)
  redis.call('ZADD', KEYS[1], ARGV[1], member)
end
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
  return false
end
redis.call('ZREM', KEYS[1], due[1])
redis.call('ZADD', KEYS[2], ARGV[2], due[1])
return due[1]
`)

// RedisQueue schedules jobs in a due-time sorted set. Picked jobs move to a
// processing set; jobs not acknowledged within the visibility timeout are
// redelivered, giving at-least-once semantics.
type RedisQueue struct {
	rdb          *goredis.Client
	name         string
	visibility   time.Duration
	pollInterval time.Duration
	logger       logging.Logger
	now          func() time.Time
}

var (
	_ Source = (*RedisQueue)(nil)
	_ Sink   = (*RedisQueue)(nil)
)

func NewRedisQueue(rdb *goredis.Client, name string, visibility time.Duration, logger logging.Logger) (*RedisQueue, error) {
	if rdb == nil {
		return nil, errors.ConfigError("redis queue requires a client")
	}
	if name == "" {
		return nil, errors.ConfigError("redis queue requires a name")
	}
	if visibility <= 0 {
		visibility = time.Minute
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &RedisQueue{
		rdb:          rdb,
		name:         name,
		visibility:   visibility,
		pollInterval: defaultPollInterval,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (q *RedisQueue) scheduledKey() string  { return "queue:" + q.name }
func (q *RedisQueue) processingKey() string { return "queue:" + q.name + ":processing" }

// Enqueue schedules the job. Re-enqueueing the same job only moves its
// due time, so duplicate scheduling is harmless.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job, due time.Time) error {
	if err := job.Validate(); err != nil {
		return err
	}
	data, err := job.Marshal()
	if err != nil {
		return err
	}
	if due.IsZero() {
		due = q.now()
	}
	err = q.rdb.ZAdd(ctx, q.scheduledKey(), &goredis.Z{
		Score:  float64(due.UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		return errors.ConnectionError("failed to enqueue job", err)
	}
	return nil
}

// Receive blocks until a due job is claimed or the context ends.
func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		delivery, err := q.tryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if delivery != nil {
			return delivery, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.TimeoutError("queue receive")
		case <-ticker.C:
		}
	}
}

func (q *RedisQueue) tryClaim(ctx context.Context) (*Delivery, error) {
	now := q.now()
	deadline := now.Add(q.visibility)
	result, err := popScript.Run(ctx, q.rdb,
		[]string{q.scheduledKey(), q.processingKey()},
		now.UnixMilli(), deadline.UnixMilli()).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.ConnectionError("failed to claim job", err)
	}

	member, ok := result.(string)
	if !ok {
		return nil, nil
	}
	job, err := UnmarshalJob([]byte(member))
	if err != nil {
		// Poison entry: drop it so it does not wedge the queue.
		q.logger.Error("dropping malformed queue entry", err)
		q.rdb.ZRem(ctx, q.processingKey(), member)
		return nil, nil
	}

	return &Delivery{
		Job: job,
		Ack: func() error {
			return q.rdb.ZRem(context.Background(), q.processingKey(), member).Err()
		},
		Nack: func() error {
			pipe := q.rdb.TxPipeline()
			pipe.ZRem(context.Background(), q.processingKey(), member)
			pipe.ZAdd(context.Background(), q.scheduledKey(), &goredis.Z{
				Score:  float64(q.now().UnixMilli()),
				Member: member,
			})
			_, err := pipe.Exec(context.Background())
			return err
		},
	}, nil
}

// Depth reports how many jobs are scheduled and in flight, for stats.
func (q *RedisQueue) Depth(ctx context.Context) (scheduled, processing int64, err error) {
	scheduled, err = q.rdb.ZCard(ctx, q.scheduledKey()).Result()
	if err != nil {
		return 0, 0, errors.ConnectionError("failed to read queue depth", err)
	}
	processing, err = q.rdb.ZCard(ctx, q.processingKey()).Result()
	if err != nil {
		return 0, 0, errors.ConnectionError("failed to read queue depth", err)
	}
	return scheduled, processing, nil
}

func (q *RedisQueue) Close() error { return nil }
