package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-delivery/internal/common/logging"
)

func setupRedisQueue(t *testing.T) (*RedisQueue, *fakeQueueClock) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q, err := NewRedisQueue(rdb, "delivery-attempts", 30*time.Second, logging.GetGlobalLogger())
	require.NoError(t, err)

	clock := &fakeQueueClock{t: time.Unix(1700000000, 0)}
	q.now = clock.Now
	return q, clock
}

type fakeQueueClock struct {
	t time.Time
}

func (c *fakeQueueClock) Now() time.Time          { return c.t }
func (c *fakeQueueClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func queueTestJob(attempt int) Job {
	return Job{
		RequestAttemptID: "att-1",
		EventID:          "evt-1",
		SubscriptionID:   "sub-1",
		AttemptNumber:    attempt,
	}
}

func TestRedisQueue_EnqueueAndClaim(t *testing.T) {
	q, _ := setupRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queueTestJob(1), time.Time{}))

	delivery, err := q.tryClaim(ctx)
	require.NoError(t, err)
	require.NotNil(t, delivery)
	assert.Equal(t, queueTestJob(1), delivery.Job)

	// Claimed, not yet acknowledged: in flight.
	scheduled, processing, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), scheduled)
	assert.Equal(t, int64(1), processing)

	require.NoError(t, delivery.Ack())
	scheduled, processing, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), scheduled)
	assert.Equal(t, int64(0), processing)
}

func TestRedisQueue_DueTimeScheduling(t *testing.T) {
	q, clock := setupRedisQueue(t)
	ctx := context.Background()

	due := clock.Now().Add(time.Minute)
	require.NoError(t, q.Enqueue(ctx, queueTestJob(2), due))

	delivery, err := q.tryClaim(ctx)
	require.NoError(t, err)
	assert.Nil(t, delivery, "job must stay invisible until its due time")

	clock.Advance(time.Minute + time.Second)
	delivery, err = q.tryClaim(ctx)
	require.NoError(t, err)
	require.NotNil(t, delivery)
	assert.Equal(t, 2, delivery.Job.AttemptNumber)
}

func TestRedisQueue_NackReturnsJob(t *testing.T) {
	q, _ := setupRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queueTestJob(1), time.Time{}))
	delivery, err := q.tryClaim(ctx)
	require.NoError(t, err)
	require.NotNil(t, delivery)

	require.NoError(t, delivery.Nack())

	again, err := q.tryClaim(ctx)
	require.NoError(t, err)
	require.NotNil(t, again, "nacked job is immediately claimable again")
	assert.Equal(t, delivery.Job, again.Job)
}

func TestRedisQueue_VisibilityTimeoutRedelivery(t *testing.T) {
	q, clock := setupRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queueTestJob(1), time.Time{}))
	first, err := q.tryClaim(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Worker crashed: no ack. Inside the window the job stays invisible.
	clock.Advance(10 * time.Second)
	hidden, err := q.tryClaim(ctx)
	require.NoError(t, err)
	assert.Nil(t, hidden)

	// Past the visibility window the job is reclaimed and redelivered.
	clock.Advance(30 * time.Second)
	second, err := q.tryClaim(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.Job, second.Job)
}

func TestRedisQueue_ReceiveBlocksUntilDue(t *testing.T) {
	q, _ := setupRedisQueue(t)
	q.pollInterval = 10 * time.Millisecond
	q.now = time.Now
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queueTestJob(1), time.Now().Add(50*time.Millisecond)))

	start := time.Now()
	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	delivery, err := q.Receive(recvCtx)
	require.NoError(t, err)
	require.NotNil(t, delivery)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestRedisQueue_ReceiveHonorsContext(t *testing.T) {
	q, _ := setupRedisQueue(t)
	q.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Receive(ctx)
	require.Error(t, err)
}

func TestRedisQueue_PoisonEntryDropped(t *testing.T) {
	q, clock := setupRedisQueue(t)
	ctx := context.Background()

	err := q.rdb.ZAdd(ctx, q.scheduledKey(), &goredis.Z{
		Score:  float64(clock.Now().UnixMilli()),
		Member: "not json",
	}).Err()
	require.NoError(t, err)

	delivery, err := q.tryClaim(ctx)
	require.NoError(t, err)
	assert.Nil(t, delivery)

	scheduled, processing, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), scheduled)
	assert.Equal(t, int64(0), processing)
}

func TestRedisQueue_DuplicateEnqueueMovesDueTime(t *testing.T) {
	q, clock := setupRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queueTestJob(1), clock.Now().Add(time.Hour)))
	require.NoError(t, q.Enqueue(ctx, queueTestJob(1), time.Time{}))

	scheduled, _, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), scheduled, "same job enqueued twice is one entry")

	delivery, err := q.tryClaim(ctx)
	require.NoError(t, err)
	require.NotNil(t, delivery)
}
