package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/redis"
)

// RedsyncManager implements LockManager with the Redlock algorithm from
// go-redsync/redsync/v4. Redlock handles clock drift and split-brain cases
// that plain SET NX locking does not.
type RedsyncManager struct {
	redsync    *redsync.Redsync
	localLocks map[string]*RedsyncLock
	mutex      sync.RWMutex
}

// RedsyncLock wraps a redsync.Mutex behind the Lock interface and renews it
// in the background.
type RedsyncLock struct {
	mutex      *redsync.Mutex
	key        string
	expiration time.Duration
	acquired   time.Time
	ctx        context.Context
	cancel     context.CancelFunc
	manager    *RedsyncManager
}

func NewRedsyncManager(redisClient *redis.Client) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GoRedisClient())

	return &RedsyncManager{
		redsync:    redsync.New(pool),
		localLocks: make(map[string]*RedsyncLock),
	}, nil
}

// NewDistributedLockManager creates the preferred lock manager
// implementation, currently RedsyncManager.
func NewDistributedLockManager(redisClient *redis.Client) (LockManager, error) {
	return NewRedsyncManager(redisClient)
}

func (rm *RedsyncManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	mutex := rm.redsync.NewMutex(fmt.Sprintf("lock:%s", key), redsync.WithExpiry(expiration), redsync.WithTries(1))

	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.ConnectionError("failed to acquire distributed lock", err)
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &RedsyncLock{
		mutex:      mutex,
		key:        key,
		expiration: expiration,
		acquired:   time.Now(),
		ctx:        lockCtx,
		cancel:     cancel,
		manager:    rm,
	}

	rm.mutex.Lock()
	rm.localLocks[key] = lock
	rm.mutex.Unlock()

	go rm.renewLock(lock)

	return lock, nil
}

func (rm *RedsyncManager) renewLock(lock *RedsyncLock) {
	renewInterval := lock.expiration / 3
	if renewInterval < time.Second {
		renewInterval = time.Second
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !ok {
				rm.releaseLock(lock)
				return
			}
		}
	}
}

func (rm *RedsyncManager) releaseLock(lock *RedsyncLock) {
	rm.mutex.Lock()
	delete(rm.localLocks, lock.key)
	rm.mutex.Unlock()

	lock.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lock.mutex.UnlockContext(ctx)
}

func (rm *RedsyncManager) AcquireTokenRefreshLock(ctx context.Context, configID string) (Lock, error) {
	return rm.AcquireLock(ctx, fmt.Sprintf("token-refresh:%s", configID), 30*time.Second)
}

func (rm *RedsyncManager) AcquireMaintenanceLock(ctx context.Context, jobName string) (Lock, error) {
	return rm.AcquireLock(ctx, fmt.Sprintf("maintenance:%s", jobName), 5*time.Minute)
}

func (rm *RedsyncManager) Close() error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	for _, lock := range rm.localLocks {
		lock.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		lock.mutex.UnlockContext(ctx)
		cancel()
	}

	rm.localLocks = make(map[string]*RedsyncLock)
	return nil
}

func (rl *RedsyncLock) Key() string {
	return rl.key
}

func (rl *RedsyncLock) Extend(ctx context.Context, expiration time.Duration) error {
	rl.expiration = expiration
	return nil
}

func (rl *RedsyncLock) Release(ctx context.Context) error {
	rl.cancel()
	return nil
}

func (rl *RedsyncLock) IsHeld() bool {
	select {
	case <-rl.ctx.Done():
		return false
	default:
		return true
	}
}

var _ LockManager = (*RedsyncManager)(nil)
