// Package locks provides distributed locks over Redis. The delivery engine
// uses them to serialize OAuth2 token refreshes per authentication config
// across instances, and to make sure periodic maintenance sweeps run on one
// instance at a time.
//
// Two implementations exist: Manager, a plain SET NX lock with background
// renewal, and RedsyncManager, which uses the Redlock algorithm from
// go-redsync/redsync/v4. New code should go through NewDistributedLockManager,
// which picks redsync.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RedisLockClient is the subset of the Redis client Manager needs.
type RedisLockClient interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	ExtendLock(ctx context.Context, key string, expiration time.Duration) error
}

// Lock is a held distributed lock. Locks renew themselves in the background
// until released; IsHeld reports whether renewal is still running.
type Lock interface {
	Key() string
	Extend(ctx context.Context, expiration time.Duration) error
	Release(ctx context.Context) error
	IsHeld() bool
}

// LockManager is implemented by both Manager and RedsyncManager.
type LockManager interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error)
	AcquireTokenRefreshLock(ctx context.Context, configID string) (Lock, error)
	AcquireMaintenanceLock(ctx context.Context, jobName string) (Lock, error)
	Close() error
}

// Manager manages SET NX based locks with automatic renewal. It is safe for
// concurrent use.
type Manager struct {
	redis      RedisLockClient
	localLocks map[string]*LocalLock
	mutex      sync.RWMutex
}

// LocalLock tracks one lock held by this instance. Obtain instances through
// Manager.AcquireLock.
type LocalLock struct {
	key        string
	expiration time.Duration
	acquired   time.Time
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewManager(redisClient RedisLockClient) *Manager {
	return &Manager{
		redis:      redisClient,
		localLocks: make(map[string]*LocalLock),
	}
}

// AcquireLock takes the lock for key or fails if another process holds it.
// The lock is renewed at a third of its expiration until released.
func (m *Manager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	acquired, err := m.redis.AcquireLock(ctx, key, expiration)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire distributed lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("lock already held by another process")
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &LocalLock{
		key:        key,
		expiration: expiration,
		acquired:   time.Now(),
		ctx:        lockCtx,
		cancel:     cancel,
	}

	m.mutex.Lock()
	m.localLocks[key] = lock
	m.mutex.Unlock()

	go m.renewLock(lock)

	return lock, nil
}

func (m *Manager) renewLock(lock *LocalLock) {
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
			err := m.redis.ExtendLock(ctx, lock.key, lock.expiration)
			cancel()

			if err != nil {
				// Lock lost, clean up.
				m.releaseLock(lock)
				return
			}
		}
	}
}

func (m *Manager) releaseLock(lock *LocalLock) {
	m.mutex.Lock()
	delete(m.localLocks, lock.key)
	m.mutex.Unlock()

	lock.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.redis.ReleaseLock(ctx, lock.key)
}

// AcquireTokenRefreshLock serializes OAuth2 token refreshes for one
// authentication config across instances. The 30 second expiration comfortably
// covers a token-endpoint round trip.
func (m *Manager) AcquireTokenRefreshLock(ctx context.Context, configID string) (Lock, error) {
	return m.AcquireLock(ctx, fmt.Sprintf("token-refresh:%s", configID), 30*time.Second)
}

// AcquireMaintenanceLock ensures one instance runs a named maintenance sweep
// at a time.
func (m *Manager) AcquireMaintenanceLock(ctx context.Context, jobName string) (Lock, error) {
	return m.AcquireLock(ctx, fmt.Sprintf("maintenance:%s", jobName), 5*time.Minute)
}

// Close cancels renewal for every held lock. The locks expire naturally in
// Redis afterwards.
func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, lock := range m.localLocks {
		lock.cancel()
	}

	m.localLocks = make(map[string]*LocalLock)
	return nil
}

func (l *LocalLock) Key() string {
	return l.key
}

// Extend changes the expiration used by future renewals.
func (l *LocalLock) Extend(ctx context.Context, expiration time.Duration) error {
	l.expiration = expiration
	return nil
}

func (l *LocalLock) Release(ctx context.Context) error {
	l.cancel()
	return nil
}

func (l *LocalLock) IsHeld() bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
		return true
	}
}

var _ LockManager = (*Manager)(nil)
