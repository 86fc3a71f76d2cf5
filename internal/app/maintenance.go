package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"webhook-delivery/internal/common/logging"
	"webhook-delivery/internal/locks"
	"webhook-delivery/internal/queue"
	"webhook-delivery/internal/storage"
)

const (
	// sweepGrace keeps the sweep from racing the normal retry enqueue: only
	// attempts overdue by this much are treated as lost and re-enqueued.
	sweepGrace = 2 * time.Minute

	sweepBatchSize = 500

	// auditRetention bounds the auth audit table.
	auditRetention = 30 * 24 * time.Hour
)

// maintenance runs the periodic background jobs: re-enqueueing waiting
// attempts whose retry job was lost, and pruning old audit records. With a
// lock manager each job runs on one instance at a time.
type maintenance struct {
	store  storage.Store
	sink   queue.Sink
	locks  locks.LockManager
	cron   *cron.Cron
	logger logging.Logger
}

func newMaintenance(store storage.Store, sink queue.Sink, lockManager locks.LockManager, logger logging.Logger) *maintenance {
	return &maintenance{
		store:  store,
		sink:   sink,
		locks:  lockManager,
		cron:   cron.New(),
		logger: logger,
	}
}

func (m *maintenance) Start() {
	if _, err := m.cron.AddFunc("* * * * *", m.sweepDueAttempts); err != nil {
		m.logger.Error("failed to schedule due-attempt sweep", err)
	}
	if _, err := m.cron.AddFunc("17 3 * * *", m.pruneAuditRecords); err != nil {
		m.logger.Error("failed to schedule audit pruning", err)
	}
	m.cron.Start()
}

func (m *maintenance) Stop() {
	<-m.cron.Stop().Done()
}

// sweepDueAttempts re-enqueues Waiting attempts that are overdue. The retry
// enqueue after a failed attempt can be lost if the process dies between the
// status write and the enqueue; this sweep is the safety net that keeps such
// chains moving.
func (m *maintenance) sweepDueAttempts() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if m.locks != nil {
		lock, err := m.locks.AcquireMaintenanceLock(ctx, "due-promotion")
		if err != nil {
			// Another instance is sweeping.
			return
		}
		defer lock.Release(ctx)
	}

	before := time.Now().UTC().Add(-sweepGrace)
	attempts, err := m.store.ListDueWaitingAttempts(ctx, before, sweepBatchSize)
	if err != nil {
		m.logger.Error("due-attempt sweep failed", err)
		return
	}
	if len(attempts) == 0 {
		return
	}

	enqueued := 0
	for _, attempt := range attempts {
		job := queue.Job{
			RequestAttemptID: attempt.ID,
			EventID:          attempt.EventID,
			SubscriptionID:   attempt.SubscriptionID,
			AttemptNumber:    attempt.AttemptNumber + 1,
		}
		if err := m.sink.Enqueue(ctx, job, time.Now().UTC()); err != nil {
			m.logger.Warn("failed to re-enqueue overdue attempt",
				logging.String("request_attempt_id", attempt.ID), logging.Err(err))
			continue
		}
		enqueued++
	}
	m.logger.Info("due-attempt sweep finished",
		logging.Int("overdue", len(attempts)), logging.Int("enqueued", enqueued))
}

func (m *maintenance) pruneAuditRecords() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if m.locks != nil {
		lock, err := m.locks.AcquireMaintenanceLock(ctx, "audit-prune")
		if err != nil {
			return
		}
		defer lock.Release(ctx)
	}

	pruned, err := m.store.PruneAuditRecords(ctx, time.Now().UTC().Add(-auditRetention))
	if err != nil {
		m.logger.Error("audit pruning failed", err)
		return
	}
	if pruned > 0 {
		m.logger.Info("audit records pruned", logging.Int64("pruned", pruned))
	}
}
