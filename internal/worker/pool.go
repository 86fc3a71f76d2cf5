// Package worker runs the bounded pool that pulls delivery jobs from the
// queue and hands them to the state machine. Workers are symmetric; any
// worker may pick any job.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/logging"
	"webhook-delivery/internal/queue"
)

// Processor executes one job to a durable outcome.
type Processor interface {
	Process(ctx context.Context, job queue.Job) error
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Concurrency int   `json:"concurrency"`
	Processed   int64 `json:"processed"`
	Failed      int64 `json:"failed"`
	Running     bool  `json:"running"`
}

// Pool consumes jobs with a fixed number of workers. Concurrency is bounded
// because each in-flight job holds an outbound connection and possibly a
// TLS client identity.
type Pool struct {
	source      queue.Source
	processor   Processor
	concurrency int
	logger      logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	processed atomic.Int64
	failed    atomic.Int64
}

func NewPool(source queue.Source, processor Processor, concurrency int, logger logging.Logger) (*Pool, error) {
	if source == nil || processor == nil {
		return nil, errors.ConfigError("worker pool requires a source and a processor")
	}
	if concurrency < 1 {
		return nil, errors.ConfigError("worker concurrency must be positive")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Pool{
		source:      source,
		processor:   processor,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Start launches the workers. It returns immediately; use Stop to shut
// down.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.InternalError("worker pool already started", nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.run(ctx, id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()

	p.logger.Info("worker pool started", logging.Int("concurrency", p.concurrency))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs, bounded by the
// context deadline.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return errors.TimeoutError("worker pool shutdown")
	}
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	return Stats{
		Concurrency: p.concurrency,
		Processed:   p.processed.Load(),
		Failed:      p.failed.Load(),
		Running:     running,
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	for {
		delivery, err := p.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("failed to receive job", err,
				logging.Int("worker", id))
			// Back off before hammering a broken source.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if delivery == nil {
			continue
		}
		p.handle(ctx, id, delivery)
	}
}

func (p *Pool) handle(ctx context.Context, id int, delivery *queue.Delivery) {
	err := p.processor.Process(ctx, delivery.Job)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("job processing failed, returning to queue", err,
			logging.Int("worker", id),
			logging.String("request_attempt_id", delivery.Job.RequestAttemptID))
		if delivery.Nack != nil {
			if nackErr := delivery.Nack(); nackErr != nil {
				p.logger.Error("failed to nack job", nackErr)
			}
		}
		return
	}

	p.processed.Add(1)
	if delivery.Ack != nil {
		if ackErr := delivery.Ack(); ackErr != nil {
			// The outcome is durable; a lost ack only risks a
			// redelivery, which the state machine tolerates.
			p.logger.Warn("failed to ack job",
				logging.String("request_attempt_id", delivery.Job.RequestAttemptID),
				logging.Err(ackErr))
		}
	}
}
