package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/logging"
)

// AMQPQueue delivers jobs over a durable AMQP queue. Delayed retries go
// through a companion wait queue whose dead-letter target is the main
// queue: a message published with a per-message TTL falls back onto the
// main queue when its delay expires.
type AMQPQueue struct {
	url    string
	name   string
	logger logging.Logger

	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery
	closed     bool
}

var (
	_ Source = (*AMQPQueue)(nil)
	_ Sink   = (*AMQPQueue)(nil)
)

func NewAMQPQueue(url, name string, logger logging.Logger) (*AMQPQueue, error) {
	if url == "" {
		return nil, errors.ConfigError("amqp queue requires a connection url")
	}
	if name == "" {
		return nil, errors.ConfigError("amqp queue requires a name")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	q := &AMQPQueue{url: url, name: name, logger: logger}
	if err := q.connect(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *AMQPQueue) waitName() string { return q.name + ".wait" }

func (q *AMQPQueue) connect() error {
	conn, err := amqp.Dial(q.url)
	if err != nil {
		return errors.ConnectionError("failed to connect to AMQP broker", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.ConnectionError("failed to open AMQP channel", err)
	}

	if _, err := channel.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
		conn.Close()
		return errors.InternalError("failed to declare queue "+q.name, err)
	}
	waitArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.name,
	}
	if _, err := channel.QueueDeclare(q.waitName(), true, false, false, false, waitArgs); err != nil {
		conn.Close()
		return errors.InternalError("failed to declare wait queue "+q.waitName(), err)
	}

	// One unacked job per consumer channel keeps the pool's bound honest.
	if err := channel.Qos(1, 0, false); err != nil {
		conn.Close()
		return errors.InternalError("failed to set AMQP prefetch", err)
	}

	deliveries, err := channel.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return errors.InternalError("failed to start consuming from queue "+q.name, err)
	}

	q.mu.Lock()
	q.conn = conn
	q.channel = channel
	q.deliveries = deliveries
	q.mu.Unlock()
	return nil
}

// Enqueue publishes the job, routed through the wait queue when the due
// time is in the future.
func (q *AMQPQueue) Enqueue(ctx context.Context, job Job, due time.Time) error {
	if err := job.Validate(); err != nil {
		return err
	}
	data, err := job.Marshal()
	if err != nil {
		return err
	}

	q.mu.Lock()
	channel := q.channel
	closed := q.closed
	q.mu.Unlock()
	if closed || channel == nil {
		return errors.ConnectionError("amqp queue is closed", nil)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.RequestAttemptID,
		Timestamp:    time.Now(),
		Body:         data,
	}

	target := q.name
	if delay := time.Until(due); !due.IsZero() && delay > 0 {
		target = q.waitName()
		publishing.Expiration = fmt.Sprintf("%d", delay.Milliseconds())
	}

	if err := channel.Publish("", target, false, false, publishing); err != nil {
		return errors.ConnectionError("failed to publish job", err)
	}
	return nil
}

// Receive blocks until a job arrives or the context ends.
func (q *AMQPQueue) Receive(ctx context.Context) (*Delivery, error) {
	q.mu.Lock()
	deliveries := q.deliveries
	q.mu.Unlock()
	if deliveries == nil {
		return nil, errors.ConnectionError("amqp queue is closed", nil)
	}

	select {
	case <-ctx.Done():
		return nil, errors.TimeoutError("queue receive")
	case msg, ok := <-deliveries:
		if !ok {
			return nil, errors.ConnectionError("amqp delivery channel closed", nil)
		}
		job, err := UnmarshalJob(msg.Body)
		if err != nil {
			// Poison message: reject without requeue.
			q.logger.Error("dropping malformed amqp message", err)
			if nackErr := msg.Nack(false, false); nackErr != nil {
				q.logger.Error("failed to drop malformed message", nackErr)
			}
			return nil, nil
		}
		return &Delivery{
			Job:  job,
			Ack:  func() error { return msg.Ack(false) },
			Nack: func() error { return msg.Nack(false, true) },
		}, nil
	}
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
