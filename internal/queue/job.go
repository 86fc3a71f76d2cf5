// Package queue defines the delivery job transport: the job shape handed to
// workers and the Source/Sink interfaces the engine consumes. Redis and AMQP
// implementations live alongside.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"webhook-delivery/internal/common/errors"
)

// Job identifies one request attempt to execute. The queue delivers jobs at
// least once; the state machine tolerates redelivery.
type Job struct {
	RequestAttemptID string `json:"request_attempt_id"`
	EventID          string `json:"event_id"`
	SubscriptionID   string `json:"subscription_id"`
	AttemptNumber    int    `json:"attempt_number"`
}

func (j Job) Validate() error {
	if j.RequestAttemptID == "" {
		return errors.ValidationError("job is missing request_attempt_id")
	}
	if j.EventID == "" {
		return errors.ValidationError("job is missing event_id")
	}
	if j.SubscriptionID == "" {
		return errors.ValidationError("job is missing subscription_id")
	}
	if j.AttemptNumber < 1 {
		return errors.ValidationError("job attempt_number must be positive")
	}
	return nil
}

func (j Job) Marshal() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, errors.InternalError("failed to marshal job", err)
	}
	return data, nil
}

func UnmarshalJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, errors.ValidationError("malformed job payload")
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Delivery is one received job plus the handle used to settle it.
type Delivery struct {
	Job Job

	// Ack marks the job done; it will not be redelivered.
	Ack func() error
	// Nack returns the job to the queue for redelivery.
	Nack func() error
}

// Source hands jobs to the worker pool.
type Source interface {
	// Receive blocks until a job is due or the context ends.
	Receive(ctx context.Context) (*Delivery, error)
	Close() error
}

// Sink schedules jobs, immediately or at a future due time.
type Sink interface {
	// Enqueue schedules the job to become receivable at the due time.
	// A zero due time means immediately.
	Enqueue(ctx context.Context, job Job, due time.Time) error
	Close() error
}
