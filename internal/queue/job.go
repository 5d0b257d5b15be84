// Package queue carries background jobs between the API and the worker.
// Jobs travel over RabbitMQ as JSON envelopes; the same handlers can also
// run in-process when no broker is configured.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is the envelope published to the job queue.  Attempt starts at 1 and
// is incremented each time the worker republishes a failed job.
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewJob wraps payload in a fresh envelope.
func NewJob(name string, payload any) (*Job, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", name, err)
		}
		raw = b
	}
	return &Job{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    raw,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.  An empty payload leaves v as is.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Name, err)
	}
	return nil
}

// Reporter records handler progress, 0 to 100.
type Reporter func(percent int, message string)

// Handler runs one job attempt.
type Handler func(ctx context.Context, job *Job, report Reporter) error

// Handlers maps job names to their handler.
type Handlers map[string]Handler

// Enqueuer hands a job to whatever runs it and returns the job id.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
}
