package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Republisher puts a job back on the queue.  *Publisher implements it.
type Republisher interface {
	Publish(ctx context.Context, job *Job) error
}

// Worker consumes the job queue and runs each delivery through a Runner.
// Failed attempts are acked and republished after a backoff with the
// attempt counter bumped; a job that fails its last attempt is nacked
// without requeue.
type Worker struct {
	url      string
	queue    string
	prefetch int
	runner   *Runner
	retries  Republisher
	log      zerolog.Logger

	sleep   func(context.Context, time.Duration) error
	pending sync.WaitGroup
}

// NewWorker builds a worker for queue at url.
func NewWorker(url, queue string, runner *Runner, retries Republisher, log zerolog.Logger) *Worker {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Worker{
		url:      url,
		queue:    queue,
		prefetch: 10,
		runner:   runner,
		retries:  retries,
		log:      log.With().Str("component", "worker").Logger(),
		sleep:    sleepCtx,
	}
}

// Run dials the broker and consumes until ctx is cancelled, reconnecting
// with exponential backoff whenever the connection drops.
func (w *Worker) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			w.pending.Wait()
			return nil
		}
		conn, err := amqp.Dial(w.url)
		if err != nil {
			w.log.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to dial broker")
			if w.sleep(ctx, backoff) != nil {
				continue
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = w.consume(ctx, conn)
		_ = conn.Close()
		if err != nil && ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("consume loop ended; reconnecting")
			_ = w.sleep(ctx, 2*time.Second)
		}
	}
}

func (w *Worker) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		w.log.Warn().Err(err).Msg("set QoS failed")
	}
	if err := declare(ch, w.queue); err != nil {
		return err
	}
	msgs, err := ch.Consume(w.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	w.log.Info().Str("queue", w.queue).Msg("consuming jobs")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if w.Handle(ctx, d.Body) {
				_ = d.Ack(false)
			} else {
				_ = d.Nack(false, false)
			}
		}
	}
}

// Handle processes one delivery body and reports whether to ack it.
func (w *Worker) Handle(ctx context.Context, body []byte) bool {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil || job.Name == "" {
		w.log.Error().Err(err).Msg("malformed job dropped")
		return false
	}
	if job.Attempt <= 0 {
		job.Attempt = 1
	}

	outcome, _ := w.runner.Run(ctx, &job)
	switch outcome {
	case Done:
		return true
	case Retry:
		w.scheduleRetry(ctx, job)
		return true
	default:
		return false
	}
}

func (w *Worker) scheduleRetry(ctx context.Context, job Job) {
	delay := w.runner.Delay(job.Attempt)
	next := job
	next.Attempt++
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		// Retries outlive the consume loop so a reconnect does not lose them.
		rctx := context.WithoutCancel(ctx)
		_ = w.sleep(ctx, delay)
		if err := w.retries.Publish(rctx, &next); err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("republish failed; job lost")
			w.runner.Record(rctx, Progress{ID: job.ID, Name: job.Name, State: StateFailed, Attempt: job.Attempt, Error: err.Error()})
			return
		}
		w.runner.Record(rctx, Progress{ID: next.ID, Name: next.Name, State: StateQueued, Attempt: next.Attempt})
	}()
}

// Wait blocks until scheduled retries have been republished.
func (w *Worker) Wait() { w.pending.Wait() }
