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

// DefaultQueue is the durable queue shared by the API and the worker.
const DefaultQueue = "camp.jobs"

// declare makes sure the durable job queue exists.  It is idempotent.
func declare(ch *amqp.Channel, name string) error {
	if _, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	return nil
}

// Publisher publishes job envelopes to RabbitMQ over one long-lived
// connection, redialling after the broker drops it.  Messages are
// persistent.
type Publisher struct {
	url      string
	queue    string
	progress ProgressStore
	log      zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher does not dial; the first publish does.  progress may be nil.
func NewPublisher(url, queue string, progress ProgressStore, log zerolog.Logger) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Publisher{
		url:      url,
		queue:    queue,
		progress: progress,
		log:      log.With().Str("component", "publisher").Logger(),
	}
}

// Enqueue wraps payload in a new job, publishes it and records it as queued.
func (p *Publisher) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	job, err := NewJob(name, payload)
	if err != nil {
		return "", err
	}
	if err := p.Publish(ctx, job); err != nil {
		return "", err
	}
	if p.progress != nil {
		if err := p.progress.Set(ctx, Progress{ID: job.ID, Name: name, State: StateQueued, Attempt: job.Attempt, UpdatedAt: job.EnqueuedAt}); err != nil {
			p.log.Warn().Err(err).Str("job_id", job.ID).Msg("record queued job")
		}
	}
	return job.ID, nil
}

// Publish sends an existing envelope, e.g. a retry.  A failed publish on a
// stale channel is retried once on a fresh connection.
func (p *Publisher) Publish(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         job.Name,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for attempt := 0; attempt < 2; attempt++ {
		ch, err := p.channel()
		if err != nil {
			p.log.Error().Err(err).Str("job", job.Name).Msg("broker unavailable")
			return err
		}
		err = ch.PublishWithContext(ctx, "", p.queue, false, false, msg)
		if err == nil {
			return nil
		}
		p.log.Warn().Err(err).Str("job", job.Name).Msg("publish failed")
		p.reset()
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return err
		}
		if attempt == 1 {
			return fmt.Errorf("publish %s: %w", job.Name, err)
		}
	}
	return nil
}

// channel returns the open channel, dialling if needed.  Callers hold mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if err := declare(ch, p.queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Ping dials the broker if needed; used by the health check.
func (p *Publisher) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.channel()
	return err
}

// Close shuts the connection down.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
