package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-registration/internal/metrics"
)

// Outcome tells the transport what to do with a job after one attempt.
type Outcome int

const (
	Done Outcome = iota
	Retry
	Drop
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RunnerConfig tunes retries.
type RunnerConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// Runner executes single job attempts and records their progress.  The
// transports (Worker, Inline) decide how a retry is delivered.
type Runner struct {
	handlers Handlers
	progress ProgressStore
	cfg      RunnerConfig
	m        *metrics.Metrics
	log      zerolog.Logger
}

// NewRunner builds a runner.  progress and m may be nil.
func NewRunner(handlers Handlers, progress ProgressStore, cfg RunnerConfig, m *metrics.Metrics, log zerolog.Logger) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return &Runner{
		handlers: handlers,
		progress: progress,
		cfg:      cfg,
		m:        m,
		log:      log.With().Str("component", "jobs").Logger(),
	}
}

// Delay is the wait before the given attempt is retried: Backoff doubled
// per previous attempt, capped at MaxBackoff.
func (r *Runner) Delay(attempt int) time.Duration {
	d := r.cfg.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return d
}

// Record stores p, logging instead of failing when the store is down.
func (r *Runner) Record(ctx context.Context, p Progress) {
	if r.progress == nil {
		return
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	if err := r.progress.Set(ctx, p); err != nil {
		r.log.Warn().Err(err).Str("job_id", p.ID).Msg("record job progress")
	}
}

// Run executes one attempt of job.
func (r *Runner) Run(ctx context.Context, job *Job) (Outcome, error) {
	log := r.log.With().Str("job_id", job.ID).Str("job", job.Name).Int("attempt", job.Attempt).Logger()
	base := Progress{ID: job.ID, Name: job.Name, Attempt: job.Attempt}

	h, ok := r.handlers[job.Name]
	if !ok {
		err := fmt.Errorf("no handler for job %q", job.Name)
		base.State, base.Error = StateFailed, err.Error()
		r.Record(ctx, base)
		r.count(job.Name, "unknown")
		log.Error().Msg("unknown job dropped")
		return Drop, err
	}

	running := base
	running.State = StateRunning
	r.Record(ctx, running)
	report := func(percent int, message string) {
		p := running
		p.Percent, p.Message = clampPercent(percent), message
		r.Record(ctx, p)
	}

	start := time.Now()
	err := h(ctx, job, report)
	if r.m != nil {
		r.m.JobDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
	}

	switch {
	case err == nil:
		base.State, base.Percent = StateSucceeded, 100
		r.Record(ctx, base)
		r.count(job.Name, "success")
		log.Info().Dur("took", time.Since(start)).Msg("job done")
		return Done, nil
	case IsPermanent(err) || job.Attempt >= r.cfg.MaxAttempts:
		base.State, base.Error = StateFailed, err.Error()
		r.Record(ctx, base)
		r.count(job.Name, "failed")
		log.Error().Err(err).Msg("job failed")
		return Drop, err
	default:
		base.State, base.Error = StateRetrying, err.Error()
		r.Record(ctx, base)
		r.count(job.Name, "retry")
		log.Warn().Err(err).Dur("retry_in", r.Delay(job.Attempt)).Msg("job attempt failed")
		return Retry, err
	}
}

func (r *Runner) count(job, result string) {
	if r.m != nil {
		r.m.JobsProcessed.WithLabelValues(job, result).Inc()
	}
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
