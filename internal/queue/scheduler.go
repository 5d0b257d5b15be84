package queue

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler enqueues repeatable jobs on cron schedules.  It only enqueues;
// the worker runs the jobs, so a slow sweep never blocks the schedule.
type Scheduler struct {
	cron *cron.Cron
	jobs Enqueuer
	log  zerolog.Logger
}

// NewScheduler builds a stopped scheduler.
func NewScheduler(jobs Enqueuer, log zerolog.Logger) *Scheduler {
	l := log.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log: l}
	return &Scheduler{
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		jobs: jobs,
		log:  l,
	}
}

// Add registers name to be enqueued with payload on spec, a standard
// five-field cron expression or a descriptor such as "@every 5m".
func (s *Scheduler) Add(spec, name string, payload any) error {
	_, err := s.cron.AddFunc(spec, func() {
		id, err := s.jobs.Enqueue(context.Background(), name, payload)
		if err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("enqueue scheduled job")
			return
		}
		s.log.Debug().Str("job", name).Str("job_id", id).Msg("scheduled job enqueued")
	})
	if err != nil {
		return fmt.Errorf("schedule %s at %q: %w", name, spec, err)
	}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("job scheduled")
	return nil
}

// Entries is the number of registered schedules.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler; the returned context is done once running
// callbacks have returned.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
