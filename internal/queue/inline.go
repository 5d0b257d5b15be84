package queue

import (
	"context"
	"sync"
	"time"
)

// Inline runs jobs in-process on their own goroutine.  It is the
// dispatcher used when no broker is configured, and it retries with the
// same backoff as the worker.
type Inline struct {
	runner *Runner
	sleep  func(context.Context, time.Duration) error
	wg     sync.WaitGroup
}

// NewInline returns a dispatcher backed by runner.
func NewInline(runner *Runner) *Inline {
	return &Inline{runner: runner, sleep: sleepCtx}
}

// Enqueue starts the job and returns its id immediately.  The job keeps
// running after ctx is cancelled.
func (d *Inline) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	job, err := NewJob(name, payload)
	if err != nil {
		return "", err
	}
	jctx := context.WithoutCancel(ctx)
	d.runner.Record(jctx, Progress{ID: job.ID, Name: name, State: StateQueued, Attempt: job.Attempt, UpdatedAt: job.EnqueuedAt})

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(jctx, job)
	}()
	return job.ID, nil
}

func (d *Inline) run(ctx context.Context, job *Job) {
	for {
		outcome, _ := d.runner.Run(ctx, job)
		if outcome != Retry {
			return
		}
		if d.sleep(ctx, d.runner.Delay(job.Attempt)) != nil {
			return
		}
		job.Attempt++
	}
}

// Wait blocks until every started job has finished.
func (d *Inline) Wait() { d.wg.Wait() }
