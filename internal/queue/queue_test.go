package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/camp-registration/internal/metrics"
	"github.com/iliyamo/camp-registration/internal/model"
	"github.com/iliyamo/camp-registration/internal/service"
	"github.com/iliyamo/camp-registration/internal/storage"
	"github.com/iliyamo/camp-registration/internal/testutil"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newRunner(t *testing.T, h Handlers, maxAttempts int) (*Runner, *MemoryProgress, *metrics.Metrics) {
	t.Helper()
	progress := NewMemoryProgress()
	m := metrics.New(prometheus.NewRegistry())
	r := NewRunner(h, progress, RunnerConfig{MaxAttempts: maxAttempts, Backoff: time.Second, MaxBackoff: 10 * time.Second}, m, zerolog.New(zerolog.NewTestWriter(t)))
	return r, progress, m
}

func TestJobEnvelope(t *testing.T) {
	job, err := NewJob(service.JobStoragePurge, service.PurgePayload{Folder: "sd-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 1, job.Attempt)

	raw, err := json.Marshal(job)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	for _, k := range []string{"id", "name", "payload", "attempt", "enqueued_at"} {
		assert.Contains(t, wire, k)
	}

	var p service.PurgePayload
	require.NoError(t, job.Decode(&p))
	assert.Equal(t, "sd-1", p.Folder)

	empty, err := NewJob(service.JobReservationsSweep, nil)
	require.NoError(t, err)
	require.NoError(t, empty.Decode(&p))
}

func TestRunnerDelayDoublesAndCaps(t *testing.T) {
	r, _, _ := newRunner(t, nil, 5)
	assert.Equal(t, time.Second, r.Delay(1))
	assert.Equal(t, 2*time.Second, r.Delay(2))
	assert.Equal(t, 8*time.Second, r.Delay(4))
	assert.Equal(t, 10*time.Second, r.Delay(9))
}

func TestRunnerOutcomes(t *testing.T) {
	boom := errors.New("boom")
	h := Handlers{
		"ok": func(_ context.Context, _ *Job, report Reporter) error {
			report(50, "halfway")
			return nil
		},
		"flaky":  func(context.Context, *Job, Reporter) error { return boom },
		"broken": func(context.Context, *Job, Reporter) error { return Permanent(boom) },
	}
	r, progress, m := newRunner(t, h, 3)
	ctx := context.Background()

	out, err := r.Run(ctx, &Job{ID: "1", Name: "ok", Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, Done, out)
	p, err := progress.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, p.State)
	assert.Equal(t, 100, p.Percent)

	out, err = r.Run(ctx, &Job{ID: "2", Name: "flaky", Attempt: 1})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Retry, out)
	p, _ = progress.Get(ctx, "2")
	assert.Equal(t, StateRetrying, p.State)

	out, _ = r.Run(ctx, &Job{ID: "2", Name: "flaky", Attempt: 3})
	assert.Equal(t, Drop, out)
	p, _ = progress.Get(ctx, "2")
	assert.Equal(t, StateFailed, p.State)
	assert.Equal(t, "boom", p.Error)

	out, _ = r.Run(ctx, &Job{ID: "3", Name: "broken", Attempt: 1})
	assert.Equal(t, Drop, out)

	out, _ = r.Run(ctx, &Job{ID: "4", Name: "nope", Attempt: 1})
	assert.Equal(t, Drop, out)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.JobsProcessed.WithLabelValues("ok", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.JobsProcessed.WithLabelValues("flaky", "retry")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.JobsProcessed.WithLabelValues("flaky", "failed")))
}

func TestInlineRetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	h := Handlers{"flaky": func(context.Context, *Job, Reporter) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}}
	r, progress, _ := newRunner(t, h, 5)
	d := NewInline(r)
	d.sleep = noSleep

	id, err := d.Enqueue(context.Background(), "flaky", nil)
	require.NoError(t, err)
	d.Wait()

	assert.Equal(t, 3, calls)
	p, err := progress.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, p.State)
	assert.Equal(t, 3, p.Attempt)
}

func TestInlineGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	h := Handlers{"bad": func(context.Context, *Job, Reporter) error {
		calls++
		return errors.New("always")
	}}
	r, progress, _ := newRunner(t, h, 2)
	d := NewInline(r)
	d.sleep = noSleep

	id, err := d.Enqueue(context.Background(), "bad", nil)
	require.NoError(t, err)
	d.Wait()
	assert.Equal(t, 2, calls)
	p, err := progress.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, p.State)
}

type fakeRepublisher struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (f *fakeRepublisher) Publish(_ context.Context, job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, *job)
	return nil
}

func TestWorkerHandleAcksRetriesAndDrops(t *testing.T) {
	h := Handlers{
		"ok":    func(context.Context, *Job, Reporter) error { return nil },
		"flaky": func(context.Context, *Job, Reporter) error { return errors.New("later") },
	}
	r, progress, _ := newRunner(t, h, 2)
	pub := &fakeRepublisher{}
	w := NewWorker("amqp://unused", "", r, pub, zerolog.New(zerolog.NewTestWriter(t)))
	w.sleep = noSleep
	ctx := context.Background()

	body := func(j Job) []byte {
		b, err := json.Marshal(j)
		require.NoError(t, err)
		return b
	}

	assert.True(t, w.Handle(ctx, body(Job{ID: "a", Name: "ok", Attempt: 1})))
	assert.False(t, w.Handle(ctx, []byte("{not json")))

	assert.True(t, w.Handle(ctx, body(Job{ID: "b", Name: "flaky", Attempt: 1})))
	w.Wait()
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, "b", pub.jobs[0].ID)
	assert.Equal(t, 2, pub.jobs[0].Attempt)
	p, err := progress.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, StateQueued, p.State)

	// Last attempt: nack without requeue.
	assert.False(t, w.Handle(ctx, body(pub.jobs[0])))
	w.Wait()
	assert.Len(t, pub.jobs, 1)
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, name string, _ any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	return "id", nil
}

func TestSchedulerRegistersSpecs(t *testing.T) {
	s := NewScheduler(&recordingEnqueuer{}, zerolog.Nop())
	require.NoError(t, s.Add("@every 5m", service.JobReservationsSweep, nil))
	require.NoError(t, s.Add("0 3 * * *", service.JobDraftsCleanup, nil))
	assert.Error(t, s.Add("every now and then", "x", nil))
	assert.Equal(t, 2, s.Entries())
}

func TestMemoryProgressMissing(t *testing.T) {
	_, err := NewMemoryProgress().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestNotificationLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "registrations.log")
	n := NewNotificationLog(path)
	ev := service.ConfirmedEvent{
		RegistrationID: 7,
		OrderID:        "REG-20260101-00007",
		SchoolName:     "SD Ceria",
		Participants:   12,
		GrandTotal:     300000000,
		Bookings:       []model.TentLine{{TentTypeID: 2, Quantity: 3}},
		ConfirmedAt:    "2026-01-01T08:00:00Z",
	}
	require.NoError(t, n.Write(ev))
	require.NoError(t, n.Write(ev))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "order=REG-20260101-00007")
	assert.Contains(t, lines[0], `school="SD Ceria"`)
	assert.Contains(t, lines[0], "tents=[2x3]")
}

func TestServiceHandlers(t *testing.T) {
	db := testutil.OpenDB(t)
	repos := service.NewRepos(db)
	store := storage.NewMemoryGateway()
	log := zerolog.New(zerolog.NewTestWriter(t))
	m := metrics.New(prometheus.NewRegistry())
	ledger := service.NewLedger(db, repos, time.Hour, m, log)
	regs := service.NewRegistrations(db, repos, ledger, store, nil, service.RegistrationConfig{}, log)
	svc := Services{
		Sweeper:       service.NewSweeper(db, repos, nil, m, log),
		Cleaner:       service.NewCleaner(db, repos, ledger, store, nil, m, log),
		Finalizer:     service.NewFinalizer(db, repos, store, nil, service.FinalizerConfig{}, m, log),
		Registrations: regs,
		DraftMaxAge:   24 * time.Hour,
	}
	h := svc.Handlers()
	for _, name := range []string{
		service.JobReservationsSweep, service.JobDraftsCleanup, service.JobStoragePurge,
		service.JobReceiptGenerate, service.JobRegistrationConfirm, service.JobRegistrationConfirmed,
	} {
		assert.Contains(t, h, name)
	}

	ctx := context.Background()
	nop := func(int, string) {}
	require.NoError(t, store.Upload(ctx, "temp/sd-7/photos/a.jpg", []byte("x"), ""))
	job, err := NewJob(service.JobStoragePurge, service.PurgePayload{Folder: "sd-7"})
	require.NoError(t, err)
	require.NoError(t, h[service.JobStoragePurge](ctx, job, nop))
	assert.Empty(t, store.Keys())

	job, err = NewJob(service.JobReservationsSweep, nil)
	require.NoError(t, err)
	require.NoError(t, h[service.JobReservationsSweep](ctx, job, nop))

	// A receipt for a missing registration is never retried.
	job, err = NewJob(service.JobReceiptGenerate, service.RegistrationPayload{RegistrationID: 404})
	require.NoError(t, err)
	err = h[service.JobReceiptGenerate](ctx, job, nop)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, service.ErrNotFound)

	reg, err := regs.Create(ctx, service.SystemActor, service.CreateInput{SchoolName: "SD 8"})
	require.NoError(t, err)
	job, err = NewJob(service.JobRegistrationConfirm, service.RegistrationPayload{RegistrationID: reg.ID})
	require.NoError(t, err)
	err = h[service.JobRegistrationConfirm](ctx, job, nop)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, service.ErrInvalidState)
}
