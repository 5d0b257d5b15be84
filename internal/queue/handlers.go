package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/camp-registration/internal/service"
)

// Services are the targets of the built-in jobs.
type Services struct {
	Sweeper       *service.Sweeper
	Cleaner       *service.Cleaner
	Finalizer     *service.Finalizer
	Registrations *service.Registrations
	Notifications *NotificationLog
	DraftMaxAge   time.Duration
}

// Handlers binds every job name to its service call.  Errors that a
// retry cannot fix are marked Permanent.
func (s Services) Handlers() Handlers {
	return Handlers{
		service.JobReservationsSweep: func(ctx context.Context, _ *Job, report Reporter) error {
			res, err := s.Sweeper.Run(ctx)
			if err != nil {
				return err
			}
			report(100, fmt.Sprintf("released %d of %d expired reservations", res.Released, res.Scanned))
			return nil
		},
		service.JobDraftsCleanup: func(ctx context.Context, _ *Job, report Reporter) error {
			res, err := s.Cleaner.CleanupStaleDrafts(ctx, s.DraftMaxAge)
			if err != nil {
				return err
			}
			report(100, fmt.Sprintf("deleted %d of %d stale drafts", res.Deleted, res.Found))
			return nil
		},
		service.JobStoragePurge: func(ctx context.Context, job *Job, report Reporter) error {
			var p service.PurgePayload
			if err := job.Decode(&p); err != nil {
				return Permanent(err)
			}
			if p.Folder == "" {
				return Permanent(errors.New("purge job without folder"))
			}
			res := s.Cleaner.PurgeStorage(ctx, p.Folder)
			report(100, fmt.Sprintf("removed %d objects", res.Removed))
			if res.Failed > 0 {
				return fmt.Errorf("purge %s: %d folders failed", p.Folder, res.Failed)
			}
			return nil
		},
		service.JobReceiptGenerate: func(ctx context.Context, job *Job, report Reporter) error {
			var p service.RegistrationPayload
			if err := job.Decode(&p); err != nil {
				return Permanent(err)
			}
			key, err := s.Registrations.GenerateReceipt(ctx, p.RegistrationID)
			if err != nil {
				return classify(err)
			}
			report(100, key)
			return nil
		},
		service.JobRegistrationConfirm: func(ctx context.Context, job *Job, report Reporter) error {
			var p service.RegistrationPayload
			if err := job.Decode(&p); err != nil {
				return Permanent(err)
			}
			actor := service.SystemActor
			if p.ActorID != "" {
				actor = service.Actor{ID: p.ActorID, IP: p.ActorIP}
			}
			report(10, "promoting assets")
			res, err := s.Finalizer.Confirm(ctx, actor, p.RegistrationID)
			if err != nil {
				return classify(err)
			}
			report(100, fmt.Sprintf("confirmed with %d move failures", res.MoveFailures))
			return nil
		},
		service.JobRegistrationConfirmed: func(ctx context.Context, job *Job, report Reporter) error {
			var ev service.ConfirmedEvent
			if err := job.Decode(&ev); err != nil {
				return Permanent(err)
			}
			if s.Notifications == nil {
				return nil
			}
			return s.Notifications.Write(ev)
		},
	}
}

// classify marks outcomes that will not change on retry.
func classify(err error) error {
	if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrInvalidState) || service.IsValidation(err) {
		return Permanent(err)
	}
	return err
}

// NotificationLog appends one line per confirmed registration to a file,
// for the staff who prepare the camp.
type NotificationLog struct {
	path string
	mu   sync.Mutex
}

// NewNotificationLog writes to path, creating its directory on demand.
func NewNotificationLog(path string) *NotificationLog {
	if path == "" {
		path = filepath.Join("logs", "registrations.log")
	}
	return &NotificationLog{path: path}
}

// Write appends ev.
func (n *NotificationLog) Write(ev service.ConfirmedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(n.path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(n.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	tents := make([]string, 0, len(ev.Bookings))
	for _, b := range ev.Bookings {
		tents = append(tents, fmt.Sprintf("%dx%d", b.TentTypeID, b.Quantity))
	}
	line := fmt.Sprintf("[%s] Registration confirmed | order=%s | registration_id=%d | school=%q | email=%s | participants=%d | total=%d | tents=[%s] | move_failures=%d\n",
		ev.ConfirmedAt, ev.OrderID, ev.RegistrationID, ev.SchoolName, ev.ContactEmail, ev.Participants, ev.GrandTotal, strings.Join(tents, ","), ev.MoveFailures)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
