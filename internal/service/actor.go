package service

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/iliyamo/camp-registration/internal/model"
	"github.com/iliyamo/camp-registration/internal/repository"
)

// Actor identifies who performed a mutating operation.  Handlers build it
// from the authenticated admin and the request IP; background jobs use
// SystemActor.
type Actor struct {
	ID string
	IP string
}

// SystemActor is recorded for work started by the scheduler.
var SystemActor = Actor{ID: "system", IP: "127.0.0.1"}

// Enqueuer hands work to the background job queue and returns the job id.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
}

// Job names shared between the services, the API and the worker.
const (
	JobReservationsSweep     = "reservations.sweep"
	JobDraftsCleanup         = "drafts.cleanup"
	JobStoragePurge          = "storage.purge"
	JobReceiptGenerate       = "receipt.generate"
	JobRegistrationConfirm   = "registration.confirm"
	JobRegistrationConfirmed = "registration.confirmed"
)

// PurgePayload is the body of a storage.purge job.
type PurgePayload struct {
	Folder string `json:"folder"`
}

// RegistrationPayload is the body of jobs keyed by registration.
type RegistrationPayload struct {
	RegistrationID uint64 `json:"registration_id"`
	ActorID        string `json:"actor_id,omitempty"`
	ActorIP        string `json:"actor_ip,omitempty"`
}

// ConfirmedEvent is published after a registration is confirmed.  It
// carries enough for downstream consumers to log or notify without
// querying the database.
type ConfirmedEvent struct {
	RegistrationID uint64           `json:"registration_id"`
	OrderID        string           `json:"order_id"`
	SchoolName     string           `json:"school_name"`
	ContactEmail   string           `json:"contact_email"`
	GrandTotal     int64            `json:"grand_total"`
	Participants   int              `json:"participants"`
	Bookings       []model.TentLine `json:"bookings"`
	MoveFailures   int              `json:"move_failures"`
	ConfirmedAt    string           `json:"confirmed_at"`
}

// audit writes one audit row inside tx.
func audit(ctx context.Context, repo *repository.AuditRepo, tx *sql.Tx, actor Actor, action model.AuditAction, regID uint64, detail any) error {
	var raw json.RawMessage
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		raw = b
	}
	id := regID
	return repo.CreateTx(ctx, tx, &model.AuditLog{
		ActorID:        actor.ID,
		ActorIP:        actor.IP,
		Action:         action,
		RegistrationID: &id,
		Detail:         raw,
	})
}

// rollback is deferred by every transactional operation; it is a no-op
// after a successful commit.
func rollback(tx *sql.Tx, committed *bool) {
	if !*committed {
		_ = tx.Rollback()
	}
}
