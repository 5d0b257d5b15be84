package service

import (
	"database/sql"
	"time"

	"github.com/iliyamo/camp-registration/internal/repository"
)

// Repos bundles the repositories every service needs.
type Repos struct {
	Registrations *repository.RegistrationRepo
	People        *repository.PersonRepo
	TentTypes     *repository.TentTypeRepo
	Reservations  *repository.TentReservationRepo
	Bookings      *repository.TentBookingRepo
	Audits        *repository.AuditRepo
	Checkpoints   *repository.CheckpointRepo
}

// NewRepos binds all repositories to db.
func NewRepos(db *sql.DB) Repos {
	return Repos{
		Registrations: repository.NewRegistrationRepo(db),
		People:        repository.NewPersonRepo(db),
		TentTypes:     repository.NewTentTypeRepo(db),
		Reservations:  repository.NewTentReservationRepo(db),
		Bookings:      repository.NewTentBookingRepo(db),
		Audits:        repository.NewAuditRepo(db),
		Checkpoints:   repository.NewCheckpointRepo(db),
	}
}

// Clock returns the current time in UTC.  Services keep one so tests can
// move time forward.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
