package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/camp-registration/internal/model"
)

// TentBookingRepo provides data access to the tent_bookings table.
// Bookings are created once, at confirmation, and never expire.
type TentBookingRepo struct {
	db *sql.DB
}

// NewTentBookingRepo returns a new TentBookingRepo bound to the provided database.
func NewTentBookingRepo(db *sql.DB) *TentBookingRepo { return &TentBookingRepo{db: db} }

// CreateFromReservationsTx writes one booking per reservation.
func (r *TentBookingRepo) CreateFromReservationsTx(ctx context.Context, tx *sql.Tx, list []model.TentReservation) error {
	if len(list) == 0 {
		return nil
	}
	now := dbTime(nowUTC())
	var sb strings.Builder
	sb.WriteString(`INSERT INTO tent_bookings (registration_id, tent_type_id, quantity, created_at) VALUES `)
	args := make([]any, 0, len(list)*4)
	for i, res := range list {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?)")
		args = append(args, res.RegistrationID, res.TentTypeID, res.Quantity, now)
	}
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

// ListByRegistration returns the bookings of a registration ordered by id.
func (r *TentBookingRepo) ListByRegistration(ctx context.Context, registrationID uint64) ([]model.TentBooking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, registration_id, tent_type_id, quantity, created_at FROM tent_bookings WHERE registration_id = ? ORDER BY id`,
		registrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.TentBooking{}
	for rows.Next() {
		var b model.TentBooking
		if err := rows.Scan(&b.ID, &b.RegistrationID, &b.TentTypeID, &b.Quantity, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}
