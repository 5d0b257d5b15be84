package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/camp-registration/internal/model"
)

// TentReservationRepo provides data access to the tent_reservations table.
// Reservations are soft holds: the row exists only while the matching
// stock is decremented, so every delete here must be paired with an
// increment by the caller in the same transaction.
type TentReservationRepo struct {
	db *sql.DB
}

// NewTentReservationRepo returns a new TentReservationRepo bound to the provided database.
func NewTentReservationRepo(db *sql.DB) *TentReservationRepo { return &TentReservationRepo{db: db} }

const reservationColumns = `id, registration_id, tent_type_id, quantity, expires_at, created_at`

func scanReservation(s rowScanner) (*model.TentReservation, error) {
	var r model.TentReservation
	if err := s.Scan(&r.ID, &r.RegistrationID, &r.TentTypeID, &r.Quantity, &r.ExpiresAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.ExpiresAt = r.ExpiresAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func listReservations(ctx context.Context, q queryer, registrationID uint64) ([]model.TentReservation, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM tent_reservations WHERE registration_id = ? ORDER BY id`,
		registrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.TentReservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// ListByRegistration returns the reservations held by a registration.
func (r *TentReservationRepo) ListByRegistration(ctx context.Context, registrationID uint64) ([]model.TentReservation, error) {
	return listReservations(ctx, r.db, registrationID)
}

// ListByRegistrationTx is ListByRegistration inside an existing transaction.
func (r *TentReservationRepo) ListByRegistrationTx(ctx context.Context, tx *sql.Tx, registrationID uint64) ([]model.TentReservation, error) {
	return listReservations(ctx, tx, registrationID)
}

// GetByIDTx loads one reservation.  ErrReservationNotFound means another
// worker already removed it.
func (r *TentReservationRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.TentReservation, error) {
	res, err := scanReservation(tx.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM tent_reservations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	return res, err
}

// DeleteByIDTx removes one reservation.  It returns ErrReservationNotFound
// when the row was already gone, which callers treat as "nothing to
// release".
func (r *TentReservationRepo) DeleteByIDTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tent_reservations WHERE id = ?`, id)
	return expectOne(res, err, ErrReservationNotFound)
}

// DeleteExpiredByIDTx removes one reservation only if it is still expired
// at now.  A row that is gone or was extended since it was selected
// yields ErrReservationNotFound.
func (r *TentReservationRepo) DeleteExpiredByIDTx(ctx context.Context, tx *sql.Tx, id uint64, now time.Time) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tent_reservations WHERE id = ? AND expires_at < ?`, id, dbTime(now))
	return expectOne(res, err, ErrReservationNotFound)
}

// DeleteByRegistrationTx removes whatever reservations remain for a
// registration and returns the count.
func (r *TentReservationRepo) DeleteByRegistrationTx(ctx context.Context, tx *sql.Tx, registrationID uint64) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM tent_reservations WHERE registration_id = ?`, registrationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateBulkTx inserts one reservation per line, all expiring at expiresAt.
// Passing an empty slice has no effect.
func (r *TentReservationRepo) CreateBulkTx(ctx context.Context, tx *sql.Tx, registrationID uint64, lines []model.TentLine, expiresAt time.Time) error {
	if len(lines) == 0 {
		return nil
	}
	now := dbTime(nowUTC())
	var sb strings.Builder
	sb.WriteString(`INSERT INTO tent_reservations (registration_id, tent_type_id, quantity, expires_at, created_at) VALUES `)
	args := make([]any, 0, len(lines)*5)
	for i, l := range lines {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, registrationID, l.TentTypeID, l.Quantity, dbTime(expiresAt), now)
	}
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

// ExtendTx pushes the expiry of every reservation of a registration to
// until.
func (r *TentReservationRepo) ExtendTx(ctx context.Context, tx *sql.Tx, registrationID uint64, until time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE tent_reservations SET expires_at = ? WHERE registration_id = ?`,
		dbTime(until), registrationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListExpiredIDs returns up to limit ids greater than afterID, in id
// order, of reservations whose expires_at is before now.
func (r *TentReservationRepo) ListExpiredIDs(ctx context.Context, now time.Time, afterID uint64, limit int) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM tent_reservations WHERE expires_at < ? AND id > ? ORDER BY id LIMIT ?`,
		dbTime(now), afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
