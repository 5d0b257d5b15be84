package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/camp-registration/internal/model"
)

// PersonRepo provides data access to the participants and companions
// tables.  Both lists are bulk-replaced whenever a spreadsheet is
// processed, so there is no per-row update besides the photo path.
type PersonRepo struct {
	db *sql.DB
}

// NewPersonRepo returns a new PersonRepo bound to the provided database.
func NewPersonRepo(db *sql.DB) *PersonRepo { return &PersonRepo{db: db} }

const personColumns = `name, birth_place, birth_date, address, blood_type, entry_year, phone, gender`

func personArgs(p model.Person) []any {
	return []any{p.Name, p.BirthPlace, nullDate(p.BirthDate), p.Address, p.BloodType, p.EntryYear, p.Phone, p.Gender}
}

// ReplaceParticipantsTx deletes every participant of the registration and
// inserts the given rows.  The caller owns the transaction.
func (r *PersonRepo) ReplaceParticipantsTx(ctx context.Context, tx *sql.Tx, registrationID uint64, list []model.Participant) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE registration_id = ?`, registrationID); err != nil {
		return err
	}
	if len(list) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO participants (registration_id, ` + personColumns + `, photo_path) VALUES `)
	args := make([]any, 0, len(list)*10)
	for i, p := range list {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, registrationID)
		args = append(args, personArgs(p.Person)...)
		args = append(args, nullString(p.PhotoPath))
	}
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

// ReplaceCompanionsTx is ReplaceParticipantsTx for companions.
func (r *PersonRepo) ReplaceCompanionsTx(ctx context.Context, tx *sql.Tx, registrationID uint64, list []model.Companion) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM companions WHERE registration_id = ?`, registrationID); err != nil {
		return err
	}
	if len(list) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO companions (registration_id, ` + personColumns + `) VALUES `)
	args := make([]any, 0, len(list)*9)
	for i, c := range list {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, registrationID)
		args = append(args, personArgs(c.Person)...)
	}
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ListParticipants returns the participants of a registration ordered by id.
func (r *PersonRepo) ListParticipants(ctx context.Context, registrationID uint64) ([]model.Participant, error) {
	return listParticipants(ctx, r.db, registrationID)
}

// ListParticipantsTx is ListParticipants inside an existing transaction.
func (r *PersonRepo) ListParticipantsTx(ctx context.Context, tx *sql.Tx, registrationID uint64) ([]model.Participant, error) {
	return listParticipants(ctx, tx, registrationID)
}

func listParticipants(ctx context.Context, q queryer, registrationID uint64) ([]model.Participant, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, registration_id, `+personColumns+`, photo_path FROM participants WHERE registration_id = ? ORDER BY id`,
		registrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Participant{}
	for rows.Next() {
		var (
			p       model.Participant
			birth   sql.NullTime
			address sql.NullString
			photo   sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.RegistrationID, &p.Name, &p.BirthPlace, &birth, &address,
			&p.BloodType, &p.EntryYear, &p.Phone, &p.Gender, &photo); err != nil {
			return nil, err
		}
		p.BirthDate = ptrTime(birth)
		p.Address = address.String
		p.PhotoPath = ptrString(photo)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListCompanions returns the companions of a registration ordered by id.
func (r *PersonRepo) ListCompanions(ctx context.Context, registrationID uint64) ([]model.Companion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, registration_id, `+personColumns+` FROM companions WHERE registration_id = ? ORDER BY id`,
		registrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Companion{}
	for rows.Next() {
		var (
			c       model.Companion
			birth   sql.NullTime
			address sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.RegistrationID, &c.Name, &c.BirthPlace, &birth, &address,
			&c.BloodType, &c.EntryYear, &c.Phone, &c.Gender); err != nil {
			return nil, err
		}
		c.BirthDate = ptrTime(birth)
		c.Address = address.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// HeadCountTx counts participants and companions of a registration.
func (r *PersonRepo) HeadCountTx(ctx context.Context, tx *sql.Tx, registrationID uint64) (model.HeadCount, error) {
	var hc model.HeadCount
	err := tx.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM participants WHERE registration_id = ?),
		        (SELECT COUNT(*) FROM companions WHERE registration_id = ?)`,
		registrationID, registrationID,
	).Scan(&hc.Participants, &hc.Companions)
	return hc, err
}

// RewritePhotoPathTx replaces a participant photo path that equals from
// with to.  It returns the number of participants updated.
func (r *PersonRepo) RewritePhotoPathTx(ctx context.Context, tx *sql.Tx, registrationID uint64, from, to string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE participants SET photo_path = ? WHERE registration_id = ? AND photo_path = ?`,
		to, registrationID, from)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
