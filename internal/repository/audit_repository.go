package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/iliyamo/camp-registration/internal/model"
)

// AuditRepo appends to and reads from audit_logs.  Rows are never
// updated or deleted.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo returns a new AuditRepo bound to the provided database.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

// CreateTx inserts an audit entry inside the caller's transaction so it
// commits or rolls back with the change it describes.
func (r *AuditRepo) CreateTx(ctx context.Context, tx *sql.Tx, entry *model.AuditLog) error {
	var detail any
	if len(entry.Detail) > 0 {
		detail = string(entry.Detail)
	}
	var regID any
	if entry.RegistrationID != nil {
		regID = *entry.RegistrationID
	}
	now := nowUTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO audit_logs (actor_id, actor_ip, action, registration_id, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ActorID, entry.ActorIP, string(entry.Action), regID, detail, dbTime(now))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = uint64(id)
	entry.CreatedAt = now
	return nil
}

// ListByRegistration returns the audit trail of one registration, oldest
// first.  It keeps working after the registration row is deleted.
func (r *AuditRepo) ListByRegistration(ctx context.Context, registrationID uint64) ([]model.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, actor_id, actor_ip, action, registration_id, detail, created_at
		 FROM audit_logs WHERE registration_id = ? ORDER BY id`,
		registrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.AuditLog{}
	for rows.Next() {
		var (
			e      model.AuditLog
			action string
			regID  sql.NullInt64
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorIP, &action, &regID, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = model.AuditAction(action)
		if regID.Valid {
			id := uint64(regID.Int64)
			e.RegistrationID = &id
		}
		if detail.Valid {
			e.Detail = json.RawMessage(detail.String)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
