package repository

import (
	"context"
	"database/sql"
	"errors"
)

// CheckpointRepo stores the outcome of a confirmation's storage phase so a
// retried confirmation can skip straight to the database phase.  The
// payload is opaque JSON owned by the service layer.
type CheckpointRepo struct {
	db *sql.DB
}

// NewCheckpointRepo returns a new CheckpointRepo bound to the provided database.
func NewCheckpointRepo(db *sql.DB) *CheckpointRepo { return &CheckpointRepo{db: db} }

// Save writes or overwrites the checkpoint for a registration.
func (r *CheckpointRepo) Save(ctx context.Context, registrationID uint64, payload []byte) error {
	_, err := r.db.ExecContext(ctx,
		`REPLACE INTO confirmation_checkpoints (registration_id, payload, created_at) VALUES (?, ?, ?)`,
		registrationID, string(payload), dbTime(nowUTC()))
	return err
}

// Get returns the stored payload or ErrCheckpointNotFound.
func (r *CheckpointRepo) Get(ctx context.Context, registrationID uint64) ([]byte, error) {
	var payload string
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM confirmation_checkpoints WHERE registration_id = ?`, registrationID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// DeleteTx removes the checkpoint inside the confirming transaction.  A
// missing row is not an error.
func (r *CheckpointRepo) DeleteTx(ctx context.Context, tx *sql.Tx, registrationID uint64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM confirmation_checkpoints WHERE registration_id = ?`, registrationID)
	return err
}
