package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/camp-registration/internal/model"
)

// TentTypeRepo provides data access to the tent_types table.  Stock is
// only ever changed through DecrementTx and IncrementTx, whose WHERE
// clauses keep stock_available within [0, stock_initial].
type TentTypeRepo struct {
	db *sql.DB
}

// NewTentTypeRepo returns a new TentTypeRepo bound to the provided database.
func NewTentTypeRepo(db *sql.DB) *TentTypeRepo { return &TentTypeRepo{db: db} }

const tentTypeColumns = `id, label, capacity, price, stock_initial, stock_available`

func scanTentType(s rowScanner) (*model.TentType, error) {
	var t model.TentType
	if err := s.Scan(&t.ID, &t.Label, &t.Capacity, &t.Price, &t.StockInitial, &t.StockAvailable); err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a tent type with stock_available equal to stock_initial.
func (r *TentTypeRepo) Create(ctx context.Context, t *model.TentType) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO tent_types (label, capacity, price, stock_initial, stock_available) VALUES (?, ?, ?, ?, ?)`,
		t.Label, t.Capacity, t.Price, t.StockInitial, t.StockInitial)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	t.StockAvailable = t.StockInitial
	return nil
}

// List returns every tent type ordered by id.
func (r *TentTypeRepo) List(ctx context.Context) ([]model.TentType, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tentTypeColumns+` FROM tent_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.TentType{}
	for rows.Next() {
		t, err := scanTentType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetByID loads one tent type.
func (r *TentTypeRepo) GetByID(ctx context.Context, id uint64) (*model.TentType, error) {
	t, err := scanTentType(r.db.QueryRowContext(ctx, `SELECT `+tentTypeColumns+` FROM tent_types WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTentTypeNotFound
	}
	return t, err
}

// GetByIDsTx loads the given tent types keyed by id.  Missing ids are
// simply absent from the map.
func (r *TentTypeRepo) GetByIDsTx(ctx context.Context, tx *sql.Tx, ids []uint64) (map[uint64]model.TentType, error) {
	out := make(map[uint64]model.TentType, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT `+tentTypeColumns+` FROM tent_types WHERE id IN (`+placeholders(len(ids))+`)`,
		uint64Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTentType(rows)
		if err != nil {
			return nil, err
		}
		out[t.ID] = *t
	}
	return out, rows.Err()
}

// DecrementTx takes quantity units of stock.  When fewer than quantity
// units remain the update matches nothing and ErrInsufficientStock is
// returned; the caller must roll back.
func (r *TentTypeRepo) DecrementTx(ctx context.Context, tx *sql.Tx, id uint64, quantity int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tent_types SET stock_available = stock_available - ? WHERE id = ? AND stock_available >= ?`,
		quantity, id, quantity)
	return expectOne(res, err, ErrInsufficientStock)
}

// IncrementTx returns quantity units of stock.  ErrStockOverflow is
// returned if that would exceed stock_initial.
func (r *TentTypeRepo) IncrementTx(ctx context.Context, tx *sql.Tx, id uint64, quantity int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tent_types SET stock_available = stock_available + ? WHERE id = ? AND stock_available + ? <= stock_initial`,
		quantity, id, quantity)
	return expectOne(res, err, ErrStockOverflow)
}
