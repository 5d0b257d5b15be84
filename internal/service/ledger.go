package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-registration/internal/metrics"
	"github.com/iliyamo/camp-registration/internal/model"
	"github.com/iliyamo/camp-registration/internal/repository"
)

// CapacitySlack is how many tent places a registration may book beyond its
// participants plus companions.
const CapacitySlack = 10

// ReservationSummary describes the holds a registration owns after
// Reserve.
type ReservationSummary struct {
	RegistrationID uint64                  `json:"registration_id"`
	Reservations   []model.TentReservation `json:"reservations"`
	TentCost       int64                   `json:"tent_cost"`
	GrandTotal     int64                   `json:"grand_total"`
	ExpiresAt      *time.Time              `json:"expires_at"`
	ReleasedUnits  int                     `json:"released_units"`
}

// Ledger owns tent stock.  stock_available only changes here, through the
// guarded decrement and increment, and always inside a transaction that
// also writes or deletes the matching reservation rows.
type Ledger struct {
	db      *sql.DB
	repos   Repos
	ttl     time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     Clock
}

// NewLedger returns a Ledger whose reservations live for ttl.
func NewLedger(db *sql.DB, repos Repos, ttl time.Duration, m *metrics.Metrics, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:      db,
		repos:   repos,
		ttl:     ttl,
		metrics: m,
		log:     log.With().Str("component", "ledger").Logger(),
		now:     systemClock,
	}
}

// mergeLines sums duplicate tent types, drops zero quantities and sorts by
// tent type id so concurrent reservations lock rows in the same order.
func mergeLines(lines []model.TentLine) ([]model.TentLine, error) {
	sum := make(map[uint64]int, len(lines))
	for _, l := range lines {
		if l.TentTypeID == 0 {
			return nil, Validation("tent type id is required")
		}
		if l.Quantity < 0 {
			return nil, Validation("quantity for tent type %d must not be negative", l.TentTypeID)
		}
		sum[l.TentTypeID] += l.Quantity
	}
	out := make([]model.TentLine, 0, len(sum))
	for id, q := range sum {
		if q > 0 {
			out = append(out, model.TentLine{TentTypeID: id, Quantity: q})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TentTypeID < out[j].TentTypeID })
	return out, nil
}

// Reserve replaces the registration's reservations with lines.  Existing
// holds are released first and new ones taken in the same transaction, so
// a failure (including insufficient stock on any line) leaves the previous
// reservations and stock untouched.
func (l *Ledger) Reserve(ctx context.Context, actor Actor, registrationID uint64, lines []model.TentLine) (*ReservationSummary, error) {
	merged, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &TransactionFailure{Op: "reserve tents", Err: err}
	}
	committed := false
	defer rollback(tx, &committed)

	summary, err := l.reserveTx(ctx, tx, actor, registrationID, merged)
	if err != nil {
		l.countReservation(err)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		l.countReservation(err)
		return nil, &TransactionFailure{Op: "reserve tents", Err: err}
	}
	committed = true
	l.countReservation(nil)
	l.log.Info().
		Uint64("registration_id", registrationID).
		Int("lines", len(merged)).
		Int64("tent_cost", summary.TentCost).
		Str("actor", actor.ID).
		Msg("tents reserved")
	return summary, nil
}

func (l *Ledger) reserveTx(ctx context.Context, tx *sql.Tx, actor Actor, registrationID uint64, lines []model.TentLine) (*ReservationSummary, error) {
	reg, err := l.repos.Registrations.GetByIDTx(ctx, tx, registrationID)
	if errors.Is(err, repository.ErrRegistrationNotFound) {
		return nil, fmt.Errorf("registration %d: %w", registrationID, ErrNotFound)
	}
	if err != nil {
		return nil, &TransactionFailure{Op: "reserve tents", Err: err}
	}
	if reg.Status != model.StatusDraft {
		return nil, fmt.Errorf("reserve tents on %s registration: %w", reg.Status, ErrInvalidState)
	}

	ids := make([]uint64, len(lines))
	for i, line := range lines {
		ids[i] = line.TentTypeID
	}
	types, err := l.repos.TentTypes.GetByIDsTx(ctx, tx, ids)
	if err != nil {
		return nil, &TransactionFailure{Op: "reserve tents", Err: err}
	}
	places := 0
	var tentCost int64
	for _, line := range lines {
		tt, ok := types[line.TentTypeID]
		if !ok {
			return nil, Validation("unknown tent type %d", line.TentTypeID)
		}
		places += tt.Capacity * line.Quantity
		tentCost += tt.Price * int64(line.Quantity)
	}
	hc, err := l.repos.People.HeadCountTx(ctx, tx, registrationID)
	if err != nil {
		return nil, &TransactionFailure{Op: "reserve tents", Err: err}
	}
	if limit := hc.Total() + CapacitySlack; places > limit {
		return nil, Validation("requested tents hold %d people but at most %d places are allowed", places, limit)
	}

	released, err := l.ReleaseTx(ctx, tx, registrationID)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		if err := l.repos.TentTypes.DecrementTx(ctx, tx, line.TentTypeID, line.Quantity); err != nil {
			if errors.Is(err, repository.ErrInsufficientStock) {
				return nil, fmt.Errorf("%s: %w", types[line.TentTypeID].Label, ErrInsufficientStock)
			}
			return nil, &TransactionFailure{Op: "reserve tents", Err: err}
		}
	}

	var expiresAt *time.Time
	if len(lines) > 0 {
		at := l.now().Add(l.ttl)
		expiresAt = &at
		if err := l.repos.Reservations.CreateBulkTx(ctx, tx, registrationID, lines, at); err != nil {
			return nil, &TransactionFailure{Op: "reserve tents", Err: err}
		}
	}
	if err := l.repos.Registrations.UpdateTentCostTx(ctx, tx, registrationID, tentCost); err != nil {
		return nil, &TransactionFailure{Op: "reserve tents", Err: err}
	}
	if err := audit(ctx, l.repos.Audits, tx, actor, model.ActionTentsReserved, registrationID, map[string]any{
		"lines":          lines,
		"released_units": released,
		"tent_cost":      tentCost,
	}); err != nil {
		return nil, &TransactionFailure{Op: "reserve tents", Err: err}
	}

	held, err := l.repos.Reservations.ListByRegistrationTx(ctx, tx, registrationID)
	if err != nil {
		return nil, &TransactionFailure{Op: "reserve tents", Err: err}
	}
	return &ReservationSummary{
		RegistrationID: registrationID,
		Reservations:   held,
		TentCost:       tentCost,
		GrandTotal:     reg.ParticipantCost + reg.CompanionCost + tentCost,
		ExpiresAt:      expiresAt,
		ReleasedUnits:  released,
	}, nil
}

// ReleaseTx returns every reservation of a registration to stock inside
// the caller's transaction and reports how many units went back.  Rows a
// concurrent sweep already deleted are skipped.
func (l *Ledger) ReleaseTx(ctx context.Context, tx *sql.Tx, registrationID uint64) (int, error) {
	held, err := l.repos.Reservations.ListByRegistrationTx(ctx, tx, registrationID)
	if err != nil {
		return 0, &TransactionFailure{Op: "release reservations", Err: err}
	}
	units := 0
	for _, res := range held {
		err := l.repos.Reservations.DeleteByIDTx(ctx, tx, res.ID)
		if errors.Is(err, repository.ErrReservationNotFound) {
			continue
		}
		if err != nil {
			return 0, &TransactionFailure{Op: "release reservations", Err: err}
		}
		if err := l.repos.TentTypes.IncrementTx(ctx, tx, res.TentTypeID, res.Quantity); err != nil {
			return 0, &TransactionFailure{Op: "release reservations", Err: fmt.Errorf("tent type %d: %w", res.TentTypeID, err)}
		}
		units += res.Quantity
	}
	if _, err := l.repos.Reservations.DeleteByRegistrationTx(ctx, tx, registrationID); err != nil {
		return 0, &TransactionFailure{Op: "release reservations", Err: err}
	}
	if units > 0 && l.metrics != nil {
		l.metrics.UnitsReleased.Add(float64(units))
	}
	return units, nil
}

// Release is ReleaseTx in its own transaction.
func (l *Ledger) Release(ctx context.Context, registrationID uint64) (int, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &TransactionFailure{Op: "release reservations", Err: err}
	}
	committed := false
	defer rollback(tx, &committed)

	units, err := l.ReleaseTx(ctx, tx, registrationID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, &TransactionFailure{Op: "release reservations", Err: err}
	}
	committed = true
	return units, nil
}

// ExtendTx moves the expiry of the registration's reservations to until.
func (l *Ledger) ExtendTx(ctx context.Context, tx *sql.Tx, registrationID uint64, until time.Time) error {
	if _, err := l.repos.Reservations.ExtendTx(ctx, tx, registrationID, until); err != nil {
		return &TransactionFailure{Op: "extend reservations", Err: err}
	}
	return nil
}

// Stock lists every tent type with its current availability.
func (l *Ledger) Stock(ctx context.Context) ([]model.TentType, error) {
	return l.repos.TentTypes.List(ctx)
}

// CreateTentType registers a new tent model with its full stock available.
func (l *Ledger) CreateTentType(ctx context.Context, t *model.TentType) error {
	if t.Label == "" {
		return Validation("label is required")
	}
	if t.Capacity <= 0 {
		return Validation("capacity must be positive")
	}
	if t.StockInitial < 0 || t.Price < 0 {
		return Validation("stock and price must not be negative")
	}
	return l.repos.TentTypes.Create(ctx, t)
}

func (l *Ledger) countReservation(err error) {
	if l.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientStock):
		result = "insufficient_stock"
	case IsValidation(err):
		result = "invalid"
	default:
		result = "error"
	}
	l.metrics.ReservationsTotal.WithLabelValues(result).Inc()
}
