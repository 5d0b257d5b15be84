package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/camp-registration/internal/metrics"
	"github.com/iliyamo/camp-registration/internal/model"
	"github.com/iliyamo/camp-registration/internal/repository"
	"github.com/iliyamo/camp-registration/internal/storage"
)

// AssetOutcome is the result of promoting one object from temp to
// permanent storage.
type AssetOutcome struct {
	Asset model.AssetKind `json:"asset"`
	From  string          `json:"from"`
	To    string          `json:"to"`
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
}

// ConfirmResult is returned by Confirm.
type ConfirmResult struct {
	Registration *model.Registration `json:"registration"`
	Outcomes     []AssetOutcome      `json:"outcomes"`
	MoveFailures int                 `json:"move_failures"`
	Replayed     bool                `json:"replayed"`
}

// FinalizerConfig tunes the confirmation pipeline.
type FinalizerConfig struct {
	TxTimeout       time.Duration
	MoveConcurrency int
}

// Finalizer confirms submitted registrations in two phases.  Phase 1
// moves every temp asset into the permanent tree without holding a
// transaction and records the outcomes as a checkpoint.  Phase 2 applies
// those outcomes to the database in one transaction.  A failed move only
// leaves that asset's permanent path unset; it never blocks confirmation.
type Finalizer struct {
	db      *sql.DB
	repos   Repos
	store   storage.Gateway
	jobs    Enqueuer
	cfg     FinalizerConfig
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     Clock
}

// NewFinalizer builds the pipeline.  jobs may be nil, in which case no
// registration.confirmed event is published.
func NewFinalizer(db *sql.DB, repos Repos, store storage.Gateway, jobs Enqueuer, cfg FinalizerConfig, m *metrics.Metrics, log zerolog.Logger) *Finalizer {
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 45 * time.Second
	}
	if cfg.MoveConcurrency <= 0 {
		cfg.MoveConcurrency = 10
	}
	return &Finalizer{
		db:      db,
		repos:   repos,
		store:   store,
		jobs:    jobs,
		cfg:     cfg,
		metrics: m,
		log:     log.With().Str("component", "finalizer").Logger(),
		now:     systemClock,
	}
}

// Confirm promotes a SUBMITTED registration to CONFIRMED.
func (f *Finalizer) Confirm(ctx context.Context, actor Actor, registrationID uint64) (*ConfirmResult, error) {
	start := time.Now()
	result, err := f.confirm(ctx, actor, registrationID)
	if f.metrics != nil {
		label := "ok"
		switch {
		case err == nil:
		case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotFound):
			label = "rejected"
		default:
			label = "error"
		}
		f.metrics.Confirmations.WithLabelValues(label).Inc()
		f.metrics.ConfirmDuration.Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (f *Finalizer) confirm(ctx context.Context, actor Actor, registrationID uint64) (*ConfirmResult, error) {
	reg, err := f.repos.Registrations.GetByID(ctx, registrationID)
	if errors.Is(err, repository.ErrRegistrationNotFound) {
		return nil, fmt.Errorf("registration %d: %w", registrationID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if reg.Status != model.StatusSubmitted {
		return nil, fmt.Errorf("confirm %s registration: %w", reg.Status, ErrInvalidState)
	}
	log := f.log.With().Uint64("registration_id", registrationID).Logger()

	outcomes, replayed, err := f.loadCheckpoint(ctx, registrationID)
	if err != nil {
		log.Warn().Err(err).Msg("checkpoint unreadable, redoing storage phase")
	}
	if outcomes == nil {
		outcomes = f.promoteAssets(context.WithoutCancel(ctx), reg, log)
		if err := f.saveCheckpoint(ctx, registrationID, outcomes); err != nil {
			log.Warn().Err(err).Msg("save confirmation checkpoint")
		}
	} else {
		log.Info().Int("outcomes", len(outcomes)).Msg("replaying confirmation checkpoint")
	}

	failures := 0
	for _, o := range outcomes {
		if !o.OK {
			failures++
		}
	}

	bookings, err := f.commit(ctx, actor, reg, outcomes)
	if err != nil {
		return nil, err
	}

	confirmed, err := f.repos.Registrations.GetByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("assets", len(outcomes)).
		Int("move_failures", failures).
		Bool("replayed", replayed).
		Str("actor", actor.ID).
		Msg("registration confirmed")

	f.publishConfirmed(ctx, confirmed, bookings, failures)
	return &ConfirmResult{Registration: confirmed, Outcomes: outcomes, MoveFailures: failures, Replayed: replayed}, nil
}

func (f *Finalizer) loadCheckpoint(ctx context.Context, registrationID uint64) ([]AssetOutcome, bool, error) {
	raw, err := f.repos.Checkpoints.Get(ctx, registrationID)
	if errors.Is(err, repository.ErrCheckpointNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var outcomes []AssetOutcome
	if err := json.Unmarshal(raw, &outcomes); err != nil {
		return nil, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	if outcomes == nil {
		outcomes = []AssetOutcome{}
	}
	return outcomes, true, nil
}

func (f *Finalizer) saveCheckpoint(ctx context.Context, registrationID uint64, outcomes []AssetOutcome) error {
	raw, err := json.Marshal(outcomes)
	if err != nil {
		return err
	}
	return f.repos.Checkpoints.Save(ctx, registrationID, raw)
}

// plannedMove is one temp -> permanent move.
type plannedMove struct {
	asset model.AssetKind
	from  string
	to    string
}

// planMoves lists the moves for a registration.  Photo listing failures
// are returned as a failed outcome instead of a move.
func (f *Finalizer) planMoves(ctx context.Context, reg *model.Registration) ([]plannedMove, []AssetOutcome) {
	slug := reg.Folder
	orderID := ""
	if reg.OrderID != nil {
		orderID = *reg.OrderID
	}

	var moves []plannedMove
	if p := reg.TempExcelPath; p != nil && *p != "" {
		name := orderID + "_" + slug + path.Ext(*p)
		moves = append(moves, plannedMove{model.AssetExcel, *p, storage.Key(storage.Permanent, slug, model.AssetExcel, name)})
	}
	if p := reg.TempPaymentProofPath; p != nil && *p != "" {
		moves = append(moves, plannedMove{model.AssetPaymentProof, *p, storage.Key(storage.Permanent, slug, model.AssetPaymentProof, path.Base(*p))})
	}
	if p := reg.TempReceiptPath; p != nil && *p != "" {
		moves = append(moves, plannedMove{model.AssetReceipt, *p, storage.Key(storage.Permanent, slug, model.AssetReceipt, path.Base(*p))})
	}

	var failed []AssetOutcome
	tempPhotos := storage.Folder(storage.Temp, slug, model.AssetPhotos)
	keys, err := f.store.List(ctx, tempPhotos)
	if err != nil {
		failed = append(failed, AssetOutcome{Asset: model.AssetPhotos, From: tempPhotos, Error: err.Error()})
	}
	permPhotos := storage.Folder(storage.Permanent, slug, model.AssetPhotos)
	for _, k := range keys {
		moves = append(moves, plannedMove{model.AssetPhotos, k, permPhotos + strings.TrimPrefix(k, tempPhotos)})
	}
	return moves, failed
}

// promoteAssets is Phase 1.  All moves finish before it returns.
func (f *Finalizer) promoteAssets(ctx context.Context, reg *model.Registration, log zerolog.Logger) []AssetOutcome {
	moves, outcomes := f.planMoves(ctx, reg)

	results := make([]AssetOutcome, len(moves))
	var g errgroup.Group
	g.SetLimit(f.cfg.MoveConcurrency)
	for i, m := range moves {
		i, m := i, m
		g.Go(func() error {
			out := AssetOutcome{Asset: m.asset, From: m.from, To: m.to, OK: true}
			if err := f.move(ctx, m.from, m.to); err != nil {
				out.OK = false
				out.Error = err.Error()
				log.Error().Err(err).Str("asset", string(m.asset)).Str("from", m.from).Msg("asset move failed")
				if f.metrics != nil {
					f.metrics.MoveFailures.WithLabelValues(string(m.asset)).Inc()
				}
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if f.metrics != nil {
			f.metrics.MoveFailures.WithLabelValues(string(o.Asset)).Inc()
		}
		log.Error().Str("asset", string(o.Asset)).Str("error", o.Error).Msg("asset listing failed")
	}
	return append(outcomes, results...)
}

// move treats an existing destination as a completed move, which makes a
// retried Phase 1 idempotent.
func (f *Finalizer) move(ctx context.Context, from, to string) error {
	exists, err := f.store.Exists(ctx, to)
	if err == nil && exists {
		if still, err := f.store.Exists(ctx, from); err == nil && still {
			if err := f.store.Remove(ctx, []string{from}); err != nil {
				f.log.Warn().Err(err).Str("key", from).Msg("remove leftover temp object")
			}
		}
		return nil
	}
	if err := f.store.Move(ctx, from, to); err != nil {
		return &MoveFailure{From: from, To: to, Err: err}
	}
	return nil
}

// commit is Phase 2.
func (f *Finalizer) commit(ctx context.Context, actor Actor, reg *model.Registration, outcomes []AssetOutcome) ([]model.TentLine, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.TxTimeout)
	defer cancel()

	fail := func(err error) error { return &TransactionFailure{Op: "confirm registration", Err: err} }

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fail(err)
	}
	committed := false
	defer rollback(tx, &committed)

	var paths repository.PermanentPaths
	photoMoved := false
	for _, o := range outcomes {
		if !o.OK {
			continue
		}
		to := o.To
		switch o.Asset {
		case model.AssetExcel:
			paths.Excel = &to
		case model.AssetPaymentProof:
			paths.PaymentProof = &to
		case model.AssetReceipt:
			paths.Receipt = &to
		case model.AssetPhotos:
			photoMoved = true
			if _, err := f.repos.People.RewritePhotoPathTx(ctx, tx, reg.ID, o.From, o.To); err != nil {
				return nil, fail(err)
			}
		}
	}
	if photoMoved {
		folder := storage.Folder(storage.Permanent, reg.Folder, model.AssetPhotos)
		paths.Photos = &folder
	}

	now := f.now()
	if err := f.repos.Registrations.ConfirmTx(ctx, tx, reg.ID, paths, now); err != nil {
		if errors.Is(err, repository.ErrStateGuard) {
			return nil, fmt.Errorf("registration %d is no longer submitted: %w", reg.ID, ErrInvalidState)
		}
		return nil, fail(err)
	}
	if err := audit(ctx, f.repos.Audits, tx, actor, model.ActionRegistrationConfirmed, reg.ID, map[string]any{
		"order_id": reg.OrderID,
		"outcomes": outcomes,
	}); err != nil {
		return nil, fail(err)
	}

	held, err := f.repos.Reservations.ListByRegistrationTx(ctx, tx, reg.ID)
	if err != nil {
		return nil, fail(err)
	}
	if err := f.repos.Bookings.CreateFromReservationsTx(ctx, tx, held); err != nil {
		return nil, fail(err)
	}
	if _, err := f.repos.Reservations.DeleteByRegistrationTx(ctx, tx, reg.ID); err != nil {
		return nil, fail(err)
	}
	if err := f.repos.Checkpoints.DeleteTx(ctx, tx, reg.ID); err != nil {
		return nil, fail(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fail(err)
	}
	committed = true

	if len(held) == 0 && reg.TentCost > 0 {
		f.log.Warn().Uint64("registration_id", reg.ID).Msg("confirmed without reservations; holds had expired")
	}
	lines := make([]model.TentLine, 0, len(held))
	for _, h := range held {
		lines = append(lines, model.TentLine{TentTypeID: h.TentTypeID, Quantity: h.Quantity})
	}
	return lines, nil
}

func (f *Finalizer) publishConfirmed(ctx context.Context, reg *model.Registration, bookings []model.TentLine, failures int) {
	if f.jobs == nil {
		return
	}
	hc, err := f.repos.People.ListParticipants(ctx, reg.ID)
	if err != nil {
		f.log.Warn().Err(err).Msg("count participants for confirmed event")
	}
	ev := ConfirmedEvent{
		RegistrationID: reg.ID,
		SchoolName:     reg.SchoolName,
		ContactEmail:   reg.ContactEmail,
		GrandTotal:     reg.GrandTotal,
		Participants:   len(hc),
		Bookings:       bookings,
		MoveFailures:   failures,
		ConfirmedAt:    f.now().Format(time.RFC3339),
	}
	if reg.OrderID != nil {
		ev.OrderID = *reg.OrderID
	}
	if _, err := f.jobs.Enqueue(context.WithoutCancel(ctx), JobRegistrationConfirmed, ev); err != nil {
		f.log.Warn().Err(err).Uint64("registration_id", reg.ID).Msg("publish registration.confirmed")
	}
}
