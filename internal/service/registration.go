package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-registration/internal/model"
	"github.com/iliyamo/camp-registration/internal/repository"
	"github.com/iliyamo/camp-registration/internal/storage"
	"github.com/iliyamo/camp-registration/internal/utils"
)

// Pricing holds per-head fees in minor units.
type Pricing struct {
	ParticipantFee int64
	CompanionFee   int64
}

// RegistrationConfig tunes the registration lifecycle.
type RegistrationConfig struct {
	Pricing              Pricing
	ReviewTTL            time.Duration
	SpreadsheetTxTimeout time.Duration
	SignedURLTTL         time.Duration
}

// Registrations runs the lifecycle that precedes confirmation: create,
// upload, spreadsheet ingestion, submission and rejection, plus the
// dashboard reads.
type Registrations struct {
	db     *sql.DB
	repos  Repos
	ledger *Ledger
	store  storage.Gateway
	jobs   Enqueuer
	cfg    RegistrationConfig
	log    zerolog.Logger
	now    Clock
}

// NewRegistrations builds the lifecycle service.  jobs may be nil.
func NewRegistrations(db *sql.DB, repos Repos, ledger *Ledger, store storage.Gateway, jobs Enqueuer, cfg RegistrationConfig, log zerolog.Logger) *Registrations {
	if cfg.SpreadsheetTxTimeout <= 0 {
		cfg.SpreadsheetTxTimeout = 20 * time.Second
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}
	return &Registrations{
		db:     db,
		repos:  repos,
		ledger: ledger,
		store:  store,
		jobs:   jobs,
		cfg:    cfg,
		log:    log.With().Str("component", "registrations").Logger(),
		now:    systemClock,
	}
}

// CreateInput is the payload of Create.
type CreateInput struct {
	SchoolName   string `json:"school_name"`
	ContactName  string `json:"contact_name"`
	ContactPhone string `json:"contact_phone"`
	ContactEmail string `json:"contact_email"`
}

// Create opens a DRAFT registration.
func (s *Registrations) Create(ctx context.Context, actor Actor, in CreateInput) (*model.Registration, error) {
	name := strings.TrimSpace(in.SchoolName)
	if name == "" {
		return nil, Validation("school_name is required")
	}
	if len(name) > 191 {
		return nil, Validation("school_name is too long")
	}
	email := strings.TrimSpace(in.ContactEmail)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, Validation("contact_email is not a valid address")
		}
	}
	reg := &model.Registration{
		SchoolName:     name,
		NormalizedName: utils.NormalizeName(name),
		Folder:         utils.Slugify(name),
		ContactName:    strings.TrimSpace(in.ContactName),
		ContactPhone:   strings.TrimSpace(in.ContactPhone),
		ContactEmail:   email,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &TransactionFailure{Op: "create registration", Err: err}
	}
	committed := false
	defer rollback(tx, &committed)

	if err := s.repos.Registrations.CreateTx(ctx, tx, reg); err != nil {
		return nil, &TransactionFailure{Op: "create registration", Err: err}
	}
	if err := audit(ctx, s.repos.Audits, tx, actor, model.ActionRegistrationCreated, reg.ID, map[string]any{
		"school_name": reg.SchoolName,
	}); err != nil {
		return nil, &TransactionFailure{Op: "create registration", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &TransactionFailure{Op: "create registration", Err: err}
	}
	committed = true
	s.log.Info().Uint64("registration_id", reg.ID).Str("school", reg.SchoolName).Str("actor", actor.ID).Msg("registration created")
	return reg, nil
}

func (s *Registrations) load(ctx context.Context, id uint64) (*model.Registration, error) {
	reg, err := s.repos.Registrations.GetByID(ctx, id)
	if errors.Is(err, repository.ErrRegistrationNotFound) {
		return nil, fmt.Errorf("registration %d: %w", id, ErrNotFound)
	}
	return reg, err
}

func (s *Registrations) loadTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Registration, error) {
	reg, err := s.repos.Registrations.GetByIDTx(ctx, tx, id)
	if errors.Is(err, repository.ErrRegistrationNotFound) {
		return nil, fmt.Errorf("registration %d: %w", id, ErrNotFound)
	}
	return reg, err
}

// UploadAsset stores a file under the registration's temp tree and
// returns its key.  The excel, payment proof and receipt paths are
// recorded on the registration; photos only set the folder path.
func (s *Registrations) UploadAsset(ctx context.Context, actor Actor, id uint64, kind model.AssetKind, filename string, body []byte, contentType string) (string, error) {
	name := storage.BaseName(filename)
	if name == "" {
		return "", Validation("file name is required")
	}
	if len(body) == 0 {
		return "", Validation("file is empty")
	}
	if kind == model.AssetExcel && !strings.EqualFold(path.Ext(name), ".xlsx") {
		return "", Validation("spreadsheet must be an .xlsx file")
	}

	reg, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	if reg.Status == model.StatusConfirmed || reg.Status == model.StatusRejected {
		return "", fmt.Errorf("upload to %s registration: %w", reg.Status, ErrInvalidState)
	}

	key := storage.Key(storage.Temp, reg.Folder, kind, name)
	if err := s.store.Upload(ctx, key, body, contentType); err != nil {
		return "", err
	}
	recorded := key
	if kind == model.AssetPhotos {
		recorded = storage.Folder(storage.Temp, reg.Folder, kind)
	}
	if err := s.repos.Registrations.SetTempPath(ctx, id, kind, recorded); err != nil {
		if errors.Is(err, repository.ErrStateGuard) {
			return "", fmt.Errorf("registration %d changed state during upload: %w", id, ErrInvalidState)
		}
		return "", err
	}
	s.log.Info().Uint64("registration_id", id).Str("kind", string(kind)).Str("key", key).Str("actor", actor.ID).Msg("asset uploaded")
	return key, nil
}

// SpreadsheetResult reports an ingested roster.
type SpreadsheetResult struct {
	Participants    int   `json:"participants"`
	Companions      int   `json:"companions"`
	ParticipantCost int64 `json:"participant_cost"`
	CompanionCost   int64 `json:"companion_cost"`
}

// ProcessSpreadsheet downloads an uploaded workbook and replaces the
// registration's participants and companions with its rows.  key may be
// empty to use the registration's temp excel path.
func (s *Registrations) ProcessSpreadsheet(ctx context.Context, actor Actor, id uint64, key string) (*SpreadsheetResult, error) {
	reg, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg.Status != model.StatusDraft {
		return nil, fmt.Errorf("process spreadsheet on %s registration: %w", reg.Status, ErrInvalidState)
	}
	if key == "" && reg.TempExcelPath != nil {
		key = *reg.TempExcelPath
	}
	if key == "" {
		return nil, Validation("no spreadsheet uploaded")
	}
	if !strings.HasPrefix(key, storage.Folder(storage.Temp, reg.Folder, model.AssetExcel)) {
		return nil, Validation("spreadsheet must be uploaded to this registration")
	}

	data, err := s.store.Download(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, Validation("spreadsheet %s not found", path.Base(key))
	}
	if err != nil {
		return nil, err
	}
	roster, err := ParseRoster(data)
	if err != nil {
		return nil, err
	}
	if len(roster.Participants) == 0 {
		return nil, Validation("spreadsheet has no participants")
	}

	participants := make([]model.Participant, len(roster.Participants))
	for i, p := range roster.Participants {
		participants[i] = model.Participant{Person: p}
		if n := storage.BaseName(roster.PhotoNames[i]); n != "" {
			k := storage.Key(storage.Temp, reg.Folder, model.AssetPhotos, n)
			participants[i].PhotoPath = &k
		}
	}
	companions := make([]model.Companion, len(roster.Companions))
	for i, c := range roster.Companions {
		companions[i] = model.Companion{Person: c}
	}
	result := &SpreadsheetResult{
		Participants:    len(participants),
		Companions:      len(companions),
		ParticipantCost: int64(len(participants)) * s.cfg.Pricing.ParticipantFee,
		CompanionCost:   int64(len(companions)) * s.cfg.Pricing.CompanionFee,
	}

	txCtx, cancel := context.WithTimeout(ctx, s.cfg.SpreadsheetTxTimeout)
	defer cancel()
	fail := func(err error) error { return &TransactionFailure{Op: "process spreadsheet", Err: err} }

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return nil, fail(err)
	}
	committed := false
	defer rollback(tx, &committed)

	if err := s.repos.People.ReplaceParticipantsTx(txCtx, tx, id, participants); err != nil {
		return nil, fail(err)
	}
	if err := s.repos.People.ReplaceCompanionsTx(txCtx, tx, id, companions); err != nil {
		return nil, fail(err)
	}
	if err := s.repos.Registrations.UpdatePeopleCostsTx(txCtx, tx, id, result.ParticipantCost, result.CompanionCost); err != nil {
		return nil, fail(err)
	}
	if err := s.repos.Registrations.SetTempExcelPathTx(txCtx, tx, id, key); err != nil {
		if errors.Is(err, repository.ErrStateGuard) {
			return nil, fmt.Errorf("registration %d left draft: %w", id, ErrInvalidState)
		}
		return nil, fail(err)
	}
	if err := audit(txCtx, s.repos.Audits, tx, actor, model.ActionSpreadsheetProcessed, id, result); err != nil {
		return nil, fail(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fail(err)
	}
	committed = true
	s.log.Info().Uint64("registration_id", id).Int("participants", result.Participants).Int("companions", result.Companions).Msg("spreadsheet processed")
	return result, nil
}

// Submit moves a DRAFT registration to SUBMITTED, assigns its order id and
// extends its tent holds for the review period.  paymentProofKey may be
// empty to use the uploaded payment proof.
func (s *Registrations) Submit(ctx context.Context, actor Actor, id uint64, paymentProofKey string) (*model.Registration, error) {
	reg, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg.Status != model.StatusDraft {
		return nil, fmt.Errorf("submit %s registration: %w", reg.Status, ErrInvalidState)
	}
	proof := paymentProofKey
	if proof == "" && reg.TempPaymentProofPath != nil {
		proof = *reg.TempPaymentProofPath
	}
	if proof == "" {
		return nil, Validation("payment proof is required")
	}
	if !strings.HasPrefix(proof, storage.Folder(storage.Temp, reg.Folder, model.AssetPaymentProof)) {
		return nil, Validation("payment proof must be uploaded to this registration")
	}
	exists, err := s.store.Exists(ctx, proof)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, Validation("payment proof %s not found", path.Base(proof))
	}

	fail := func(err error) error { return &TransactionFailure{Op: "submit registration", Err: err} }
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fail(err)
	}
	committed := false
	defer rollback(tx, &committed)

	reg, err = s.loadTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if reg.Status != model.StatusDraft {
		return nil, fmt.Errorf("submit %s registration: %w", reg.Status, ErrInvalidState)
	}
	hc, err := s.repos.People.HeadCountTx(ctx, tx, id)
	if err != nil {
		return nil, fail(err)
	}
	if hc.Participants == 0 {
		return nil, Validation("registration has no participants")
	}
	now := s.now()
	orderID := OrderID(now, id)
	if err := s.repos.Registrations.SubmitTx(ctx, tx, id, orderID, proof, now); err != nil {
		if errors.Is(err, repository.ErrStateGuard) {
			return nil, fmt.Errorf("registration %d left draft: %w", id, ErrInvalidState)
		}
		if errors.Is(err, repository.ErrNameTaken) {
			return nil, Validation("school already registered")
		}
		return nil, fail(err)
	}
	if err := s.ledger.ExtendTx(ctx, tx, id, now.Add(s.cfg.ReviewTTL)); err != nil {
		return nil, err
	}
	if err := audit(ctx, s.repos.Audits, tx, actor, model.ActionRegistrationSubmitted, id, map[string]any{
		"order_id":     orderID,
		"participants": hc.Participants,
		"companions":   hc.Companions,
	}); err != nil {
		return nil, fail(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fail(err)
	}
	committed = true
	s.log.Info().Uint64("registration_id", id).Str("order_id", orderID).Str("actor", actor.ID).Msg("registration submitted")

	if s.jobs != nil {
		if _, err := s.jobs.Enqueue(context.WithoutCancel(ctx), JobReceiptGenerate, RegistrationPayload{RegistrationID: id}); err != nil {
			s.log.Warn().Err(err).Uint64("registration_id", id).Msg("enqueue receipt generation")
		}
	}
	return s.load(ctx, id)
}

// OrderID formats the human readable order number, e.g. REG-20260314-00042.
func OrderID(at time.Time, id uint64) string {
	return fmt.Sprintf("REG-%s-%05d", at.UTC().Format("20060102"), id)
}

// Reject moves a SUBMITTED registration to REJECTED and releases its
// tent holds.
func (s *Registrations) Reject(ctx context.Context, actor Actor, id uint64, reason string) (*model.Registration, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, Validation("rejection reason is required")
	}

	fail := func(err error) error { return &TransactionFailure{Op: "reject registration", Err: err} }
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fail(err)
	}
	committed := false
	defer rollback(tx, &committed)

	reg, err := s.loadTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if reg.Status != model.StatusSubmitted {
		return nil, fmt.Errorf("reject %s registration: %w", reg.Status, ErrInvalidState)
	}
	released, err := s.ledger.ReleaseTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Registrations.RejectTx(ctx, tx, id, reason, s.now()); err != nil {
		if errors.Is(err, repository.ErrStateGuard) {
			return nil, fmt.Errorf("registration %d left submitted: %w", id, ErrInvalidState)
		}
		return nil, fail(err)
	}
	if err := s.repos.Checkpoints.DeleteTx(ctx, tx, id); err != nil {
		return nil, fail(err)
	}
	if err := audit(ctx, s.repos.Audits, tx, actor, model.ActionRegistrationRejected, id, map[string]any{
		"reason":         reason,
		"released_units": released,
	}); err != nil {
		return nil, fail(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fail(err)
	}
	committed = true
	s.log.Info().Uint64("registration_id", id).Int("released_units", released).Str("actor", actor.ID).Msg("registration rejected")
	return s.load(ctx, id)
}

// ReceiptURL returns a signed link to the receipt, preferring the
// permanent copy.  ErrNotFound means no receipt has been generated yet.
func (s *Registrations) ReceiptURL(ctx context.Context, id uint64) (string, error) {
	reg, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	key := ""
	switch {
	case reg.ReceiptPath != nil:
		key = *reg.ReceiptPath
	case reg.TempReceiptPath != nil:
		key = *reg.TempReceiptPath
	default:
		return "", fmt.Errorf("receipt for registration %d is not ready: %w", id, ErrNotFound)
	}
	return s.store.SignedURL(ctx, key, s.cfg.SignedURLTTL)
}

// ListResult is one page of the dashboard listing.
type ListResult struct {
	Items    []model.Registration `json:"items"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// List returns one page of registrations matching q.
func (s *Registrations) List(ctx context.Context, q repository.ListQuery) (*ListResult, error) {
	items, total, err := s.repos.Registrations.List(ctx, q)
	if err != nil {
		return nil, err
	}
	page, size := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return &ListResult{Items: items, Total: total, Page: page, PageSize: size}, nil
}

// Get returns a registration with its people, holds and bookings.
func (s *Registrations) Get(ctx context.Context, id uint64) (*model.RegistrationDetail, error) {
	reg, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &model.RegistrationDetail{Registration: *reg}
	if d.Participants, err = s.repos.People.ListParticipants(ctx, id); err != nil {
		return nil, err
	}
	if d.Companions, err = s.repos.People.ListCompanions(ctx, id); err != nil {
		return nil, err
	}
	if d.Reservations, err = s.repos.Reservations.ListByRegistration(ctx, id); err != nil {
		return nil, err
	}
	if d.Bookings, err = s.repos.Bookings.ListByRegistration(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

// AuditTrail returns the audit entries of a registration.  It works for
// deleted registrations too.
func (s *Registrations) AuditTrail(ctx context.Context, id uint64) ([]model.AuditLog, error) {
	return s.repos.Audits.ListByRegistration(ctx, id)
}
