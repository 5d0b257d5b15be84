package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/camp-registration/internal/model"
)

// RegistrationRepo provides data access to the registrations table.  All
// state transitions are written as guarded updates that include the
// expected current status in the WHERE clause; a transition that matches
// no row returns ErrStateGuard.
type RegistrationRepo struct {
	db *sql.DB
}

// NewRegistrationRepo returns a new RegistrationRepo bound to the provided database.
func NewRegistrationRepo(db *sql.DB) *RegistrationRepo { return &RegistrationRepo{db: db} }

// DB exposes the underlying handle so services can open transactions.
func (r *RegistrationRepo) DB() *sql.DB { return r.db }

const registrationColumns = `id, school_name, normalized_name, folder, contact_name, contact_phone, contact_email,
	status, order_id, participant_cost, companion_cost, tent_cost, grand_total,
	temp_excel_path, temp_payment_proof_path, temp_receipt_path, temp_photos_path,
	excel_path, payment_proof_path, receipt_path, photos_path,
	rejection_reason, submitted_at, confirmed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(s rowScanner) (*model.Registration, error) {
	var (
		reg                                          model.Registration
		status                                       string
		folder                                       sql.NullString
		orderID, tExcel, tProof, tReceipt, tPhotos   sql.NullString
		pExcel, pProof, pReceipt, pPhotos, rejection sql.NullString
		submittedAt, confirmedAt                     sql.NullTime
	)
	err := s.Scan(
		&reg.ID, &reg.SchoolName, &reg.NormalizedName, &folder, &reg.ContactName, &reg.ContactPhone, &reg.ContactEmail,
		&status, &orderID, &reg.ParticipantCost, &reg.CompanionCost, &reg.TentCost, &reg.GrandTotal,
		&tExcel, &tProof, &tReceipt, &tPhotos,
		&pExcel, &pProof, &pReceipt, &pPhotos,
		&rejection, &submittedAt, &confirmedAt, &reg.CreatedAt, &reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	reg.Status = model.RegistrationStatus(status)
	reg.Folder = folder.String
	reg.OrderID = ptrString(orderID)
	reg.TempExcelPath = ptrString(tExcel)
	reg.TempPaymentProofPath = ptrString(tProof)
	reg.TempReceiptPath = ptrString(tReceipt)
	reg.TempPhotosPath = ptrString(tPhotos)
	reg.ExcelPath = ptrString(pExcel)
	reg.PaymentProofPath = ptrString(pProof)
	reg.ReceiptPath = ptrString(pReceipt)
	reg.PhotosPath = ptrString(pPhotos)
	reg.RejectionReason = ptrString(rejection)
	reg.SubmittedAt = ptrTime(submittedAt)
	reg.ConfirmedAt = ptrTime(confirmedAt)
	reg.CreatedAt = reg.CreatedAt.UTC()
	reg.UpdatedAt = reg.UpdatedAt.UTC()
	return &reg, nil
}

// Create inserts a new DRAFT registration and populates its ID, folder
// and timestamps.  reg.Folder is the preferred folder segment; when
// another registration already owns it the id is appended.
func (r *RegistrationRepo) Create(ctx context.Context, reg *model.Registration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.CreateTx(ctx, tx, reg); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateTx is Create inside an existing transaction.
func (r *RegistrationRepo) CreateTx(ctx context.Context, tx *sql.Tx, reg *model.Registration) error {
	now := nowUTC().Truncate(time.Second)
	const q = `INSERT INTO registrations
		(school_name, normalized_name, contact_name, contact_phone, contact_email, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, reg.SchoolName, reg.NormalizedName, reg.ContactName,
		reg.ContactPhone, reg.ContactEmail, string(model.StatusDraft), dbTime(now), dbTime(now))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	reg.ID = uint64(id)
	reg.Status = model.StatusDraft
	reg.CreatedAt = now
	reg.UpdatedAt = now

	base := reg.Folder
	if base == "" {
		base = "registration"
	}
	folder, err := assignFolder(ctx, tx, reg.ID, base)
	if err != nil {
		return err
	}
	reg.Folder = folder
	return nil
}

// assignFolder claims base for the registration, falling back to
// base-<id>, which no other row can hold.
func assignFolder(ctx context.Context, tx *sql.Tx, id uint64, base string) (string, error) {
	const q = `UPDATE registrations SET folder = ? WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, base, id)
	if err == nil {
		return base, nil
	}
	if !isDuplicate(err) {
		return "", err
	}
	folder := fmt.Sprintf("%s-%d", base, id)
	if _, err := tx.ExecContext(ctx, q, folder, id); err != nil {
		return "", err
	}
	return folder, nil
}

// GetByID loads a registration.  ErrRegistrationNotFound is returned when
// the row does not exist.
func (r *RegistrationRepo) GetByID(ctx context.Context, id uint64) (*model.Registration, error) {
	reg, err := scanRegistration(r.db.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	return reg, err
}

// GetByIDTx is GetByID inside an existing transaction.
func (r *RegistrationRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Registration, error) {
	reg, err := scanRegistration(tx.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	return reg, err
}

// List returns one page of registrations matching every filter together
// with the total number of matches.
func (r *RegistrationRepo) List(ctx context.Context, q ListQuery) ([]model.Registration, int64, error) {
	cond, args := buildWhere(q.Filters)

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrations WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, size := q.normalized()
	dataSQL := `SELECT ` + registrationColumns + ` FROM registrations WHERE ` + cond + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	argsData := append(append([]any{}, args...), size, (page-1)*size)
	rows, err := r.db.QueryContext(ctx, dataSQL, argsData...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Registration, 0, size)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// UpdatePeopleCostsTx stores participant and companion costs and
// recomputes grand_total from the stored tent cost.
func (r *RegistrationRepo) UpdatePeopleCostsTx(ctx context.Context, tx *sql.Tx, id uint64, participantCost, companionCost int64) error {
	const q = `UPDATE registrations
		SET participant_cost = ?, companion_cost = ?, grand_total = ? + tent_cost, updated_at = ?
		WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, participantCost, companionCost, participantCost+companionCost, dbTime(nowUTC()), id)
	return expectOne(res, err, ErrRegistrationNotFound)
}

// UpdateTentCostTx stores the tent cost and recomputes grand_total.
func (r *RegistrationRepo) UpdateTentCostTx(ctx context.Context, tx *sql.Tx, id uint64, tentCost int64) error {
	const q = `UPDATE registrations
		SET tent_cost = ?, grand_total = participant_cost + companion_cost + ?, updated_at = ?
		WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, tentCost, tentCost, dbTime(nowUTC()), id)
	return expectOne(res, err, ErrRegistrationNotFound)
}

// tempColumn maps an asset kind to its temp path column.
func tempColumn(kind model.AssetKind) (string, error) {
	switch kind {
	case model.AssetExcel:
		return "temp_excel_path", nil
	case model.AssetPaymentProof:
		return "temp_payment_proof_path", nil
	case model.AssetReceipt:
		return "temp_receipt_path", nil
	case model.AssetPhotos:
		return "temp_photos_path", nil
	}
	return "", fmt.Errorf("unknown asset kind %q", kind)
}

// SetTempPath records the temp path for an asset while the registration is
// still DRAFT or SUBMITTED.  Confirmed and rejected registrations never
// gain temp paths.
func (r *RegistrationRepo) SetTempPath(ctx context.Context, id uint64, kind model.AssetKind, path string) error {
	col, err := tempColumn(kind)
	if err != nil {
		return err
	}
	q := `UPDATE registrations SET ` + col + ` = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`
	res, err := r.db.ExecContext(ctx, q, path, dbTime(nowUTC()), id, string(model.StatusDraft), string(model.StatusSubmitted))
	return expectOne(res, err, ErrStateGuard)
}

// SetTempExcelPathTx records the spreadsheet location as part of the
// ingestion transaction.
func (r *RegistrationRepo) SetTempExcelPathTx(ctx context.Context, tx *sql.Tx, id uint64, path string) error {
	const q = `UPDATE registrations SET temp_excel_path = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, path, dbTime(nowUTC()), id, string(model.StatusDraft))
	return expectOne(res, err, ErrStateGuard)
}

// SetTempReceiptPathIfSubmitted stores the generated receipt path only if
// the registration is still SUBMITTED.  It reports whether the row was
// updated.
func (r *RegistrationRepo) SetTempReceiptPathIfSubmitted(ctx context.Context, id uint64, path string) (bool, error) {
	const q = `UPDATE registrations SET temp_receipt_path = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, path, dbTime(nowUTC()), id, string(model.StatusSubmitted))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SubmitTx moves a DRAFT registration to SUBMITTED and stamps the order
// id.  The unique key over the normalized name of non-draft rows rejects
// a second active registration for the same school with ErrNameTaken.
func (r *RegistrationRepo) SubmitTx(ctx context.Context, tx *sql.Tx, id uint64, orderID, paymentProofPath string, at time.Time) error {
	const q = `UPDATE registrations
		SET status = ?, order_id = ?, temp_payment_proof_path = ?, submitted_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, string(model.StatusSubmitted), orderID, paymentProofPath,
		dbTime(at), dbTime(at), id, string(model.StatusDraft))
	if isDuplicate(err) {
		return ErrNameTaken
	}
	return expectOne(res, err, ErrStateGuard)
}

// PermanentPaths carries the Phase-1 results written at confirmation.  A
// nil field means the asset was absent or its move failed.
type PermanentPaths struct {
	Excel        *string
	PaymentProof *string
	Receipt      *string
	Photos       *string
}

// ConfirmTx flips a SUBMITTED registration to CONFIRMED, writes permanent
// paths and clears every temp path unconditionally.
func (r *RegistrationRepo) ConfirmTx(ctx context.Context, tx *sql.Tx, id uint64, p PermanentPaths, at time.Time) error {
	const q = `UPDATE registrations
		SET status = ?,
		    excel_path = ?, payment_proof_path = ?, receipt_path = ?, photos_path = ?,
		    temp_excel_path = NULL, temp_payment_proof_path = NULL, temp_receipt_path = NULL, temp_photos_path = NULL,
		    confirmed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, string(model.StatusConfirmed),
		nullString(p.Excel), nullString(p.PaymentProof), nullString(p.Receipt), nullString(p.Photos),
		dbTime(at), dbTime(at), id, string(model.StatusSubmitted))
	return expectOne(res, err, ErrStateGuard)
}

// RejectTx flips a SUBMITTED registration to REJECTED with a reason.
func (r *RegistrationRepo) RejectTx(ctx context.Context, tx *sql.Tx, id uint64, reason string, at time.Time) error {
	const q = `UPDATE registrations SET status = ?, rejection_reason = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, string(model.StatusRejected), reason, dbTime(at), id, string(model.StatusSubmitted))
	return expectOne(res, err, ErrStateGuard)
}

// DeleteTx removes a registration; participants, companions, reservations
// and bookings go with it through ON DELETE CASCADE.
func (r *RegistrationRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM registrations WHERE id = ?`, id)
	return expectOne(res, err, ErrRegistrationNotFound)
}

// StaleDraft identifies a DRAFT registration eligible for cleanup.
type StaleDraft struct {
	ID         uint64
	SchoolName string
	Folder     string
}

// ListStaleDrafts returns DRAFT registrations not updated since before.
func (r *RegistrationRepo) ListStaleDrafts(ctx context.Context, before time.Time, limit int) ([]StaleDraft, error) {
	const q = `SELECT id, school_name, COALESCE(folder, '') FROM registrations
		WHERE status = ? AND updated_at < ? ORDER BY id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, string(model.StatusDraft), dbTime(before), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StaleDraft
	for rows.Next() {
		var d StaleDraft
		if err := rows.Scan(&d.ID, &d.SchoolName, &d.Folder); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDraftsTx bulk-deletes the given registrations that are still
// DRAFT and returns the number of rows removed.
func (r *RegistrationRepo) DeleteDraftsTx(ctx context.Context, tx *sql.Tx, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q := `DELETE FROM registrations WHERE status = ? AND id IN (` + placeholders(len(ids)) + `)`
	args := append([]any{string(model.StatusDraft)}, uint64Args(ids)...)
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// expectOne converts a zero-row update into the supplied sentinel.
func expectOne(res sql.Result, err error, none error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}
