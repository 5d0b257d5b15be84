package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/camp-registration/internal/model"
	"github.com/iliyamo/camp-registration/internal/repository"
	"github.com/iliyamo/camp-registration/internal/service"
)

// DefaultMaxUploadBytes caps a single uploaded file.
const DefaultMaxUploadBytes = 20 << 20

// RegistrationHandler serves /v1/admin/registrations.
type RegistrationHandler struct {
	Registrations  *service.Registrations
	Ledger         *service.Ledger
	Finalizer      *service.Finalizer
	Cleaner        *service.Cleaner
	Jobs           service.Enqueuer
	MaxUploadBytes int64
}

// NewRegistrationHandler panics if a service is missing.  jobs may be nil,
// which disables ?async=true confirmation.
func NewRegistrationHandler(regs *service.Registrations, ledger *service.Ledger, fin *service.Finalizer, cleaner *service.Cleaner, jobs service.Enqueuer) *RegistrationHandler {
	if regs == nil || ledger == nil || fin == nil || cleaner == nil {
		panic("nil service passed to NewRegistrationHandler")
	}
	return &RegistrationHandler{
		Registrations:  regs,
		Ledger:         ledger,
		Finalizer:      fin,
		Cleaner:        cleaner,
		Jobs:           jobs,
		MaxUploadBytes: DefaultMaxUploadBytes,
	}
}

// Create handles POST /v1/admin/registrations.
func (h *RegistrationHandler) Create(c echo.Context) error {
	var in service.CreateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	reg, err := h.Registrations.Create(c.Request().Context(), actorOf(c), in)
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, "registration created", reg)
}

// List handles GET /v1/admin/registrations.  Query parameters: status, q,
// created_after, created_before (RFC 3339 or YYYY-MM-DD), page, page_size.
func (h *RegistrationHandler) List(c echo.Context) error {
	q, err := parseListQuery(c)
	if err != nil {
		return err
	}
	res, err := h.Registrations.List(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "registrations", res)
}

func parseListQuery(c echo.Context) (repository.ListQuery, error) {
	var q repository.ListQuery
	if s := strings.ToUpper(strings.TrimSpace(c.QueryParam("status"))); s != "" {
		switch st := model.RegistrationStatus(s); st {
		case model.StatusDraft, model.StatusSubmitted, model.StatusConfirmed, model.StatusRejected:
			q.Filters = append(q.Filters, repository.StatusIs(st))
		default:
			return q, service.Validation("unknown status %q", s)
		}
	}
	if s := strings.TrimSpace(c.QueryParam("q")); s != "" {
		q.Filters = append(q.Filters, repository.NameContains(s))
	}
	for _, p := range []struct {
		name  string
		build func(time.Time) repository.Filter
	}{
		{"created_after", repository.CreatedAfter},
		{"created_before", repository.CreatedBefore},
	} {
		raw := c.QueryParam(p.name)
		if raw == "" {
			continue
		}
		t, err := parseTime(raw)
		if err != nil {
			return q, service.Validation("%s must be RFC 3339 or YYYY-MM-DD", p.name)
		}
		q.Filters = append(q.Filters, p.build(t))
	}
	var err error
	if q.Page, err = intParam(c, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = intParam(c, "page_size"); err != nil {
		return q, err
	}
	return q, nil
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func intParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, service.Validation("%s must be a non-negative integer", name)
	}
	return n, nil
}

// Get handles GET /v1/admin/registrations/:id.
func (h *RegistrationHandler) Get(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	d, err := h.Registrations.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "registration", d)
}

// Audit handles GET /v1/admin/registrations/:id/audit.
func (h *RegistrationHandler) Audit(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	logs, err := h.Registrations.AuditTrail(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "audit trail", logs)
}

// UploadAsset handles POST /v1/admin/registrations/:id/assets/:kind with a
// multipart "file" field.
func (h *RegistrationHandler) UploadAsset(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	kind, ok := model.ParseAssetKind(c.Param("kind"))
	if !ok || kind == model.AssetReceipt {
		return service.Validation("unknown asset kind %q", c.Param("kind"))
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return service.Validation("multipart field \"file\" is required")
	}
	if fh.Size > h.MaxUploadBytes {
		return service.Validation("file exceeds %d bytes", h.MaxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	body, err := io.ReadAll(io.LimitReader(f, h.MaxUploadBytes+1))
	if err != nil {
		return err
	}
	if int64(len(body)) > h.MaxUploadBytes {
		return service.Validation("file exceeds %d bytes", h.MaxUploadBytes)
	}

	key, err := h.Registrations.UploadAsset(c.Request().Context(), actorOf(c), id, kind, fh.Filename, body, fh.Header.Get(echo.HeaderContentType))
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, "file uploaded", echo.Map{"key": key, "kind": kind})
}

type spreadsheetRequest struct {
	Path string `json:"path"`
}

// ProcessSpreadsheet handles POST /v1/admin/registrations/:id/spreadsheet.
// The body is optional; without a path the last uploaded workbook is used.
func (h *RegistrationHandler) ProcessSpreadsheet(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req spreadsheetRequest
	if c.Request().ContentLength > 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	res, err := h.Registrations.ProcessSpreadsheet(c.Request().Context(), actorOf(c), id, req.Path)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "spreadsheet processed", res)
}

type reserveRequest struct {
	Items []model.TentLine `json:"items"`
}

// ReserveTents handles PUT /v1/admin/registrations/:id/tents.  The items
// replace every hold the registration had; an empty list releases them.
func (h *RegistrationHandler) ReserveTents(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req reserveRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	summary, err := h.Ledger.Reserve(c.Request().Context(), actorOf(c), id, req.Items)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "tents reserved", summary)
}

type submitRequest struct {
	PaymentProofPath string `json:"payment_proof_path"`
}

// Submit handles POST /v1/admin/registrations/:id/submit.
func (h *RegistrationHandler) Submit(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req submitRequest
	if c.Request().ContentLength > 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	reg, err := h.Registrations.Submit(c.Request().Context(), actorOf(c), id, req.PaymentProofPath)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "registration submitted", reg)
}

// Confirm handles POST /v1/admin/registrations/:id/confirm.  With
// ?async=true the preconditions are checked and the pipeline runs as a job.
func (h *RegistrationHandler) Confirm(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	actor := actorOf(c)

	if async, _ := strconv.ParseBool(c.QueryParam("async")); async {
		if h.Jobs == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "job queue unavailable")
		}
		d, err := h.Registrations.Get(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != model.StatusSubmitted {
			return service.ErrInvalidState
		}
		jobID, err := h.Jobs.Enqueue(ctx, service.JobRegistrationConfirm, service.RegistrationPayload{
			RegistrationID: id,
			ActorID:        actor.ID,
			ActorIP:        actor.IP,
		})
		if err != nil {
			return err
		}
		return respond(c, http.StatusAccepted, "confirmation queued", echo.Map{"job_id": jobID})
	}

	res, err := h.Finalizer.Confirm(ctx, actor, id)
	if err != nil {
		return err
	}
	msg := "registration confirmed"
	if res.MoveFailures > 0 {
		msg = "registration confirmed; some files could not be moved"
	}
	return respond(c, http.StatusOK, msg, res)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject handles POST /v1/admin/registrations/:id/reject.
func (h *RegistrationHandler) Reject(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req rejectRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	reg, err := h.Registrations.Reject(c.Request().Context(), actorOf(c), id, req.Reason)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "registration rejected", reg)
}

// Delete handles DELETE /v1/admin/registrations/:id.
func (h *RegistrationHandler) Delete(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	res, err := h.Cleaner.DeleteRegistration(c.Request().Context(), actorOf(c), id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "registration deleted", res)
}

// Receipt handles GET /v1/admin/registrations/:id/receipt.
func (h *RegistrationHandler) Receipt(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	url, err := h.Registrations.ReceiptURL(c.Request().Context(), id)
	if errors.Is(err, service.ErrNotFound) {
		if _, getErr := h.Registrations.Get(c.Request().Context(), id); getErr == nil {
			return echo.NewHTTPError(http.StatusNotFound, "receipt not ready")
		}
	}
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "receipt", echo.Map{"url": url})
}
