package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/iliyamo/camp-registration/internal/model"
	"github.com/iliyamo/camp-registration/internal/repository"
	"github.com/iliyamo/camp-registration/internal/storage"
)

// ReceiptData is everything printed on a receipt.
type ReceiptData struct {
	Registration *model.Registration
	Participants int
	Companions   int
	Tents        []ReceiptTentLine
	IssuedAt     time.Time
}

// ReceiptTentLine is one tent row on the receipt.
type ReceiptTentLine struct {
	Label    string
	Quantity int
	Price    int64
}

// formatAmount renders minor units as "12,345.67".
func formatAmount(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := fmt.Sprintf("%d", v/100)
	var b bytes.Buffer
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s%s.%02d", sign, b.String(), v%100)
}

// RenderReceipt draws a one-page A4 PDF.
func RenderReceipt(d ReceiptData) ([]byte, error) {
	reg := d.Registration
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(d.IssuedAt)
	pdf.SetTitle("Registration receipt", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Camp Registration Receipt", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	orderID := "-"
	if reg.OrderID != nil {
		orderID = *reg.OrderID
	}
	pdf.SetFont("Helvetica", "", 11)
	rows := [][2]string{
		{"Order", orderID},
		{"School", reg.SchoolName},
		{"Contact", reg.ContactName},
		{"Phone", reg.ContactPhone},
		{"Email", reg.ContactEmail},
		{"Issued", d.IssuedAt.Format("2006-01-02 15:04 MST")},
	}
	for _, r := range rows {
		pdf.CellFormat(40, 7, r[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, tr(r[1]), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(90, 8, "Item", "1", 0, "L", true, 0, "")
	pdf.CellFormat(25, 8, "Qty", "1", 0, "R", true, 0, "")
	pdf.CellFormat(0, 8, "Amount", "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	line := func(label string, qty int, amount int64) {
		pdf.CellFormat(90, 7, tr(label), "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 7, fmt.Sprintf("%d", qty), "1", 0, "R", false, 0, "")
		pdf.CellFormat(0, 7, formatAmount(amount), "1", 1, "R", false, 0, "")
	}
	line("Participants", d.Participants, reg.ParticipantCost)
	line("Companions", d.Companions, reg.CompanionCost)
	for _, t := range d.Tents {
		line("Tent: "+t.Label, t.Quantity, t.Price*int64(t.Quantity))
	}

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(115, 8, "Grand total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(0, 8, formatAmount(reg.GrandTotal), "1", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

// GenerateReceipt renders the receipt of a submitted registration,
// uploads it to temp storage and records the path.  If the registration
// left SUBMITTED while rendering, the upload is removed again.  It is the
// handler of the receipt.generate job.
func (s *Registrations) GenerateReceipt(ctx context.Context, registrationID uint64) (string, error) {
	reg, err := s.repos.Registrations.GetByID(ctx, registrationID)
	if errors.Is(err, repository.ErrRegistrationNotFound) {
		return "", fmt.Errorf("registration %d: %w", registrationID, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	if reg.Status != model.StatusSubmitted || reg.OrderID == nil {
		return "", fmt.Errorf("receipt for %s registration: %w", reg.Status, ErrInvalidState)
	}

	participants, err := s.repos.People.ListParticipants(ctx, reg.ID)
	if err != nil {
		return "", err
	}
	companions, err := s.repos.People.ListCompanions(ctx, reg.ID)
	if err != nil {
		return "", err
	}
	held, err := s.repos.Reservations.ListByRegistration(ctx, reg.ID)
	if err != nil {
		return "", err
	}
	types, err := s.repos.TentTypes.List(ctx)
	if err != nil {
		return "", err
	}
	byID := make(map[uint64]model.TentType, len(types))
	for _, t := range types {
		byID[t.ID] = t
	}
	data := ReceiptData{
		Registration: reg,
		Participants: len(participants),
		Companions:   len(companions),
		IssuedAt:     s.now(),
	}
	for _, h := range held {
		t := byID[h.TentTypeID]
		data.Tents = append(data.Tents, ReceiptTentLine{Label: t.Label, Quantity: h.Quantity, Price: t.Price})
	}

	pdf, err := RenderReceipt(data)
	if err != nil {
		return "", err
	}
	key := storage.Key(storage.Temp, reg.Folder, model.AssetReceipt, *reg.OrderID+".pdf")
	if err := s.store.Upload(ctx, key, pdf, "application/pdf"); err != nil {
		return "", err
	}
	ok, err := s.repos.Registrations.SetTempReceiptPathIfSubmitted(ctx, reg.ID, key)
	if err != nil {
		return "", err
	}
	if !ok {
		if err := s.store.Remove(ctx, []string{key}); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("remove orphaned receipt")
		}
		return "", fmt.Errorf("registration %d left submitted while rendering receipt: %w", reg.ID, ErrInvalidState)
	}
	s.log.Info().Uint64("registration_id", reg.ID).Str("key", key).Msg("receipt generated")
	return key, nil
}
