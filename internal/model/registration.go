package model

import "time"

// RegistrationStatus is the lifecycle state of a school registration.
type RegistrationStatus string

const (
	StatusDraft     RegistrationStatus = "DRAFT"
	StatusSubmitted RegistrationStatus = "SUBMITTED"
	StatusConfirmed RegistrationStatus = "CONFIRMED"
	StatusRejected  RegistrationStatus = "REJECTED"
)

// Registration is one school or group sign-up.  Costs are stored in minor
// currency units.  Each asset class has a temp path (set while the
// registration is in flight) and a permanent path (set only by the
// confirmation pipeline, which also clears every temp path).
//
// Fields:
//  ID             – primary key identifier.
//  SchoolName     – display name as entered by the school.
//  NormalizedName – lowercased, whitespace-collapsed SchoolName used for
//                   the one-active-registration-per-school rule.
//  Folder         – object store folder segment owned by this
//                   registration; the name slug, suffixed with the id
//                   when another registration already holds the slug.
//  Status         – DRAFT, SUBMITTED, CONFIRMED or REJECTED.
//  OrderID        – human readable order number assigned at submission.
type Registration struct {
	ID             uint64             `json:"id"`              // registrations.id
	SchoolName     string             `json:"school_name"`     // registrations.school_name
	NormalizedName string             `json:"normalized_name"` // registrations.normalized_name
	Folder         string             `json:"folder"`          // registrations.folder
	ContactName    string             `json:"contact_name"`    // registrations.contact_name
	ContactPhone   string             `json:"contact_phone"`   // registrations.contact_phone
	ContactEmail   string             `json:"contact_email"`   // registrations.contact_email
	Status         RegistrationStatus `json:"status"`          // registrations.status
	OrderID        *string            `json:"order_id"`        // registrations.order_id (nullable)

	ParticipantCost int64 `json:"participant_cost"` // registrations.participant_cost
	CompanionCost   int64 `json:"companion_cost"`   // registrations.companion_cost
	TentCost        int64 `json:"tent_cost"`        // registrations.tent_cost
	GrandTotal      int64 `json:"grand_total"`      // registrations.grand_total

	TempExcelPath        *string `json:"temp_excel_path"`
	TempPaymentProofPath *string `json:"temp_payment_proof_path"`
	TempReceiptPath      *string `json:"temp_receipt_path"`
	TempPhotosPath       *string `json:"temp_photos_path"`
	ExcelPath            *string `json:"excel_path"`
	PaymentProofPath     *string `json:"payment_proof_path"`
	ReceiptPath          *string `json:"receipt_path"`
	PhotosPath           *string `json:"photos_path"`

	RejectionReason *string    `json:"rejection_reason"`
	SubmittedAt     *time.Time `json:"submitted_at"`
	ConfirmedAt     *time.Time `json:"confirmed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HeadCount returns participants plus companions, the basis of the tent
// capacity policy.
type HeadCount struct {
	Participants int `json:"participants"`
	Companions   int `json:"companions"`
}

// Total is the number of people the registration brings.
func (h HeadCount) Total() int { return h.Participants + h.Companions }

// RegistrationDetail is the read model returned to the admin dashboard.
type RegistrationDetail struct {
	Registration
	Participants []Participant     `json:"participants"`
	Companions   []Companion       `json:"companions"`
	Reservations []TentReservation `json:"reservations"`
	Bookings     []TentBooking     `json:"bookings"`
}
