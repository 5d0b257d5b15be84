package model

import (
	"encoding/json"
	"time"
)

// AuditAction names a state-changing admin action.
type AuditAction string

const (
	ActionRegistrationCreated   AuditAction = "REGISTRATION_CREATED"
	ActionSpreadsheetProcessed  AuditAction = "SPREADSHEET_PROCESSED"
	ActionTentsReserved         AuditAction = "TENTS_RESERVED"
	ActionRegistrationSubmitted AuditAction = "REGISTRATION_SUBMITTED"
	ActionRegistrationConfirmed AuditAction = "REGISTRATION_CONFIRMED"
	ActionRegistrationRejected  AuditAction = "REGISTRATION_REJECTED"
	ActionRegistrationDeleted   AuditAction = "REGISTRATION_DELETED"
)

// AuditLog is an append-only record of who did what to which
// registration.  RegistrationID is deliberately not a foreign key so the
// row outlives the registration it describes.
type AuditLog struct {
	ID             uint64          `json:"id"`              // audit_logs.id
	ActorID        string          `json:"actor_id"`        // audit_logs.actor_id
	ActorIP        string          `json:"actor_ip"`        // audit_logs.actor_ip
	Action         AuditAction     `json:"action"`          // audit_logs.action
	RegistrationID *uint64         `json:"registration_id"` // audit_logs.registration_id
	Detail         json.RawMessage `json:"detail"`          // audit_logs.detail (JSON)
	CreatedAt      time.Time       `json:"created_at"`      // audit_logs.created_at
}
