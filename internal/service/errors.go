// Package service implements the registration workflows: the tent
// inventory ledger, the reservation expiry sweeper, the two-phase
// confirmation pipeline, deletion and cleanup, and the registration
// lifecycle that feeds them.  Services own their transactions; the
// repositories only ever see a *sql.Tx handed down from here.
package service

import (
	"errors"
	"fmt"
)

// ErrInsufficientStock means a tent type did not have enough units left.
var ErrInsufficientStock = errors.New("insufficient tent stock")

// ErrInvalidState means the registration is not in the status the
// operation requires.
var ErrInvalidState = errors.New("invalid registration state")

// ErrNotFound means the registration (or the requested resource) does not
// exist.
var ErrNotFound = errors.New("not found")

// ValidationError carries a message that is shown to the caller verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validation is a shorthand constructor.
func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// TransactionFailure wraps a database error that rolled back a
// transaction.  The operation left no partial state and may be retried.
type TransactionFailure struct {
	Op  string
	Err error
}

func (e *TransactionFailure) Error() string { return e.Op + ": transaction failed: " + e.Err.Error() }

func (e *TransactionFailure) Unwrap() error { return e.Err }

// MoveFailure records an asset that could not be promoted to permanent
// storage.  It is kept in the confirmation outcome list and never returned
// by Confirm itself.
type MoveFailure struct {
	From string
	To   string
	Err  error
}

func (e *MoveFailure) Error() string { return fmt.Sprintf("move %s -> %s: %v", e.From, e.To, e.Err) }

func (e *MoveFailure) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
