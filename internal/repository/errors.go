// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// service package to distinguish between different failure scenarios.
// Guarded updates (UPDATE ... WHERE <precondition>) report a failed
// precondition through these sentinels instead of silently affecting
// zero rows, so callers can fail the surrounding transaction.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrRegistrationNotFound is returned when no registration row matches.
var ErrRegistrationNotFound = errors.New("registration not found")

// ErrTentTypeNotFound is returned when a tent type id does not exist.
var ErrTentTypeNotFound = errors.New("tent type not found")

// ErrReservationNotFound is returned when a reservation row was already
// removed, typically by a concurrent sweep.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrCheckpointNotFound is returned when no confirmation checkpoint
// exists for a registration.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ErrInsufficientStock is returned by the guarded decrement when the tent
// type does not have enough stock_available left.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrStockOverflow is returned by the guarded increment when releasing
// would push stock_available above stock_initial.
var ErrStockOverflow = errors.New("stock would exceed initial stock")

// ErrStateGuard is returned when a status-guarded update matched no rows
// because the registration is not in the required state anymore.
var ErrStateGuard = errors.New("registration state changed")

// ErrNameTaken is returned when another non-draft registration already
// uses the same normalized school name.
var ErrNameTaken = errors.New("normalized name already active")

// isDuplicate reports whether err is a unique key violation from MySQL
// (error 1062) or SQLite.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
