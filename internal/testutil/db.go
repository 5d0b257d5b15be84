// Package testutil holds helpers shared by package tests.  OpenDB gives
// each test its own in-memory SQLite database carrying a SQLite rendition
// of the MySQL schema; the repositories only use SQL both engines accept.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/camp-registration/internal/database"
)

const sqliteSchema = `
CREATE TABLE registrations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    school_name TEXT NOT NULL,
    normalized_name TEXT NOT NULL,
    contact_name TEXT NOT NULL DEFAULT '',
    contact_phone TEXT NOT NULL DEFAULT '',
    contact_email TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'DRAFT' CHECK (status IN ('DRAFT','SUBMITTED','CONFIRMED','REJECTED')),
    folder TEXT NULL UNIQUE,
    order_id TEXT NULL UNIQUE,
    participant_cost INTEGER NOT NULL DEFAULT 0,
    companion_cost INTEGER NOT NULL DEFAULT 0,
    tent_cost INTEGER NOT NULL DEFAULT 0,
    grand_total INTEGER NOT NULL DEFAULT 0,
    temp_excel_path TEXT NULL,
    temp_payment_proof_path TEXT NULL,
    temp_receipt_path TEXT NULL,
    temp_photos_path TEXT NULL,
    excel_path TEXT NULL,
    payment_proof_path TEXT NULL,
    receipt_path TEXT NULL,
    photos_path TEXT NULL,
    rejection_reason TEXT NULL,
    submitted_at DATETIME NULL,
    confirmed_at DATETIME NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX uq_registrations_active_name ON registrations (normalized_name) WHERE status <> 'DRAFT';

CREATE TABLE participants (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    registration_id INTEGER NOT NULL REFERENCES registrations (id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    birth_place TEXT NOT NULL DEFAULT '',
    birth_date DATE NULL,
    address TEXT NULL,
    blood_type TEXT NOT NULL DEFAULT '',
    entry_year INTEGER NOT NULL DEFAULT 0,
    phone TEXT NOT NULL DEFAULT '',
    gender TEXT NOT NULL DEFAULT '',
    photo_path TEXT NULL
);

CREATE TABLE companions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    registration_id INTEGER NOT NULL REFERENCES registrations (id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    birth_place TEXT NOT NULL DEFAULT '',
    birth_date DATE NULL,
    address TEXT NULL,
    blood_type TEXT NOT NULL DEFAULT '',
    entry_year INTEGER NOT NULL DEFAULT 0,
    phone TEXT NOT NULL DEFAULT '',
    gender TEXT NOT NULL DEFAULT ''
);

CREATE TABLE tent_types (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    label TEXT NOT NULL,
    capacity INTEGER NOT NULL,
    price INTEGER NOT NULL DEFAULT 0,
    stock_initial INTEGER NOT NULL,
    stock_available INTEGER NOT NULL,
    CHECK (stock_available >= 0 AND stock_available <= stock_initial)
);

CREATE TABLE tent_reservations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    registration_id INTEGER NOT NULL REFERENCES registrations (id) ON DELETE CASCADE,
    tent_type_id INTEGER NOT NULL REFERENCES tent_types (id),
    quantity INTEGER NOT NULL,
    expires_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE tent_bookings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    registration_id INTEGER NOT NULL REFERENCES registrations (id) ON DELETE CASCADE,
    tent_type_id INTEGER NOT NULL REFERENCES tent_types (id),
    quantity INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE audit_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    actor_id TEXT NOT NULL,
    actor_ip TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL,
    registration_id INTEGER NULL,
    detail TEXT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE confirmation_checkpoints (
    registration_id INTEGER NOT NULL PRIMARY KEY REFERENCES registrations (id) ON DELETE CASCADE,
    payload TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// OpenDB returns a fresh in-memory database with the schema applied.  The
// pool is limited to one connection, so concurrent transactions queue up
// behind each other the way row locks serialize them in MySQL.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, stmt := range database.Statements(sqliteSchema) {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	return db
}
