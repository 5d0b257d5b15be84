package repository

import (
	"database/sql"
	"strings"
	"time"
)

// dbTimeLayout is the DATETIME format accepted by MySQL and understood by
// the sqlite driver when scanning back into time.Time.
const dbTimeLayout = "2006-01-02 15:04:05"

// dbTime formats t in UTC for DATETIME columns.
func dbTime(t time.Time) string { return t.UTC().Format(dbTimeLayout) }

// nowUTC is the clock used for updated_at columns.
var nowUTC = func() time.Time { return time.Now().UTC() }

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func ptrString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func ptrTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format("2006-01-02")
}

func nullDateTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return dbTime(*t)
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func uint64Args(ids []uint64) []any {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}
