package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	dsn := Options{User: "camp", Pass: "s3cret", Host: "db", Port: "3306", Name: "camp"}.DSN()
	assert.True(t, strings.HasPrefix(dsn, "camp:s3cret@tcp(db:3306)/camp?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestSchemaStatements(t *testing.T) {
	stmts := Statements(schemaSQL)
	require.NotEmpty(t, stmts)
	for _, s := range stmts {
		assert.True(t, strings.HasPrefix(s, "CREATE TABLE IF NOT EXISTS"), s)
	}
	assert.Equal(t, []string{"a", "b"}, Statements(" a ;\n\n; b;"))
}
