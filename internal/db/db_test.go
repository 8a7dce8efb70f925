package db

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `SELECT id FROM issues WHERE project_id=? AND title<>'why?' AND key=?`
	assert.Equal(t, q, Rebind(SQLite, q))
	assert.Equal(t, `SELECT id FROM issues WHERE project_id=$1 AND title<>'why?' AND key=$2`, Rebind(Postgres, q))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.True(t, IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: projects.key (2067)")))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
}

func TestOpenSQLiteWorkspace(t *testing.T) {
	ws := t.TempDir()
	conn, dialect, err := Open(Config{Workspace: ws})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, SQLite, dialect)
	require.NoError(t, conn.Ping())
	assert.FileExists(t, filepath.Join(ws, ".flowboard", "flowboard.db"))

	var fk int
	require.NoError(t, conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)

	_, _, err = Open(Config{Driver: "mysql"})
	assert.Error(t, err)
}
