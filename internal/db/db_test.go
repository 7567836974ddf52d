package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Memory(t *testing.T) {
	database, err := Open()
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
}

func TestOpen_FileCreatesParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")

	database, err := Open(WithPath(dbPath))
	require.NoError(t, err)
	defer database.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
	assert.FileExists(t, dbPath)
}

func TestOpen_SchemaIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	schema := WithSchema("CREATE TABLE IF NOT EXISTS runs (id TEXT PRIMARY KEY)")

	for range 2 {
		database, err := Open(WithPath(dbPath), schema)
		require.NoError(t, err)
		_, err = database.Exec("INSERT OR IGNORE INTO runs (id) VALUES ('a')")
		require.NoError(t, err)
		require.NoError(t, database.Close())
	}
}

func TestOpen_BadSchema(t *testing.T) {
	_, err := Open(WithSchema("CREATE TABLE ("))
	assert.Error(t, err)
}

func TestOpen_CustomPragmas(t *testing.T) {
	database, err := Open(WithPragmas("PRAGMA foreign_keys=ON;"))
	require.NoError(t, err)
	defer database.Close()

	var fk int
	require.NoError(t, database.Get(&fk, "PRAGMA foreign_keys"))
	assert.Equal(t, 1, fk)
}
