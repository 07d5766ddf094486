package migrations

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesSchema(t *testing.T) {
	db, err := Open(MemoryDSN, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"providers", "chat_sessions", "chat_messages"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	// A second run is a no-op.
	require.NoError(t, RunMigrations(db, zerolog.Nop()))
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "launcher.db")
	db, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.FileExists(t, path)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "a.db?_foreign_keys=on&_busy_timeout=5000", dsn("a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_foreign_keys=on&_busy_timeout=5000", dsn("file:a.db?mode=rwc"))
}
