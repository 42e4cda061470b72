// ABOUTME: Tests for SQLite store setup and shared helpers
// ABOUTME: Provides setupTestStore used by every SQLite test in the package

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := t.Context()

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	_, err = first.AddUsage(ctx, "u-1", "2026-10", 42)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	units, err := second.PeriodUsage(ctx, "u-1", "2026-10")
	require.NoError(t, err)
	assert.Equal(t, int64(42), units)
}
