package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpen_InMemory verifies the in-memory database opens and responds.
func TestOpen_InMemory(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.PingContext(context.Background()))
}

// TestOpen_CreatesFile verifies a file-backed database can be created in a
// fresh directory.
func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.db")

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	var one int
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}
