package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupOldSnapshots(t *testing.T) {
	base := t.TempDir()
	for _, name := range []string{"2026-01-01", "2026-02-28", "2026-03-01", "2026-03-14", "metadata", ".tmp"} {
		require.NoError(t, os.MkdirAll(filepath.Join(base, name), 0755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(base, "2025-01-01"), []byte("not a dir"), 0644))

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	deleted, err := CleanupOldSnapshots(base, 13, now)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{".tmp", "2025-01-01", "2026-03-01", "2026-03-14", "metadata"}, names)
}

func TestCleanupOldSnapshots_MissingDir(t *testing.T) {
	deleted, err := CleanupOldSnapshots(filepath.Join(t.TempDir(), "nope"), 30, time.Now())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestCleanupOldSnapshots_DisabledRetention(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "2000-01-01"), 0755))

	deleted, err := CleanupOldSnapshots(base, 0, time.Now())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
