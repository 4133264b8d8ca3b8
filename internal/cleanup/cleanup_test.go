package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestDeleteStalePartials(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "old.safetensors.partial")
	fresh := filepath.Join(dir, "running.safetensors.partial")
	model := filepath.Join(dir, "old.safetensors")

	touch(t, stale, 48*time.Hour)
	touch(t, fresh, time.Minute)
	touch(t, model, 48*time.Hour)

	removed, err := DeleteStalePartials(context.Background(), []string{dir, filepath.Join(dir, "missing")}, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, model, "finished models are never touched")
}

func TestDeleteStalePartials_NoDirs(t *testing.T) {
	removed, err := DeleteStalePartials(context.Background(), nil, time.Hour)

	require.NoError(t, err)
	assert.Zero(t, removed)
}
