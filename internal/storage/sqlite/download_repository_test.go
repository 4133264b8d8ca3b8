package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Windecay/ComfyUI-Model-Downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadRepository_TrackAndList(t *testing.T) {
	db, err := InitDB(filepath.Join(t.TempDir(), "downloads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewInstrumentedDownloadRepository(db, nil)
	repo.repo.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	ctx := context.Background()

	require.NoError(t, repo.TrackDownload(ctx, storage.DownloadRecord{
		BatchID:    "batch-1",
		InstanceID: "host-1",
		URL:        "https://huggingface.co/a/model.safetensors",
		FilePath:   "/models/checkpoints/model.safetensors",
		Status:     storage.StatusDownloaded,
		Message:    "download completed",
		Attempts:   1,
		Bytes:      42,
	}))
	require.NoError(t, repo.TrackDownload(ctx, storage.DownloadRecord{
		BatchID:    "batch-1",
		InstanceID: "host-1",
		URL:        "https://evil.com/x.bin",
		Status:     storage.StatusRejected,
	}))

	records, err := repo.GetDownloads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, storage.StatusRejected, records[0].Status, "newest first")
	assert.Empty(t, records[0].FilePath)

	assert.Equal(t, "/models/checkpoints/model.safetensors", records[1].FilePath)
	assert.Equal(t, int64(42), records[1].Bytes)
	assert.Equal(t, "2025-01-02T03:04:05Z", records[1].DownloadedAt)

	limited, err := repo.GetDownloads(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
