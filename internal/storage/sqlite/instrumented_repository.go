package sqlite

import (
	"context"
	"database/sql"

	"github.com/Windecay/ComfyUI-Model-Downloader/internal/storage"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

// GetDownloads retrieves recent downloads with telemetry.
func (r *InstrumentedDownloadRepository) GetDownloads(ctx context.Context, limit int) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetDownloads(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// TrackDownload stores an outcome with telemetry.
func (r *InstrumentedDownloadRepository) TrackDownload(ctx context.Context, record storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_download", func(ctx context.Context) error {
		return r.repo.TrackDownload(ctx, record)
	})
}
