package storage

import "context"

// Download statuses stored with each record.
const (
	StatusDownloaded = "downloaded"
	StatusSkipped    = "skipped"
	StatusRejected   = "rejected"
	StatusFailed     = "failed"
)

// DownloadRecord represents the outcome of one URL of a batch.
type DownloadRecord struct {
	ID           int64
	BatchID      string
	InstanceID   string
	URL          string
	FilePath     string
	Status       string
	Message      string
	Mirror       string
	Attempts     int
	Bytes        int64
	DownloadedAt string
}

type DownloadReadRepository interface {
	// GetDownloads returns the most recent records first, at most limit.
	GetDownloads(ctx context.Context, limit int) ([]DownloadRecord, error)
}

type DownloadWriteRepository interface {
	TrackDownload(ctx context.Context, record DownloadRecord) error
}

type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
