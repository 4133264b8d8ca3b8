package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/Windecay/ComfyUI-Model-Downloader/internal/storage"
)

const defaultLimit = 100

type DownloadRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn, now: time.Now}
}

// TrackDownload stores one outcome. DownloadedAt defaults to now.
func (r *DownloadRepository) TrackDownload(ctx context.Context, rec storage.DownloadRecord) error {
	if rec.DownloadedAt == "" {
		rec.DownloadedAt = r.now().UTC().Format(time.RFC3339)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO downloads
			(batch_id, instance_id, url, file_path, status, message, mirror, attempts, bytes, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BatchID, rec.InstanceID, rec.URL, rec.FilePath, rec.Status, rec.Message,
		rec.Mirror, rec.Attempts, rec.Bytes, rec.DownloadedAt,
	)

	return err
}

func (r *DownloadRepository) GetDownloads(ctx context.Context, limit int) ([]storage.DownloadRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, batch_id, instance_id, url, file_path, status, message, mirror, attempts, bytes, downloaded_at
		FROM downloads
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		var (
			record                       storage.DownloadRecord
			filePath, message, mirrorCol sql.NullString
		)

		err := rows.Scan(
			&record.ID, &record.BatchID, &record.InstanceID, &record.URL, &filePath,
			&record.Status, &message, &mirrorCol, &record.Attempts, &record.Bytes, &record.DownloadedAt,
		)
		if err != nil {
			return nil, err
		}

		record.FilePath = filePath.String
		record.Message = message.String
		record.Mirror = mirrorCol.String

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}
