package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the downloads table
// if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one writer; sqlite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		instance_id TEXT NOT NULL,
		url TEXT NOT NULL,
		file_path TEXT,
		status TEXT NOT NULL,
		message TEXT,
		mirror TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		bytes INTEGER NOT NULL DEFAULT 0,
		downloaded_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create downloads table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_downloads_batch ON downloads (batch_id)`); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create downloads index: %w", err)
	}

	return db, nil
}
