package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Windecay/ComfyUI-Model-Downloader/internal/logctx"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/transfer"
)

// DeleteStalePartials removes "*.partial" files older than maxAge from dirs.
// These are left behind when a process dies mid-download. Files younger than
// maxAge may belong to a transfer still running in another process and are
// kept. Missing directories are skipped. It returns how many files were
// removed; the first error encountered is returned after all dirs were swept.
func DeleteStalePartials(ctx context.Context, dirs []string, maxAge time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	var (
		removed  int
		firstErr error
	)

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			logger.Error("failed to read directory", "dir", dir, "err", err)

			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), transfer.PartialSuffix) {
				continue
			}

			path := filepath.Join(dir, entry.Name())

			info, err := entry.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue // finished or removed meanwhile
				}

				logger.Error("failed to stat partial file", "file", path, "err", err)

				continue
			}

			if now.Sub(info.ModTime()) <= maxAge {
				continue
			}

			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logger.Error("failed to delete stale partial file", "file", path, "err", err)

				if firstErr == nil {
					firstErr = err
				}

				continue
			}

			removed++

			logger.Info("deleted stale partial file", "file", path, "age", now.Sub(info.ModTime()).Round(time.Second))
		}
	}

	return removed, firstErr
}
