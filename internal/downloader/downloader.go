package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Windecay/ComfyUI-Model-Downloader/internal/downloader/progress"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/folders"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/logctx"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/notifier"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/source"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/storage"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/telemetry"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/transfer"
	"github.com/dustin/go-humanize"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	dirPerm = 0755

	defaultProgressInterval = int64(100 * 1024 * 1024) // 100MB
)

// Informational messages returned instead of a transfer report.
const (
	MsgCancelled   = "download cancelled"
	MsgNoValidURLs = "no valid URLs provided"
	MsgNoValidURL  = "no valid URL provided"
)

// Downloader fetches model files into the directories of a folders.Resolver.
// Calls on the same Downloader are serialized; separate Downloaders do not
// coordinate with each other.
type Downloader struct {
	mu sync.Mutex

	resolver         folders.Resolver
	client           *http.Client
	history          storage.DownloadWriteRepository
	telemetry        *telemetry.Telemetry
	notifier         notifier.Notifier
	instanceID       string
	userAgent        string
	progressInterval int64
}

type Option func(*Downloader)

func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// WithHistory records every outcome in repo.
func WithHistory(repo storage.DownloadWriteRepository) Option {
	return func(d *Downloader) { d.history = repo }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(d *Downloader) { d.telemetry = t }
}

// WithNotifier sends a summary through n whenever a batch has failures.
func WithNotifier(n notifier.Notifier) Option {
	return func(d *Downloader) { d.notifier = n }
}

func WithUserAgent(ua string) Option {
	return func(d *Downloader) { d.userAgent = ua }
}

// WithProgressInterval sets how many bytes pass between progress logs.
func WithProgressInterval(n int64) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.progressInterval = n
		}
	}
}

func WithInstanceID(id string) Option {
	return func(d *Downloader) { d.instanceID = id }
}

func New(resolver folders.Resolver, opts ...Option) *Downloader {
	d := &Downloader{
		resolver:         resolver,
		client:           http.DefaultClient,
		instanceID:       InstanceID(),
		progressInterval: defaultProgressInterval,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// NewHTTPClient builds the client used for model downloads. Redirects follow
// the default policy and there is no overall request timeout, only limits on
// connecting and on waiting for response headers (0 disables the latter).
func NewHTTPClient(connectTimeout, responseHeaderTimeout time.Duration) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	base.TLSHandshakeTimeout = connectTimeout
	base.ResponseHeaderTimeout = responseHeaderTimeout

	return &http.Client{
		Transport: otelhttp.NewTransport(base),
	}
}

// Batch runs req and hands passthrough back untouched together with the
// combined report, so a caller can place a download step inline in a
// pipeline carrying values of any type.
func Batch[T any](ctx context.Context, d *Downloader, req transfer.BatchRequest, passthrough T) (T, string) {
	report := d.DownloadBatch(ctx, req)

	return passthrough, report.String()
}

// DownloadBatch downloads every non-blank URL of req in order while holding
// the downloader lock. Per-URL failures become report lines; the batch always
// runs to the end.
func (d *Downloader) DownloadBatch(ctx context.Context, req transfer.BatchRequest) transfer.Report {
	if !req.Run {
		d.telemetry.RecordBatch(ctx, "batch", "cancelled")

		return transfer.MessageReport(MsgCancelled)
	}

	urls := transfer.BlankFiltered(req.URLs)
	if len(urls) == 0 {
		d.telemetry.RecordBatch(ctx, "batch", "empty")

		return transfer.MessageReport(MsgNoValidURLs)
	}

	report := transfer.Report{ID: ksuid.New().String()}

	logger := logctx.LoggerFromContext(ctx).With("batch_id", report.ID)
	ctx = logctx.WithLogger(ctx, logger)

	d.mu.Lock()
	defer d.mu.Unlock()

	logger.Info("starting batch", "urls", len(urls), "folder", req.Folder, "overwrite", req.Overwrite)

	for _, u := range urls {
		out := d.process(ctx, u, req.Folder, req.Overwrite)
		report.Outcomes = append(report.Outcomes, out)

		d.track(ctx, report.ID, out)
	}

	failed := report.Failed()

	logger.Info("batch finished", "urls", len(urls), "failed", failed)
	d.telemetry.RecordBatch(ctx, "batch", batchStatus(failed, len(urls)))
	d.notifyFailures(ctx, report)

	return report
}

// DownloadSingle downloads one URL and returns the file name on success
// together with the outcome message. The name is empty on any failure.
func (d *Downloader) DownloadSingle(ctx context.Context, req transfer.SingleRequest) (string, string) {
	if !req.Run {
		d.telemetry.RecordBatch(ctx, "single", "cancelled")

		return "", MsgCancelled
	}

	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		d.telemetry.RecordBatch(ctx, "single", "empty")

		return "", MsgNoValidURL
	}

	report := transfer.Report{ID: ksuid.New().String()}

	logger := logctx.LoggerFromContext(ctx).With("batch_id", report.ID)
	ctx = logctx.WithLogger(ctx, logger)

	finalPath, err := d.destination(rawURL, req.Folder)
	if err != nil {
		logger.Error("failed to resolve destination", "url", rawURL, "err", err)
		d.telemetry.RecordBatch(ctx, "single", "failed")

		return "", fmt.Sprintf("error processing URL: %v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	out := d.guarded(rawURL, func() transfer.Outcome {
		return d.DownloadWithFallback(ctx, rawURL, finalPath, req.Overwrite)
	})
	report.Outcomes = append(report.Outcomes, out)

	d.track(ctx, report.ID, out)
	d.telemetry.RecordBatch(ctx, "single", batchStatus(report.Failed(), 1))
	d.notifyFailures(ctx, report)

	if !out.Success {
		return "", out.Message
	}

	return filepath.Base(finalPath), out.Message
}

// DownloadWithFallback rejects untrusted URLs, then attempts the download and,
// if that fails and the host has a mirror, retries exactly once on the mirror.
func (d *Downloader) DownloadWithFallback(ctx context.Context, rawURL, finalPath string, overwrite bool) transfer.Outcome {
	logger := logctx.LoggerFromContext(ctx)

	if !source.IsTrusted(rawURL) {
		err := &transfer.UntrustedURLError{URL: rawURL, Allowed: source.TrustedDomains}

		logger.Warn("rejected untrusted url", "url", rawURL)
		d.telemetry.RecordRejectedURL(ctx)

		return transfer.Outcome{
			URL:         rawURL,
			Rejected:    true,
			Message:     err.Error(),
			State:       transfer.StateRejected,
			Transitions: []transfer.State{transfer.StatePending, transfer.StateRejected},
			Err:         err,
		}
	}

	transitions := []transfer.State{transfer.StatePending, transfer.StateTrusted, transfer.StateAttemptingPrimary}

	out := d.instrumentedAttempt(ctx, "primary", rawURL, finalPath, overwrite)

	from, to, ok := source.MirrorFor(rawURL)
	if out.Success || !ok {
		out.Transitions = append(transitions, out.State)

		return out
	}

	mirrorURL := source.RewriteHost(rawURL, from, to)

	logger.Warn("download failed, retrying on mirror",
		"url", rawURL,
		"mirror_url", mirrorURL,
		"state", transfer.StateAttemptingMirror,
		"err", out.Err,
	)

	retry := d.instrumentedAttempt(ctx, "mirror", mirrorURL, finalPath, overwrite)
	retry.URL = rawURL
	retry.Mirror = to
	retry.Attempts = out.Attempts + retry.Attempts
	retry.Transitions = append(transitions, transfer.StateAttemptingMirror, retry.State)

	status := "success"
	if !retry.Success {
		status = "error"
	}

	d.telemetry.RecordMirrorFallback(ctx, to, status)

	return retry
}

func (d *Downloader) instrumentedAttempt(ctx context.Context, attempt, rawURL, finalPath string, overwrite bool) transfer.Outcome {
	var out transfer.Outcome

	_ = d.telemetry.InstrumentDownload(ctx, attempt, func(ctx context.Context) error {
		out = d.Attempt(ctx, rawURL, finalPath, overwrite)

		return out.Err
	})

	return out
}

// Attempt downloads rawURL to finalPath once. Bytes are streamed into
// finalPath + ".partial" and only renamed over finalPath after the whole body
// was written, so finalPath never holds a truncated file. On any failure the
// partial file is removed.
func (d *Downloader) Attempt(ctx context.Context, rawURL, finalPath string, overwrite bool) transfer.Outcome {
	logger := logctx.LoggerFromContext(ctx).With("url", rawURL, "file_path", finalPath)

	req := transfer.Request{
		URL:       rawURL,
		Dir:       filepath.Dir(finalPath),
		FinalPath: finalPath,
		Overwrite: overwrite,
	}

	if _, err := os.Stat(finalPath); err == nil {
		if !overwrite {
			logger.Info("file already exists, skipping download")

			return transfer.Outcome{
				URL:      rawURL,
				Success:  true,
				Skipped:  true,
				Message:  fmt.Sprintf("file already exists, skipping download: %s", finalPath),
				Path:     finalPath,
				Attempts: 1,
				State:    transfer.StateSucceeded,
			}
		}

		logger.Info("file already exists, it will be replaced once the download completes")
	}

	n, err := d.fetch(ctx, req, logger)
	if err != nil {
		if rmErr := os.Remove(req.PartialPath()); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			logger.Warn("failed to remove partial file", "partial", req.PartialPath(), "err", rmErr)
		}

		msg := fmt.Sprintf("download failed: %s. error: %v", rawURL, err)
		if errors.Is(err, transfer.ErrFileMissing) {
			msg = fmt.Sprintf("%v: %s", transfer.ErrFileMissing, finalPath)
		}

		logger.Error("download failed", "err", err, "error_kind", transfer.Kind(err))

		return transfer.Outcome{
			URL:      rawURL,
			Message:  msg,
			Attempts: 1,
			Bytes:    n,
			State:    transfer.StateFailed,
			Err:      err,
		}
	}

	logger.Info("download completed", "size", humanize.Bytes(uint64(n)))

	return transfer.Outcome{
		URL:      rawURL,
		Success:  true,
		Message:  fmt.Sprintf("download completed: %s", finalPath),
		Path:     finalPath,
		Attempts: 1,
		Bytes:    n,
		State:    transfer.StateSucceeded,
	}
}

func (d *Downloader) fetch(ctx context.Context, req transfer.Request, logger *slog.Logger) (int64, error) {
	if err := os.MkdirAll(req.Dir, dirPerm); err != nil {
		return 0, &transfer.FilesystemError{Op: "mkdir", Path: req.Dir, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return 0, &transfer.NetworkError{Operation: "request", URL: req.URL, Err: err}
	}

	if d.userAgent != "" {
		httpReq.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, &transfer.NetworkError{Operation: "request", URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &transfer.StatusError{
			URL:        resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	n, err := d.writePartial(ctx, req, resp.Body, resp.ContentLength, logger)
	if err != nil {
		return n, err
	}

	return n, commit(req)
}

func (d *Downloader) writePartial(ctx context.Context, req transfer.Request, body io.Reader, total int64, logger *slog.Logger) (int64, error) {
	partial := req.PartialPath()

	if total > 0 {
		logger.Info("downloading file", "file_size", humanize.Bytes(uint64(total)))
	} else {
		logger.Info("downloading file", "file_size", "unknown")
	}

	out, err := os.Create(partial)
	if err != nil {
		return 0, &transfer.FilesystemError{Op: "create", Path: partial, Err: err}
	}

	pr := progress.NewReader(body, total, d.progressInterval, func(s progress.Snapshot) {
		args := []any{
			"downloaded", humanize.Bytes(uint64(s.Read)),
			"speed", humanize.Bytes(uint64(s.Rate)) + "/s",
		}
		if pct := s.Percent(); pct >= 0 {
			args = append(args,
				"total", humanize.Bytes(uint64(s.Total)),
				"percent", humanize.FtoaWithDigits(pct, 2),
			)
		}

		logger.Debug("download progress", args...)
	})

	_, copyErr := io.Copy(out, pr)
	closeErr := out.Close()

	n := pr.BytesRead()
	d.telemetry.AddDownloadedBytes(ctx, n)

	if copyErr != nil {
		var pathErr *fs.PathError
		if errors.As(copyErr, &pathErr) {
			return n, &transfer.FilesystemError{Op: "write", Path: partial, Err: copyErr}
		}

		return n, &transfer.NetworkError{Operation: "read_body", URL: req.URL, Err: copyErr}
	}

	if closeErr != nil {
		return n, &transfer.FilesystemError{Op: "close", Path: partial, Err: closeErr}
	}

	logger.Debug("stream finished",
		"downloaded", humanize.Bytes(uint64(n)),
		"speed", humanize.Bytes(uint64(pr.Rate()))+"/s",
	)

	return n, nil
}

// commit replaces the final file with the finished partial.
func commit(req transfer.Request) error {
	partial := req.PartialPath()

	if _, err := os.Stat(partial); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return transfer.ErrFileMissing
		}

		return &transfer.FilesystemError{Op: "stat", Path: partial, Err: err}
	}

	if err := os.Remove(req.FinalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &transfer.FilesystemError{Op: "remove", Path: req.FinalPath, Err: err}
	}

	if err := os.Rename(partial, req.FinalPath); err != nil {
		return &transfer.FilesystemError{Op: "rename", Path: req.FinalPath, Err: err}
	}

	return nil
}

// process resolves the destination of one batch URL and downloads it.
func (d *Downloader) process(ctx context.Context, rawURL, folder string, overwrite bool) transfer.Outcome {
	return d.guarded(rawURL, func() transfer.Outcome {
		finalPath, err := d.destination(rawURL, folder)
		if err != nil {
			logctx.LoggerFromContext(ctx).Error("failed to resolve destination", "url", rawURL, "err", err)

			return processingFailure(rawURL, err)
		}

		return d.DownloadWithFallback(ctx, rawURL, finalPath, overwrite)
	})
}

// guarded turns a panic in fn into a failed outcome for rawURL.
func (d *Downloader) guarded(rawURL string, fn func() transfer.Outcome) (out transfer.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = processingFailure(rawURL, fmt.Errorf("panic: %v", r))
		}
	}()

	return fn()
}

func processingFailure(rawURL string, err error) transfer.Outcome {
	return transfer.Outcome{
		URL:     rawURL,
		Message: fmt.Sprintf("error processing URL %s: %v", rawURL, err),
		State:   transfer.StateFailed,
		Err:     err,
	}
}

// destination builds the final path for rawURL. It does not touch the disk.
func (d *Downloader) destination(rawURL, folder string) (string, error) {
	name, err := source.FileName(rawURL)
	if err != nil {
		return "", err
	}

	if folder == "" {
		folder = folders.DefaultFolder
	}

	dir, err := folders.Dir(d.resolver, folder)
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, name), nil
}

func (d *Downloader) track(ctx context.Context, batchID string, out transfer.Outcome) {
	if d.history == nil {
		return
	}

	rec := storage.DownloadRecord{
		BatchID:    batchID,
		InstanceID: d.instanceID,
		URL:        out.URL,
		FilePath:   out.Path,
		Status:     recordStatus(out),
		Message:    out.Message,
		Mirror:     out.Mirror,
		Attempts:   out.Attempts,
		Bytes:      out.Bytes,
	}

	if err := d.history.TrackDownload(ctx, rec); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to track download", "url", out.URL, "err", err)
		d.telemetry.RecordSystemError(ctx, "storage", "track_download")
	}
}

func (d *Downloader) notifyFailures(ctx context.Context, report transfer.Report) {
	failed := report.Failed()
	if d.notifier == nil || failed == 0 {
		return
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%d of %d model downloads failed (batch %s)", failed, len(report.Outcomes), report.ID)

	for _, o := range report.Outcomes {
		if !o.Success {
			b.WriteString("\n")
			b.WriteString(o.Message)
		}
	}

	if err := d.notifier.Notify(ctx, b.String()); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send notification", "batch_id", report.ID, "err", err)
		d.telemetry.RecordSystemError(ctx, "notifier", "notify")
	}
}

func recordStatus(out transfer.Outcome) string {
	switch {
	case out.Skipped:
		return storage.StatusSkipped
	case out.Success:
		return storage.StatusDownloaded
	case out.Rejected:
		return storage.StatusRejected
	default:
		return storage.StatusFailed
	}
}

func batchStatus(failed, total int) string {
	switch {
	case failed == 0:
		return "success"
	case failed == total:
		return "failed"
	default:
		return "partial"
	}
}
