package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Windecay/ComfyUI-Model-Downloader/internal/folders"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/logctx"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/storage"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/transfer"
	"github.com/go-chi/chi/v5"
)

const (
	// MaxBatchURLs is the number of URL slots a batch accepts.
	MaxBatchURLs = 5

	maxRequestBody      = 1 << 20 // 1MB
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Downloader is the part of the download engine the handlers drive.
type Downloader interface {
	DownloadBatch(ctx context.Context, req transfer.BatchRequest) transfer.Report
	DownloadSingle(ctx context.Context, req transfer.SingleRequest) (string, string)
}

type BatchRequest struct {
	URLs        []string        `json:"urls"`
	Folder      string          `json:"folder"`
	Run         *bool           `json:"run"`
	Overwrite   bool            `json:"overwrite"`
	Passthrough json.RawMessage `json:"passthrough,omitempty"`
}

type SingleRequest struct {
	URL         string          `json:"url"`
	Folder      string          `json:"folder"`
	Run         *bool           `json:"run"`
	Overwrite   bool            `json:"overwrite"`
	Passthrough json.RawMessage `json:"passthrough,omitempty"`
}

type Result struct {
	URL      string `json:"url"`
	Success  bool   `json:"success"`
	Skipped  bool   `json:"skipped"`
	Rejected bool   `json:"rejected"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
	Attempts int    `json:"attempts"`
	Mirror   string `json:"mirror,omitempty"`
}

type BatchResponse struct {
	ID          string          `json:"id,omitempty"`
	Passthrough json.RawMessage `json:"passthrough,omitempty"`
	Report      string          `json:"report"`
	Results     []Result        `json:"results"`
}

type SingleResponse struct {
	Passthrough json.RawMessage `json:"passthrough,omitempty"`
	ModelName   string          `json:"model_name"`
	Message     string          `json:"message"`
}

type HistoryRecord struct {
	ID           int64  `json:"id"`
	BatchID      string `json:"batch_id"`
	InstanceID   string `json:"instance_id"`
	URL          string `json:"url"`
	FilePath     string `json:"file_path,omitempty"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	Mirror       string `json:"mirror,omitempty"`
	Attempts     int    `json:"attempts"`
	Bytes        int64  `json:"bytes"`
	DownloadedAt string `json:"downloaded_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type DownloadsHandler struct {
	downloader Downloader
	history    storage.DownloadReadRepository
}

// NewDownloadsHandler creates the download API. history may be nil when the
// history store is disabled.
func NewDownloadsHandler(d Downloader, history storage.DownloadReadRepository) *DownloadsHandler {
	return &DownloadsHandler{
		downloader: d,
		history:    history,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/batch", h.HandleBatch)
	r.Post("/single", h.HandleSingle)
	r.Get("/", h.HandleHistory)

	return r
}

// HandleBatch downloads up to MaxBatchURLs models. Transfers are not tied to
// the request: a client that disconnects does not abort them.
func (h *DownloadsHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req BatchRequest
	if err := decode(w, r, &req); err != nil {
		logger.Error("failed to decode request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if len(req.URLs) > MaxBatchURLs {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls are accepted, got %d", MaxBatchURLs, len(req.URLs)))

		return
	}

	report := h.downloader.DownloadBatch(context.WithoutCancel(r.Context()), transfer.BatchRequest{
		URLs:      req.URLs,
		Folder:    folderOrDefault(req.Folder),
		Run:       runOrDefault(req.Run),
		Overwrite: req.Overwrite,
	})

	resp := BatchResponse{
		ID:          report.ID,
		Passthrough: req.Passthrough,
		Report:      report.String(),
		Results:     make([]Result, 0, len(report.Outcomes)),
	}

	// informational reports carry a message but no URL
	for _, o := range report.Outcomes {
		if o.URL == "" {
			continue
		}

		resp.Results = append(resp.Results, Result{
			URL:      o.URL,
			Success:  o.Success,
			Skipped:  o.Skipped,
			Rejected: o.Rejected,
			Message:  o.Message,
			Path:     o.Path,
			Attempts: o.Attempts,
			Mirror:   o.Mirror,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *DownloadsHandler) HandleSingle(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req SingleRequest
	if err := decode(w, r, &req); err != nil {
		logger.Error("failed to decode request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	name, msg := h.downloader.DownloadSingle(context.WithoutCancel(r.Context()), transfer.SingleRequest{
		URL:       req.URL,
		Folder:    folderOrDefault(req.Folder),
		Run:       runOrDefault(req.Run),
		Overwrite: req.Overwrite,
	})

	writeJSON(w, http.StatusOK, SingleResponse{
		Passthrough: req.Passthrough,
		ModelName:   name,
		Message:     msg,
	})
}

// HandleHistory lists recent downloads, newest first.
func (h *DownloadsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "download history is disabled")

		return
	}

	limit := defaultHistoryLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit))

			return
		}

		limit = n
	}

	records, err := h.history.GetDownloads(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list downloads", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list downloads")

		return
	}

	out := make([]HistoryRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, HistoryRecord(rec))
	}

	writeJSON(w, http.StatusOK, out)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	return json.NewDecoder(r.Body).Decode(v)
}

func folderOrDefault(folder string) string {
	if folder == "" {
		return folders.DefaultFolder
	}

	return folder
}

func runOrDefault(run *bool) bool {
	if run == nil {
		return true
	}

	return *run
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
