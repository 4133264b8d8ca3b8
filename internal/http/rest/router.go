package rest

import (
	"net/http"

	"github.com/Windecay/ComfyUI-Model-Downloader/internal/telemetry"
	"github.com/go-chi/chi/v5"
)

// NewRouter mounts the download API together with health and metrics
// endpoints behind the request id, logging and telemetry middlewares.
func NewRouter(downloads *DownloadsHandler, tel *telemetry.Telemetry) http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", tel.Handler())

	r.Mount("/api/v1/downloads", downloads.Routes())

	return r
}
