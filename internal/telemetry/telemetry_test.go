package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Windecay/ComfyUI-Model-Downloader/internal/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledTelemetry_IsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	boom := errors.New("boom")

	err = tel.InstrumentDownload(ctx, "primary", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	tel.AddDownloadedBytes(ctx, 10)
	tel.RecordMirrorFallback(ctx, "hf-mirror.com", "success")
	tel.RecordRejectedURL(ctx)
	tel.RecordBatch(ctx, "batch", "success")
	assert.NoError(t, tel.Shutdown(ctx))

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNilTelemetry_IsNoop(t *testing.T) {
	var tel *Telemetry

	called := false
	err := tel.InstrumentDBOperation(context.Background(), "insert", func(context.Context) error {
		called = true

		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Nil(t, tel.Tracer())
}

func TestGetStatusClass(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		204: "2xx",
		302: "3xx",
		404: "4xx",
		503: "5xx",
		100: "unknown",
	}

	for code, want := range tests {
		assert.Equal(t, want, getStatusClass(code), "code %d", code)
	}
}

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", rec.Header().Get(RequestIDHeader))
}

func TestHTTPLogging_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{status: http.StatusOK, level: "INFO"},
		{status: http.StatusBadRequest, level: "WARN"},
		{status: http.StatusInternalServerError, level: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			h := HTTPLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("ok"))
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/downloads/batch", nil)
			req = req.WithContext(logctx.WithLogger(req.Context(), logger))

			h.ServeHTTP(httptest.NewRecorder(), req)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, float64(tt.status), entry["status"])
			assert.Equal(t, float64(2), entry["bytes"])
		})
	}
}
