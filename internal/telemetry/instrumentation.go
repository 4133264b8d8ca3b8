package telemetry

import (
	"context"
	"time"

	"github.com/Windecay/ComfyUI-Model-Downloader/internal/transfer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes must stay bounded: no URLs, file paths or error text.
// Those go to logs, which carry trace_id for correlation.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(
			attribute.Bool("error", true),
			attribute.String("error.kind", transfer.Kind(err)),
		)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(ctx, operation, status, time.Since(start))

	return err
}

// InstrumentDownload instruments one transfer attempt. attempt is "primary"
// or "mirror".
func (t *Telemetry) InstrumentDownload(ctx context.Context, attempt string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveDownloads(ctx)
	defer t.DecrementActiveDownloads(ctx)

	err := t.InstrumentOperation(ctx, "download_"+attempt, "downloader", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDownload(ctx, attempt, status, transfer.Kind(err), time.Since(start))

	return err
}
