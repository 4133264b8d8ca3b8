package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const systemMetricsInterval = 15 * time.Second

// Telemetry holds all telemetry instruments and providers. A nil *Telemetry
// and a disabled one are both safe to use; every method becomes a no-op.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	exporter       *prometheus.Exporter
	diskPath       string

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// USE Metrics (Utilization, Saturation, Errors)
	cpuUsage  metric.Float64Gauge
	diskUsage metric.Int64Gauge
	diskFree  metric.Int64Gauge

	// Business Metrics
	downloadsTotal      metric.Int64Counter
	downloadsActive     metric.Int64UpDownCounter
	downloadDuration    metric.Float64Histogram
	downloadBytes       metric.Int64Counter
	mirrorFallbacks     metric.Int64Counter
	rejectedURLs        metric.Int64Counter
	batchesTotal        metric.Int64Counter
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram

	// System health
	systemErrors metric.Int64Counter
	systemUptime metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint enables pushing metrics over OTLP/gRPC in addition to the
	// prometheus endpoint.
	OTLPEndpoint string
	// DiskPath is the filesystem whose usage is reported, normally the
	// models directory.
	DiskPath string
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	opts := []sdkmetric.Option{
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName),
		exporter:       exporter,
		diskPath:       cfg.DiskPath,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer, nil when telemetry is disabled.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil {
		return nil
	}

	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(ctx context.Context, method, route, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(ctx, 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight(ctx context.Context) {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(ctx, 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight(ctx context.Context) {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(ctx, -1)
	}
}

// RecordDownload records the result of one transfer attempt.
func (t *Telemetry) RecordDownload(ctx context.Context, attempt, status, errorKind string, duration time.Duration) {
	if t == nil {
		return
	}

	if t.downloadsTotal != nil {
		t.downloadsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("attempt", attempt),
			attribute.String("status", status),
			attribute.String("error_kind", errorKind),
		))
	}

	if t.downloadDuration != nil {
		t.downloadDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("attempt", attempt),
			attribute.String("status", status),
		))
	}
}

// AddDownloadedBytes adds n to the downloaded bytes counter.
func (t *Telemetry) AddDownloadedBytes(ctx context.Context, n int64) {
	if t != nil && t.downloadBytes != nil && n > 0 {
		t.downloadBytes.Add(ctx, n)
	}
}

// RecordMirrorFallback records a retry against a mirror domain.
func (t *Telemetry) RecordMirrorFallback(ctx context.Context, mirror, status string) {
	if t != nil && t.mirrorFallbacks != nil {
		t.mirrorFallbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("mirror", mirror),
			attribute.String("status", status),
		))
	}
}

// RecordRejectedURL records a URL refused by the trust filter.
func (t *Telemetry) RecordRejectedURL(ctx context.Context) {
	if t != nil && t.rejectedURLs != nil {
		t.rejectedURLs.Add(ctx, 1)
	}
}

// RecordBatch records a finished batch invocation.
func (t *Telemetry) RecordBatch(ctx context.Context, entrypoint, status string) {
	if t != nil && t.batchesTotal != nil {
		t.batchesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("entrypoint", entrypoint),
			attribute.String("status", status),
		))
	}
}

// IncrementActiveDownloads increments active downloads counter.
func (t *Telemetry) IncrementActiveDownloads(ctx context.Context) {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(ctx, 1)
	}
}

// DecrementActiveDownloads decrements active downloads counter.
func (t *Telemetry) DecrementActiveDownloads(ctx context.Context) {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(ctx, -1)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(ctx, 1, attrs)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(ctx context.Context, component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", component),
			attribute.String("error_type", errorType),
		))
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes and stops the meter and tracer providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error

	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}

	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

// initializeMetrics creates all metric instruments.
func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	if err := t.initializeUSEMetrics(); err != nil {
		return err
	}

	if err := t.initializeBusinessMetrics(); err != nil {
		return err
	}

	return t.initializeSystemMetrics()
}

func (t *Telemetry) initializeREDMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeUSEMetrics() error {
	var err error

	t.cpuUsage, err = t.meter.Float64Gauge(
		"cpu_usage_percent",
		metric.WithDescription("CPU usage percentage"),
		metric.WithUnit("%"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cpu_usage gauge: %w", err)
	}

	t.diskUsage, err = t.meter.Int64Gauge(
		"disk_usage_bytes",
		metric.WithDescription("Used bytes on the models filesystem"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return fmt.Errorf("failed to create disk_usage gauge: %w", err)
	}

	t.diskFree, err = t.meter.Int64Gauge(
		"disk_free_bytes",
		metric.WithDescription("Free bytes on the models filesystem"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return fmt.Errorf("failed to create disk_free gauge: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeBusinessMetrics() error {
	var err error

	t.downloadsTotal, err = t.meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Total number of download attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_total counter: %w", err)
	}

	t.downloadsActive, err = t.meter.Int64UpDownCounter(
		"downloads_active",
		metric.WithDescription("Number of active downloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_active counter: %w", err)
	}

	t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Download duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_duration histogram: %w", err)
	}

	t.downloadBytes, err = t.meter.Int64Counter(
		"download_bytes_total",
		metric.WithDescription("Total number of bytes received from model hosts"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_bytes_total counter: %w", err)
	}

	t.mirrorFallbacks, err = t.meter.Int64Counter(
		"mirror_fallbacks_total",
		metric.WithDescription("Total number of retries against a mirror domain"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create mirror_fallbacks_total counter: %w", err)
	}

	t.rejectedURLs, err = t.meter.Int64Counter(
		"rejected_urls_total",
		metric.WithDescription("Total number of URLs refused by the trusted domain filter"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create rejected_urls_total counter: %w", err)
	}

	t.batchesTotal, err = t.meter.Int64Counter(
		"batches_total",
		metric.WithDescription("Total number of batch and single invocations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create batches_total counter: %w", err)
	}

	t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of database operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeSystemMetrics() error {
	var err error

	t.systemErrors, err = t.meter.Int64Counter(
		"system_errors_total",
		metric.WithDescription("Total number of system errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_errors counter: %w", err)
	}

	t.systemUptime, err = t.meter.Float64Gauge(
		"system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return nil
}

// collectSystemMetrics collects system-level metrics periodically.
func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.updateSystemMetrics(ctx, startTime)
		}
	}
}

func (t *Telemetry) updateSystemMetrics(ctx context.Context, startTime time.Time) {
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		t.cpuUsage.Record(ctx, percents[0])
	}

	if t.diskPath != "" {
		if usage, err := disk.UsageWithContext(ctx, t.diskPath); err == nil {
			t.diskUsage.Record(ctx, int64(usage.Used))
			t.diskFree.Record(ctx, int64(usage.Free))
		}
	}

	t.systemUptime.Record(ctx, time.Since(startTime).Seconds())
}
