package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MeterName is the instrumentation scope for archive metrics.
const MeterName = "claw-archive"

// MetricsConfig holds the otel settings. Disabled by default: the scanner
// is usually a short-lived periodic process.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// IntervalSeconds between metric exports; defaults to 60.
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Metrics holds the archive's metric instruments.
type Metrics struct {
	EventsInserted   metric.Int64Counter
	EventsSkipped    metric.Int64Counter
	EventErrors      metric.Int64Counter
	MessagesInserted metric.Int64Counter
	MessagesSkipped  metric.Int64Counter
	FilesScanned     metric.Int64Counter
	ScanDuration     metric.Float64Histogram

	shutdown func(context.Context) error
}

// NewMetrics sets up the meter provider and instruments. With Enabled
// false everything is a no-op.
func NewMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	var meter metric.Meter
	shutdown := func(context.Context) error { return nil }

	if cfg.Enabled {
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("create metric exporter: %w", err)
		}
		interval := cfg.IntervalSeconds
		if interval <= 0 {
			interval = 60
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceName(MeterName),
		))
		if err != nil {
			return nil, fmt.Errorf("create resource: %w", err)
		}
		provider := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(time.Duration(interval)*time.Second))),
		)
		meter = provider.Meter(MeterName)
		shutdown = provider.Shutdown
	} else {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}

	m := &Metrics{shutdown: shutdown}
	var err error

	m.EventsInserted, err = meter.Int64Counter("archive.events.inserted",
		metric.WithDescription("Events committed to the archive"))
	if err != nil {
		return nil, err
	}
	m.EventsSkipped, err = meter.Int64Counter("archive.events.skipped",
		metric.WithDescription("Duplicate events elided during ingest"))
	if err != nil {
		return nil, err
	}
	m.EventErrors, err = meter.Int64Counter("archive.events.errors",
		metric.WithDescription("Events dropped for structural or referential failures"))
	if err != nil {
		return nil, err
	}
	m.MessagesInserted, err = meter.Int64Counter("archive.messages.inserted",
		metric.WithDescription("Messages committed to the archive"))
	if err != nil {
		return nil, err
	}
	m.MessagesSkipped, err = meter.Int64Counter("archive.messages.skipped",
		metric.WithDescription("Duplicate messages elided during ingest"))
	if err != nil {
		return nil, err
	}
	m.FilesScanned, err = meter.Int64Counter("archive.scan.files",
		metric.WithDescription("Event-log files visited by scans"))
	if err != nil {
		return nil, err
	}
	m.ScanDuration, err = meter.Float64Histogram("archive.scan.duration",
		metric.WithDescription("Scan duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Shutdown flushes any pending exports.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.shutdown == nil {
		return nil
	}
	return m.shutdown(ctx)
}
