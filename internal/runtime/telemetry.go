package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/mohammad-safakhou/slackersnooze/config"
)

// Telemetry owns the meter provider and the registry /metrics is served from.
type Telemetry struct {
	mp       *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// TelemetryOptions configures telemetry initialization.
type TelemetryOptions struct {
	ServiceName    string
	ServiceVersion string
}

// SetupTelemetry wires an OpenTelemetry meter to a Prometheus registry.
// When disabled, the returned meter is the global no-op meter and the registry is empty.
func SetupTelemetry(ctx context.Context, cfg config.TelemetryConfig, opts TelemetryOptions) (*Telemetry, otelmetric.Meter, error) {
	registry := prometheus.NewRegistry()
	if opts.ServiceName == "" {
		opts.ServiceName = cfg.ServiceName
	}
	if !cfg.Enabled {
		return &Telemetry{registry: registry}, otel.Meter(opts.ServiceName), nil
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", opts.ServiceName),
			attribute.String("service.namespace", "snooze"),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("resource init: %w", err)
	}

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("prom exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return &Telemetry{mp: mp, registry: registry}, mp.Meter(opts.ServiceName), nil
}

// Handler serves the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Timeout: 5 * time.Second})
}

// Shutdown flushes providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.mp == nil {
		return nil
	}
	if err := t.mp.Shutdown(ctx); err != nil {
		return fmt.Errorf("metric shutdown: %w", err)
	}
	return nil
}

// Metrics are the instruments shared by the refresher and the request surface.
type Metrics struct {
	RefreshTotal otelmetric.Int64Counter
	RankSeconds  otelmetric.Float64Histogram
	ClicksTotal  otelmetric.Int64Counter
}

func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	refresh, err := meter.Int64Counter("snooze_refresh_total",
		otelmetric.WithDescription("Snapshot refresh attempts by status"))
	if err != nil {
		return nil, err
	}
	rank, err := meter.Float64Histogram("snooze_rank_seconds",
		otelmetric.WithDescription("Time spent aggregating history and ranking one feed request"),
		otelmetric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	clicks, err := meter.Int64Counter("snooze_clicks_total",
		otelmetric.WithDescription("Recorded clicks by target"))
	if err != nil {
		return nil, err
	}
	return &Metrics{RefreshTotal: refresh, RankSeconds: rank, ClicksTotal: clicks}, nil
}

// ObserveSnapshotSize registers a gauge reporting size() on every collection.
func ObserveSnapshotSize(meter otelmetric.Meter, size func() int) error {
	_, err := meter.Int64ObservableGauge("snooze_snapshot_docs",
		otelmetric.WithDescription("Documents in the snapshot currently served"),
		otelmetric.WithInt64Callback(func(_ context.Context, o otelmetric.Int64Observer) error {
			o.Observe(int64(size()))
			return nil
		}))
	return err
}
