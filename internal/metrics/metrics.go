package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/leafsii/eusd-engine/internal/engine"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	meter metric.Meter

	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter

	Operations     metric.Int64Counter
	Liquidations   metric.Int64Counter
	WrittenOff     metric.Float64Counter
	Corrections    metric.Int64Counter
	CorrectionSize metric.Float64Histogram
	Flashes        metric.Int64Counter
	OracleReports  metric.Int64Counter
}

var _ engine.Recorder = (*Metrics)(nil)

// Setup builds the meter provider on a private registry so it can be
// created more than once per process.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m := &Metrics{meter: provider.Meter(serviceName)}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.HTTPRequests, "eusd_http_requests_total", "Total number of HTTP requests"},
		{&m.CacheHits, "eusd_cache_hits_total", "Total number of cache hits"},
		{&m.CacheMisses, "eusd_cache_misses_total", "Total number of cache misses"},
		{&m.Operations, "eusd_engine_operations_total", "Engine operations by name and outcome"},
		{&m.Liquidations, "eusd_liquidations_total", "Positions liquidated"},
		{&m.Corrections, "eusd_peg_corrections_total", "Peg corrections by direction"},
		{&m.Flashes, "eusd_flash_total", "Flash loans and mints by kind"},
		{&m.OracleReports, "eusd_oracle_reports_total", "Oracle reports by source and outcome"},
	}
	for _, c := range counters {
		if *c.dst, err = m.meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, nil, err
		}
	}

	m.HTTPDuration, err = m.meter.Float64Histogram(
		"eusd_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ActiveConnections, err = m.meter.Int64UpDownCounter(
		"eusd_websocket_connections",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WrittenOff, err = m.meter.Float64Counter(
		"eusd_bad_debt_written_off_total",
		metric.WithDescription("Debt value written off by liquidations"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CorrectionSize, err = m.meter.Float64Histogram(
		"eusd_peg_correction_size",
		metric.WithDescription("Amount released per peg correction"),
	)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m, handler, nil
}

// ObserveTCR registers a gauge reporting the total collateralization ratio.
// read returns false while the oracle is stale; nothing is reported then.
func (m *Metrics) ObserveTCR(read func() (float64, bool)) error {
	_, err := m.meter.Float64ObservableGauge(
		"eusd_total_collateralization_ratio",
		metric.WithDescription("Collateral value over total debt"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			if v, ok := read(); ok {
				o.Observe(v)
			}
			return nil
		}),
	)
	return err
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}

func (m *Metrics) RecordOperation(ctx context.Context, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordLiquidation(ctx context.Context, _ decimal.Decimal, writtenOff decimal.Decimal) {
	m.Liquidations.Add(ctx, 1)
	if writtenOff.IsPositive() {
		m.WrittenOff.Add(ctx, writtenOff.InexactFloat64())
	}
}

func (m *Metrics) RecordCorrection(ctx context.Context, direction engine.Direction, amount decimal.Decimal) {
	labels := metric.WithAttributes(attribute.String("direction", direction.String()))
	m.Corrections.Add(ctx, 1, labels)
	m.CorrectionSize.Record(ctx, amount.InexactFloat64(), labels)
}

func (m *Metrics) RecordFlash(ctx context.Context, kind engine.FlashKind, _ decimal.Decimal) {
	m.Flashes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

func (m *Metrics) RecordOracleReport(ctx context.Context, source string, err error) {
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
	}
	m.OracleReports.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}
