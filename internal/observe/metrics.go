// Package observe provides application-wide observability primitives for
// voxbridge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxbridge/pkg/bridge"
)

// meterName is the instrumentation scope name used for all voxbridge metrics.
const meterName = "github.com/MrWong99/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
//
// Metrics implements [bridge.Observer] and can be passed to
// [bridge.WithObserver] directly.
type Metrics struct {
	// BlockDuration tracks time spent inside the engine per processed block.
	// Attributes: layout.
	BlockDuration metric.Float64Histogram

	// Blocks counts processed blocks. Attributes: layout, status.
	Blocks metric.Int64Counter

	// BridgeErrors counts failed bridge calls. Attributes: kind (one of the
	// taxonomy names returned by [bridge.Kind]).
	BridgeErrors metric.Int64Counter

	// ParameterWrites counts parameter writes. Attributes: target, status.
	ParameterWrites metric.Int64Counter

	// ActiveProcessors tracks the number of open bridge processors.
	ActiveProcessors metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live streaming sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram

	// ConfigReloads counts config file edits seen by the watcher.
	// Attributes: outcome (applied, unchanged, invalid, failed).
	ConfigReloads metric.Int64Counter
}

// blockBuckets defines histogram bucket boundaries (in seconds) sized for
// 10 ms audio blocks.
var blockBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.BlockDuration, err = m.Float64Histogram("voxbridge.block.duration",
		metric.WithDescription("Engine processing time per audio block."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(blockBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Blocks, err = m.Int64Counter("voxbridge.blocks",
		metric.WithDescription("Total processed audio blocks by layout and status."),
	); err != nil {
		return nil, err
	}
	if met.BridgeErrors, err = m.Int64Counter("voxbridge.bridge.errors",
		metric.WithDescription("Total failed bridge calls by error kind."),
	); err != nil {
		return nil, err
	}
	if met.ParameterWrites, err = m.Int64Counter("voxbridge.parameter.writes",
		metric.WithDescription("Total parameter writes by target and status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveProcessors, err = m.Int64UpDownCounter("voxbridge.active_processors",
		metric.WithDescription("Number of open bridge processors."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxbridge.active_sessions",
		metric.WithDescription("Number of live streaming sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.ConfigReloads, err = m.Int64Counter("voxbridge.config.reloads",
		metric.WithDescription("Config file edits by reload outcome."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Pre-built attribute sets for the hot path. Building attribute sets per block
// would allocate on every call.
var (
	layoutAttrs = map[bridge.Layout]metric.MeasurementOption{
		bridge.LayoutInterleaved: metric.WithAttributes(Attr("layout", "interleaved")),
		bridge.LayoutSequential:  metric.WithAttributes(Attr("layout", "sequential")),
		bridge.LayoutPlanar:      metric.WithAttributes(Attr("layout", "planar")),
	}
	blockOKAttrs = map[bridge.Layout]metric.MeasurementOption{
		bridge.LayoutInterleaved: metric.WithAttributes(Attr("layout", "interleaved"), Attr("status", "ok")),
		bridge.LayoutSequential:  metric.WithAttributes(Attr("layout", "sequential"), Attr("status", "ok")),
		bridge.LayoutPlanar:      metric.WithAttributes(Attr("layout", "planar"), Attr("status", "ok")),
	}
)

// ObserveBlock implements [bridge.Observer].
func (m *Metrics) ObserveBlock(layout bridge.Layout, elapsed time.Duration, err error) {
	ctx := context.Background()
	if err == nil {
		m.BlockDuration.Record(ctx, elapsed.Seconds(), layoutAttrs[layout])
		m.Blocks.Add(ctx, 1, blockOKAttrs[layout])
		return
	}
	m.Blocks.Add(ctx, 1, metric.WithAttributes(Attr("layout", layout.String()), Attr("status", "error")))
	m.RecordBridgeError(ctx, err)
}

// ObserveParameterWrite implements [bridge.Observer].
func (m *Metrics) ObserveParameterWrite(target string, err error) {
	ctx := context.Background()
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordBridgeError(ctx, err)
	}
	m.ParameterWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("target", target),
			attribute.String("status", status),
		),
	)
}

// RecordBridgeError increments the error counter for err's taxonomy kind. A
// nil err is ignored.
func (m *Metrics) RecordBridgeError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	m.BridgeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", bridge.Kind(err))))
}

// RecordConfigReload counts one config edit with the given outcome.
func (m *Metrics) RecordConfigReload(ctx context.Context, outcome string) {
	m.ConfigReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

var _ bridge.Observer = (*Metrics)(nil)
