// Package observe provides application-wide observability primitives for
// BalaamBot: OpenTelemetry metrics with a Prometheus exporter bridge so the
// pipeline can be watched via the standard /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all BalaamBot metrics.
const meterName = "github.com/wildjames/BalaamBot"

// Metrics holds all OpenTelemetry metric instruments for the audio pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// FetchDuration tracks end-to-end download+transcode latency. Use with
	// attribute.String("status", "ok"|"error").
	FetchDuration metric.Float64Histogram

	// CacheHits counts PCM cache fast-path hits.
	CacheHits metric.Int64Counter

	// CacheMisses counts PCM cache misses that triggered a fetch.
	CacheMisses metric.Int64Counter

	// FetchErrors counts failed fetch/transcode operations.
	FetchErrors metric.Int64Counter

	// TracksPlayed counts tracks handed to a mixer. Use with
	// attribute.String("kind", "music"|"sfx").
	TracksPlayed metric.Int64Counter

	// PreloadEvictions counts queue entries dropped by the preloader after a
	// failed pre-fetch.
	PreloadEvictions metric.Int64Counter

	// ActiveSessions tracks the number of live mixer sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueuedTracks tracks the total number of queued entries across sessions.
	QueuedTracks metric.Int64UpDownCounter
}

// fetchBuckets defines histogram bucket boundaries (in seconds) sized for
// network download + transcode of typical tracks.
var fetchBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FetchDuration, err = m.Float64Histogram("balaambot.fetch.duration",
		metric.WithDescription("Latency of source download and transcode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(fetchBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("balaambot.cache.hits",
		metric.WithDescription("PCM cache fast-path hits."),
	); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("balaambot.cache.misses",
		metric.WithDescription("PCM cache misses that triggered a fetch."),
	); err != nil {
		return nil, err
	}
	if met.FetchErrors, err = m.Int64Counter("balaambot.fetch.errors",
		metric.WithDescription("Failed fetch or transcode operations."),
	); err != nil {
		return nil, err
	}
	if met.TracksPlayed, err = m.Int64Counter("balaambot.tracks.played",
		metric.WithDescription("Tracks handed to a mixer, by kind."),
	); err != nil {
		return nil, err
	}
	if met.PreloadEvictions, err = m.Int64Counter("balaambot.preload.evictions",
		metric.WithDescription("Queue entries removed after a failed pre-fetch."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("balaambot.active_sessions",
		metric.WithDescription("Number of live mixer sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueuedTracks, err = m.Int64UpDownCounter("balaambot.queued_tracks",
		metric.WithDescription("Queued playback entries across all sessions."),
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
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
