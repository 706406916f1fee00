// Package observe provides application-wide observability primitives for the
// voice navigation service: OpenTelemetry metrics, tracing helpers, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped from the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicenav metrics.
const meterName = "github.com/darasahub/voicenav"

// Metrics holds all OpenTelemetry metric instruments for the service.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SessionDuration tracks the wall time of each capture session from
	// start until the terminal event.
	SessionDuration metric.Float64Histogram

	// MatchScore tracks the best-candidate score of each dispatch (the -1
	// "no candidates" sentinel is recorded as 1).
	MatchScore metric.Float64Histogram

	// Dispatches counts dispatched utterances. Use with attributes:
	//   attribute.String("role", ...), attribute.String("outcome", ...)
	Dispatches metric.Int64Counter

	// CaptureErrors counts classified capture failures. Use with attribute:
	//   attribute.String("kind", ...)
	CaptureErrors metric.Int64Counter

	// CatalogRebuilds counts wholesale catalog/index rebuilds.
	CatalogRebuilds metric.Int64Counter

	// ActiveListeners tracks sessions currently in the Listening state.
	ActiveListeners metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// sessionBuckets defines histogram bucket boundaries (in seconds) sized for
// single-utterance capture sessions.
var sessionBuckets = []float64{
	0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 34,
}

// scoreBuckets covers the normalized [0, 1] dissimilarity range.
var scoreBuckets = []float64{
	0.05, 0.1, 0.15, 0.2, 0.25, 0.3, 0.35, 0.4, 0.45, 0.5, 0.75, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionDuration, err = m.Float64Histogram("voicenav.session.duration",
		metric.WithDescription("Duration of capture sessions from start to terminal event."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchScore, err = m.Float64Histogram("voicenav.match.score",
		metric.WithDescription("Best-candidate dissimilarity score per dispatch."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Dispatches, err = m.Int64Counter("voicenav.dispatches",
		metric.WithDescription("Dispatched utterances by role and outcome."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("voicenav.capture.errors",
		metric.WithDescription("Capture failures by classified kind."),
	); err != nil {
		return nil, err
	}
	if met.CatalogRebuilds, err = m.Int64Counter("voicenav.catalog.rebuilds",
		metric.WithDescription("Wholesale catalog and index rebuilds."),
	); err != nil {
		return nil, err
	}
	if met.ActiveListeners, err = m.Int64UpDownCounter("voicenav.active_listeners",
		metric.WithDescription("Sessions currently in the Listening state."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicenav.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordDispatch records one dispatched utterance: the outcome counter plus
// the best score observation. A negative score (no candidates) is recorded
// as the maximum dissimilarity of 1.
func (m *Metrics) RecordDispatch(ctx context.Context, role string, executed bool, score float64) {
	outcome := "rejected"
	if executed {
		outcome = "executed"
	}
	m.Dispatches.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("role", role),
			attribute.String("outcome", outcome),
		),
	)
	if score < 0 {
		score = 1
	}
	m.MatchScore.Record(ctx, score)
}

// RecordCaptureError records one classified capture failure.
func (m *Metrics) RecordCaptureError(ctx context.Context, kind string) {
	m.CaptureErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
