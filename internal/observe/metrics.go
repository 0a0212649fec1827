// Package observe provides application-wide observability primitives for
// voxprep: OpenTelemetry metrics and tracing for the interview pipeline and
// the speech coordination layer.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxprep metrics.
const meterName = "github.com/voxprep/voxprep"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// GenerationDuration tracks text generation latency per pipeline stage.
	// Use with attribute.String("stage", "analyze"|"select"|"evaluate"|"followup").
	GenerationDuration metric.Float64Histogram

	// SynthesisDuration tracks speech synthesis latency per utterance.
	SynthesisDuration metric.Float64Histogram

	// TurnDuration tracks the full answer-to-next-question turn latency.
	TurnDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request latency for the API surface.
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// StageFallbacks counts pipeline stages that fell back to their fixed
	// degraded value. Use with attribute.String("stage", ...).
	StageFallbacks metric.Int64Counter

	// CaptureRestarts counts recognition auto-restart attempts.
	CaptureRestarts metric.Int64Counter

	// Utterances counts candidate utterances promoted to conversation history.
	Utterances metric.Int64Counter

	// QuestionsAsked counts questions put to candidates. Use with
	// attribute.String("kind", "question"|"followup").
	QuestionsAsked metric.Int64Counter

	// --- Error counters ---

	// DeviceErrors counts categorised speech device errors. Use with
	// attribute.String("category", ...).
	DeviceErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live interview sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for generation and synthesis latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.GenerationDuration, err = m.Float64Histogram("voxprep.generation.duration",
		metric.WithDescription("Latency of text generation per pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("voxprep.synthesis.duration",
		metric.WithDescription("Latency of speech synthesis per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("voxprep.turn.duration",
		metric.WithDescription("Latency of a full answer-to-next-question turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxprep.http.request.duration",
		metric.WithDescription("Latency of HTTP requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.StageFallbacks, err = m.Int64Counter("voxprep.pipeline.fallbacks",
		metric.WithDescription("Pipeline stages resolved by their fixed degraded fallback."),
	); err != nil {
		return nil, err
	}
	if met.CaptureRestarts, err = m.Int64Counter("voxprep.capture.restarts",
		metric.WithDescription("Recognition auto-restart attempts."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxprep.utterances",
		metric.WithDescription("Candidate utterances promoted to conversation history."),
	); err != nil {
		return nil, err
	}
	if met.QuestionsAsked, err = m.Int64Counter("voxprep.questions",
		metric.WithDescription("Questions put to candidates."),
	); err != nil {
		return nil, err
	}
	if met.DeviceErrors, err = m.Int64Counter("voxprep.device.errors",
		metric.WithDescription("Categorised speech device errors."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxprep.sessions.active",
		metric.WithDescription("Number of live interview sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily initialised package-level instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance backed by the
// global OTel meter provider. Initialisation errors produce no-op instruments
// rather than a panic; metric recording must never take down the pipeline.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordStageFallback increments the fallback counter for a pipeline stage.
// Nil-safe on both receiver and instrument so callers can pass an
// unconfigured Metrics in tests.
func (m *Metrics) RecordStageFallback(ctx context.Context, stage string) {
	if m == nil || m.StageFallbacks == nil {
		return
	}
	m.StageFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordGeneration records a generation latency sample for a pipeline stage.
// Nil-safe like [Metrics.RecordStageFallback].
func (m *Metrics) RecordGeneration(ctx context.Context, stage string, seconds float64) {
	if m == nil || m.GenerationDuration == nil {
		return
	}
	m.GenerationDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("stage", stage)))
}
