// Package observe wires earshot into OpenTelemetry. It owns the metric
// instruments recorded by the capture, segmentation and transcription
// stages, the tracing helpers, and the HTTP middleware. [InitProvider]
// installs the SDK providers and bridges metrics to Prometheus.
//
// Tests should build their own [Metrics] with [NewMetrics] and a
// ManualReader rather than use [DefaultMetrics].
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every instrument earshot records. The zero value is not
// usable; create one with [NewMetrics].
type Metrics struct {
	AudioBlocks   metric.Int64Counter       // blocks read by the segmentation loop
	DroppedBlocks metric.Int64Counter       // blocks discarded by a full capture queue
	CaptureActive metric.Int64UpDownCounter // 1 while capture runs

	VADDuration metric.Float64Histogram // per-block classification latency
	VADErrors   metric.Int64Counter     // blocks the classifier could not decide

	// Utterances and UtteranceDuration carry partial=true|false.
	Utterances        metric.Int64Counter
	UtteranceDuration metric.Float64Histogram

	STTDuration  metric.Float64Histogram
	STTErrors    metric.Int64Counter
	WakewordHits metric.Int64Counter

	// ProviderRequests carries provider, kind and status; ProviderErrors
	// carries provider and kind.
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	SinkErrors metric.Int64Counter // by sink

	// HTTPRequestDuration carries method, route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// Bucket boundaries in seconds. Classification must stay far below one
// 32 ms block.
var (
	vadBuckets       = []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05}
	sttBuckets       = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}
	utteranceBuckets = []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 20, 30, 60}
	httpBuckets      = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
)

// instruments collects creation errors so NewMetrics can report them all at
// once.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return g
}

func (b *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	b.errs = append(b.errs, err)
	return h
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(scopeName)}
	m := &Metrics{
		AudioBlocks:   b.counter("earshot.audio.blocks", "Audio blocks read by the segmentation loop."),
		DroppedBlocks: b.counter("earshot.audio.dropped_blocks", "Audio blocks dropped because the capture queue was full."),
		CaptureActive: b.gauge("earshot.capture.active", "Running capture sessions."),

		VADDuration: b.seconds("earshot.vad.duration", "Per-block speech classification latency.", vadBuckets),
		VADErrors:   b.counter("earshot.vad.errors", "Blocks the classifier failed on; they count as silence."),

		Utterances:        b.counter("earshot.utterances", "Utterances emitted by the segmentation engine."),
		UtteranceDuration: b.seconds("earshot.utterance.duration", "Audio length of emitted utterances.", utteranceBuckets),

		STTDuration:  b.seconds("earshot.stt.duration", "Speech-to-text latency per utterance.", sttBuckets),
		STTErrors:    b.counter("earshot.stt.errors", "Utterances whose transcription failed."),
		WakewordHits: b.counter("earshot.wakeword.hits", "Transcripts that contained a wake word."),

		ProviderRequests: b.counter("earshot.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:   b.counter("earshot.provider.errors", "Provider failures by provider and kind."),

		SinkErrors: b.counter("earshot.sink.errors", "Failed output writes by sink."),

		HTTPRequestDuration: b.seconds("earshot.http.request.duration", "HTTP request latency by method, route and status.", httpBuckets),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on [otel.GetMeterProvider],
// created on first use. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordUtterance counts one emitted utterance of the given length.
func (m *Metrics) RecordUtterance(ctx context.Context, seconds float64, partial bool) {
	set := metric.WithAttributes(attribute.Bool("partial", partial))
	m.Utterances.Add(ctx, 1, set)
	m.UtteranceDuration.Record(ctx, seconds, set)
}

// RecordProviderRequest counts one provider call. status is ok, error or
// skipped.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordSinkError counts a failed write to sink.
func (m *Metrics) RecordSinkError(ctx context.Context, sink string) {
	m.SinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
