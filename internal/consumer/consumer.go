// Package consumer turns finished utterances into results: it transcribes
// the audio, checks the transcript for a wake word and notifies an observer.
//
// A Consumer never fails. A transcription error is logged and counted, and
// the utterance is reported with empty text so that downstream sinks still
// see every segment.
package consumer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// TimestampLayout formats [Result.Timestamp].
const TimestampLayout = "20060102_150405"

// Matcher decides whether a transcript contains a wake word.
type Matcher interface {
	Matches(text string) bool
}

// Result describes one processed utterance.
type Result struct {
	UtteranceID string    `json:"utterance_id"`
	CreatedAt   time.Time `json:"created_at"`
	Timestamp   string    `json:"timestamp"`
	SampleRate  int       `json:"sample_rate"`
	Channels    int       `json:"channels"`
	Duration    float64   `json:"duration"`
	Text        string    `json:"text"`
	IsWakeWord  bool      `json:"is_wake_word"`
	Partial     bool      `json:"partial"`
}

// Observer is notified synchronously with every result.
type Observer func(ctx context.Context, u *segment.Utterance, r Result)

// Option is a functional option for configuring a Consumer.
type Option func(*Consumer)

// WithObserver registers fn to be called once per consumed utterance.
func WithObserver(fn Observer) Option {
	return func(c *Consumer) { c.observer = fn }
}

// WithMetrics records transcription latency, errors and wake-word hits on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

// Consumer transcribes utterances and matches wake words.
type Consumer struct {
	transcriber stt.Transcriber
	matcher     Matcher
	observer    Observer
	metrics     *observe.Metrics
}

// New creates a Consumer.
func New(tr stt.Transcriber, m Matcher, opts ...Option) *Consumer {
	c := &Consumer{transcriber: tr, matcher: m}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Consume transcribes u, evaluates the wake-word rule and invokes the
// observer before returning the result.
func (c *Consumer) Consume(ctx context.Context, u *segment.Utterance) Result {
	ctx, span := observe.StartSpan(ctx, "consumer.Consume",
		attribute.String("utterance.id", u.ID.String()),
		attribute.Float64("utterance.duration", u.Duration()),
		attribute.Bool("utterance.partial", u.Partial),
	)

	start := time.Now()
	text, err := c.transcriber.Transcribe(ctx, u.Samples, u.SampleRate)
	elapsed := time.Since(start)
	if c.metrics != nil {
		c.metrics.STTDuration.Record(ctx, elapsed.Seconds())
	}
	if err != nil {
		slog.WarnContext(ctx, "consumer: transcription failed",
			"utterance_id", u.ID,
			"seconds", u.Duration(),
			"err", err,
		)
		if c.metrics != nil {
			c.metrics.STTErrors.Add(ctx, 1)
		}
		text = ""
	}
	text = strings.TrimSpace(text)

	r := Result{
		UtteranceID: u.ID.String(),
		CreatedAt:   u.CreatedAt,
		Timestamp:   u.CreatedAt.Format(TimestampLayout),
		SampleRate:  u.SampleRate,
		Channels:    u.Channels,
		Duration:    u.Duration(),
		Text:        text,
		IsWakeWord:  c.matcher.Matches(text),
		Partial:     u.Partial,
	}
	if r.IsWakeWord && c.metrics != nil {
		c.metrics.WakewordHits.Add(ctx, 1)
	}
	span.SetAttributes(attribute.Bool("wakeword", r.IsWakeWord))
	observe.EndSpan(span, err)

	slog.DebugContext(ctx, "consumer: utterance processed",
		"utterance_id", r.UtteranceID,
		"text", r.Text,
		"wake_word", r.IsWakeWord,
		"stt_latency", elapsed,
	)

	if c.observer != nil {
		c.observer(ctx, u, r)
	}
	return r
}
