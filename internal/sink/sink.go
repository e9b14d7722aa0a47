// Package sink delivers processed utterances to their destinations: a
// transcript text file, a directory of WAV files, connected websocket clients
// and a PostgreSQL table.
//
// Sinks are combined with [Fanout], whose [Fanout.Observer] plugs into the
// consumer. A failing sink is logged and counted but never stops the capture
// loop or the other sinks.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/earshot/internal/consumer"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/segment"
)

// Record is what a sink receives for every utterance.
type Record struct {
	consumer.Result

	// Samples are the utterance's mono samples at Result.SampleRate.
	Samples []float32 `json:"-"`
}

// Sink receives records. Write may be called from the capture goroutine only;
// implementations that are also read from elsewhere guard their own state.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Named is implemented by sinks that report a stable name for logs and
// metrics.
type Named interface {
	Name() string
}

// Fanout writes every record to all of its sinks in order.
type Fanout struct {
	sinks   []Sink
	metrics *observe.Metrics
}

// NewFanout returns a Fanout over sinks. Nil entries are skipped. m may be
// nil.
func NewFanout(m *observe.Metrics, sinks ...Sink) *Fanout {
	f := &Fanout{metrics: m}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

var _ Sink = (*Fanout)(nil)

// Len returns the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Write delivers rec to every sink. Errors are logged and counted; the
// returned error joins them for callers that care.
func (f *Fanout) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Write(ctx, rec); err != nil {
			name := nameOf(s)
			slog.Warn("sink: write failed", "sink", name, "utterance_id", rec.UtteranceID, "err", err)
			if f.metrics != nil {
				f.metrics.RecordSinkError(ctx, name)
			}
			errs = append(errs, fmt.Errorf("sink %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: close: %w", nameOf(s), err))
		}
	}
	return errors.Join(errs...)
}

// Observer adapts the fanout to a consumer observer.
func (f *Fanout) Observer() consumer.Observer {
	return func(ctx context.Context, u *segment.Utterance, r consumer.Result) {
		_ = f.Write(ctx, Record{Result: r, Samples: u.Samples})
	}
}

func nameOf(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
