package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// ErrAllFailed is returned by [Transcriber.Transcribe] when no backend
// produced a transcript.
var ErrAllFailed = errors.New("resilience: all transcription backends failed")

var _ stt.Transcriber = (*Transcriber)(nil)

// Option configures a [Transcriber].
type Option func(*Transcriber)

// WithBreakerOptions applies opts to the breaker created for every backend.
func WithBreakerOptions(opts ...BreakerOption) Option {
	return func(t *Transcriber) { t.breakerOpts = append(t.breakerOpts, opts...) }
}

// WithMetrics records per-backend request and error counts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Transcriber) { t.metrics = m }
}

type backend struct {
	tr      stt.Transcriber
	breaker *Breaker
}

// Transcriber tries its backends in registration order and returns the first
// transcript that succeeds. Backends whose breaker is open are skipped.
type Transcriber struct {
	breakerOpts []BreakerOption
	metrics     *observe.Metrics

	mu       sync.RWMutex
	backends []backend
}

// NewTranscriber returns a Transcriber with primary as its first backend.
func NewTranscriber(name string, primary stt.Transcriber, opts ...Option) *Transcriber {
	t := &Transcriber{}
	for _, o := range opts {
		o(t)
	}
	t.Add(name, primary)
	return t
}

// Add appends a fallback backend. It is tried after every backend added
// before it.
func (t *Transcriber) Add(name string, tr stt.Transcriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backends = append(t.backends, backend{
		tr:      tr,
		breaker: NewBreaker(name, t.breakerOpts...),
	})
}

// Len returns the number of registered backends.
func (t *Transcriber) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.backends)
}

// States returns the breaker state of every backend keyed by name.
func (t *Transcriber) States() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]State, len(t.backends))
	for _, b := range t.backends {
		out[b.breaker.Name()] = b.breaker.State()
	}
	return out
}

// Transcribe implements [stt.Transcriber]. When ctx is cancelled the
// remaining backends are not tried. If every backend fails the error wraps
// [ErrAllFailed] and each backend's error.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	t.mu.RLock()
	backends := t.backends
	t.mu.RUnlock()

	errs := []error{ErrAllFailed}
	for _, b := range backends {
		name := b.breaker.Name()
		var text string
		err := b.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			text, err = b.tr.Transcribe(ctx, samples, sampleRate)
			return err
		})
		switch {
		case err == nil:
			t.record(ctx, name, "ok")
			return text, nil
		case errors.Is(err, ErrCircuitOpen):
			t.record(ctx, name, "skipped")
			slog.Debug("resilience: backend skipped, circuit open", "backend", name)
		default:
			t.record(ctx, name, "error")
			if t.metrics != nil {
				t.metrics.RecordProviderError(ctx, name, "stt")
			}
			slog.Warn("resilience: backend failed", "backend", name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Join(errs...)
}

func (t *Transcriber) record(ctx context.Context, name, status string) {
	if t.metrics != nil {
		t.metrics.RecordProviderRequest(ctx, name, "stt", status)
	}
}
