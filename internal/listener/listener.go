// Package listener runs a capture session: it pulls blocks from an
// [audio.Source], drives the segmentation [segment.Engine] and hands every
// finished utterance to a [consumer.Consumer].
//
// An [Orchestrator] is started once per session. Results are pulled lazily
// through the [Orchestrator.Utterances] iterator, which ends when the session
// is stopped, the context is cancelled or the source runs dry. In each of
// those cases an utterance still in progress is flushed and delivered with
// Partial set.
package listener

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/internal/consumer"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/pkg/audio"
)

// ErrAlreadyRunning is returned by Start when a session is already active.
var ErrAlreadyRunning = errors.New("listener: already running")

const defaultFlushTimeout = 30 * time.Second

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records block and utterance counters on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithFlushTimeout bounds the time spent consuming the partial utterance
// flushed at shutdown. Defaults to 30s.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.flushTimeout = d
		}
	}
}

// Orchestrator owns one source, one engine and one consumer.
type Orchestrator struct {
	src          audio.Source
	eng          *segment.Engine
	cons         *consumer.Consumer
	metrics      *observe.Metrics
	flushTimeout time.Duration

	mu      sync.Mutex
	running bool
	blocks  <-chan audio.Block
	stop    chan struct{}

	iterating atomic.Bool
}

// New creates an Orchestrator. Nothing is opened until Start.
func New(src audio.Source, eng *segment.Engine, cons *consumer.Consumer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		src:          src,
		eng:          eng,
		cons:         cons,
		flushTimeout: defaultFlushTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start opens the source. Failures wrap [audio.ErrDeviceUnavailable].
// Calling Start on a running session returns [ErrAlreadyRunning].
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}

	blocks, err := o.src.Start(ctx)
	if err != nil {
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			return fmt.Errorf("listener: start: %w", err)
		}
		return fmt.Errorf("listener: start: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	o.blocks = blocks
	o.stop = make(chan struct{})
	o.running = true
	if o.metrics != nil {
		o.metrics.CaptureActive.Add(ctx, 1)
	}
	slog.Info("listener: capture started", "sample_rate", o.eng.SampleRate())
	return nil
}

// Stop ends the session and releases the source. No block is read after
// Stop returns. Calling Stop on a stopped session returns nil.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	close(o.stop)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.CaptureActive.Add(context.Background(), -1)
	}
	if err := o.src.Stop(); err != nil {
		return fmt.Errorf("listener: stop: %w", err)
	}
	slog.Info("listener: capture stopped")
	return nil
}

// Running reports whether a session is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Utterances returns an iterator over the utterances of the current session
// and their results. Blocks are processed one at a time on the calling
// goroutine. Only one iteration may be active at a time; a concurrent second
// iteration yields nothing.
//
// Breaking out of the loop early discards any utterance in progress.
func (o *Orchestrator) Utterances(ctx context.Context) iter.Seq2[*segment.Utterance, consumer.Result] {
	return func(yield func(*segment.Utterance, consumer.Result) bool) {
		if !o.iterating.CompareAndSwap(false, true) {
			slog.Warn("listener: utterances already being iterated")
			return
		}
		defer o.iterating.Store(false)

		o.mu.Lock()
		running, blocks, stop := o.running, o.blocks, o.stop
		o.mu.Unlock()
		if !running {
			slog.Warn("listener: utterances requested without a running session")
			return
		}

		o.eng.Reset()
		for {
			// Stop and cancellation win over a ready block.
			select {
			case <-stop:
				o.flush(ctx, yield)
				return
			case <-ctx.Done():
				o.flush(ctx, yield)
				return
			default:
			}

			select {
			case <-stop:
				o.flush(ctx, yield)
				return
			case <-ctx.Done():
				o.flush(ctx, yield)
				return
			case blk, ok := <-blocks:
				if !ok {
					o.flush(ctx, yield)
					return
				}
				// A block that raced a Stop is dropped unprocessed.
				select {
				case <-stop:
					o.flush(ctx, yield)
					return
				default:
				}
				if o.metrics != nil {
					o.metrics.AudioBlocks.Add(ctx, 1)
				}
				if u := o.eng.Process(ctx, blk); u != nil {
					if !o.emit(ctx, u, yield) {
						return
					}
				}
			}
		}
	}
}

// Run starts the session, drains Utterances until it ends and stops the
// session. Results reach the outside world through the consumer's observer.
// Cancellation of ctx is a clean shutdown and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	n := 0
	for range o.Utterances(ctx) {
		n++
	}
	err := o.Stop()
	slog.Info("listener: session ended", "utterances", n)
	return err
}

func (o *Orchestrator) emit(ctx context.Context, u *segment.Utterance, yield func(*segment.Utterance, consumer.Result) bool) bool {
	if o.metrics != nil {
		o.metrics.RecordUtterance(ctx, u.Duration(), u.Partial)
	}
	r := o.cons.Consume(ctx, u)
	return yield(u, r)
}

// flush finalises an utterance in progress and delivers it. The transcription
// runs on a context detached from ctx so that shutdown does not cancel it.
func (o *Orchestrator) flush(ctx context.Context, yield func(*segment.Utterance, consumer.Result) bool) {
	u := o.eng.Flush()
	if u == nil {
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.flushTimeout)
	defer cancel()
	slog.Info("listener: flushing partial utterance", "seconds", u.Duration())
	o.emit(fctx, u, yield)
}
