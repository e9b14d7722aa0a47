// Package wavfile provides an [audio.Source] that replays a recorded WAV file
// in fixed-size blocks. It is used for offline segmentation runs and for
// exercising the full pipeline without a microphone.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Compile-time assertion that Source implements audio.Source.
var _ audio.Source = (*Source)(nil)

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithSampleRate resamples the file to rate before blocking. Zero keeps the
// file's native rate.
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.sampleRate = rate }
}

// WithBlockSize sets the number of samples per block. Defaults to 512.
func WithBlockSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// WithRealtime paces delivery at the block duration so the file behaves like
// a live capture. By default blocks are delivered as fast as the consumer
// reads them.
func WithRealtime(enabled bool) Option {
	return func(s *Source) { s.realtime = enabled }
}

// WithQueueSize sets the capacity of the block channel. Defaults to 64.
func WithQueueSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// Source replays a WAV file. The block channel is closed after the final
// block, which may be shorter than the block size.
type Source struct {
	path       string
	sampleRate int
	blockSize  int
	queueSize  int
	realtime   bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New creates a Source for the WAV file at path. The file is read on Start.
func New(path string, opts ...Option) *Source {
	s := &Source{
		path:      path,
		blockSize: 512,
		queueSize: 64,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start decodes the file and begins delivering blocks. A missing or
// unreadable file fails with an error wrapping [audio.ErrDeviceUnavailable].
func (s *Source) Start(ctx context.Context) (<-chan audio.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil, errors.New("wavfile: source already started")
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	samples, rate, err := audio.DecodeWAV(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", audio.ErrDeviceUnavailable, s.path, err)
	}
	if s.sampleRate > 0 && s.sampleRate != rate {
		samples = audio.Resample(samples, rate, s.sampleRate)
		rate = s.sampleRate
	}

	slog.Info("wavfile: replay started",
		"path", s.path,
		"sample_rate", rate,
		"seconds", float64(len(samples))/float64(rate),
	)

	out := make(chan audio.Block, s.queueSize)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(ctx, samples, rate, out, s.stop, s.done)
	return out, nil
}

func (s *Source) run(ctx context.Context, samples []float32, rate int, out chan<- audio.Block, stop, done chan struct{}) {
	defer close(done)
	defer close(out)

	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(time.Duration(s.blockSize) * time.Second / time.Duration(rate))
		defer ticker.Stop()
	}

	var seq uint64
	for off := 0; off < len(samples); off += s.blockSize {
		end := min(off+s.blockSize, len(samples))
		blk := audio.Block{
			Samples:    samples[off:end:end],
			SampleRate: rate,
			Timestamp:  time.Duration(off) * time.Second / time.Duration(rate),
			Seq:        seq,
		}
		seq++

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- blk:
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the replay and waits until the block channel is closed. It is
// safe to call more than once.
func (s *Source) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}
