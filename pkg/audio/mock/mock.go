// Package mock provides an in-memory mock implementation of [audio.Source]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts, and it exposes exported fields that the
// test can set to control behaviour.
//
// Typical usage:
//
//	src := &mock.Source{Blocks: blocks}
//	ch, err := src.Start(ctx)
//	for blk := range ch { ... }
//
// With Blocks set, the source replays them in order and closes its channel.
// With Hold set, the channel stays open after the replay until Stop is called,
// which models a live microphone.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Compile-time assertion that Source implements audio.Source.
var _ audio.Source = (*Source)(nil)

// Source is a mock implementation of [audio.Source].
// Set the exported fields before use; inspect the CallCount* fields after.
type Source struct {
	mu sync.Mutex

	// Blocks are delivered in order after Start.
	Blocks []audio.Block

	// Hold keeps the channel open after Blocks are exhausted until Stop is
	// called or the start context is cancelled.
	Hold bool

	// StartError, when non-nil, is returned by Start and no channel is opened.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// QueueSize is the buffer size of the returned channel. Zero means
	// unbuffered.
	QueueSize int

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	stop    chan struct{}
	done    chan struct{}
	stopped bool
}

// Start implements [audio.Source]. It spawns a goroutine that sends every
// entry of Blocks on the returned channel.
func (s *Source) Start(ctx context.Context) (<-chan audio.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return nil, s.StartError
	}

	blocks := make([]audio.Block, len(s.Blocks))
	copy(blocks, s.Blocks)
	hold := s.Hold

	out := make(chan audio.Block, s.QueueSize)
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop = stop
	s.done = done
	s.stopped = false

	go func() {
		defer close(done)
		defer close(out)
		for _, blk := range blocks {
			select {
			case out <- blk:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
		if !hold {
			return
		}
		select {
		case <-stop:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// Stop implements [audio.Source]. It ends delivery and waits until the
// channel has been closed. Returns StopError.
func (s *Source) Stop() error {
	s.mu.Lock()
	s.CallCountStop++
	if s.stop != nil && !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	done := s.done
	err := s.StopError
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	return err
}

// Reset clears all recorded calls and result fields.
func (s *Source) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Blocks = nil
	s.Hold = false
	s.StartError = nil
	s.StopError = nil
	s.CallCountStart = 0
	s.CallCountStop = 0
}

// Starts returns the number of Start calls.
func (s *Source) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStart
}

// Stops returns the number of Stop calls.
func (s *Source) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}

// Blocks builds n blocks of size samples each, all filled with value, at
// sampleRate. Seq and Timestamp are set consecutively starting at zero.
func Blocks(n, size, sampleRate int, value float32) []audio.Block {
	return AppendBlocks(nil, n, size, sampleRate, value)
}

// AppendBlocks appends n blocks filled with value to dst, continuing the Seq
// and Timestamp numbering from the last block in dst.
func AppendBlocks(dst []audio.Block, n, size, sampleRate int, value float32) []audio.Block {
	var seq uint64
	var ts float64
	if len(dst) > 0 {
		last := dst[len(dst)-1]
		seq = last.Seq + 1
		ts = last.Timestamp.Seconds() + last.Duration()
	}
	for range n {
		samples := make([]float32, size)
		for i := range samples {
			samples[i] = value
		}
		blk := audio.Block{
			Samples:    samples,
			SampleRate: sampleRate,
			Seq:        seq,
		}
		blk.Timestamp = time.Duration(ts * float64(time.Second))
		dst = append(dst, blk)
		seq++
		ts += blk.Duration()
	}
	return dst
}
