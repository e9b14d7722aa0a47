// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to return controlled text or errors and to inspect which
// utterances were submitted.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "hello aura"}
//	cons := consumer.New(tr, matcher)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context

	// Samples is a copy of the samples passed to Transcribe.
	Samples []float32

	// SampleRate is the sampleRate argument.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by every Transcribe call unless Texts applies.
	Text string

	// Texts holds per-call results. Call i returns Texts[i] while i is in
	// range, then falls back to Text.
	Texts []string

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Block, if non-nil, makes Transcribe wait until Block is closed or the
	// context is done. It lets tests hold a transcription in flight.
	Block chan struct{}

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured text or error.
func (m *Transcriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	m.mu.Lock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	idx := len(m.TranscribeCalls)
	m.TranscribeCalls = append(m.TranscribeCalls, TranscribeCall{Ctx: ctx, Samples: cp, SampleRate: sampleRate})
	block := m.Block
	text, err := m.Text, m.Err
	if idx < len(m.Texts) {
		text = m.Texts[idx]
	}
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (m *Transcriber) Calls() []TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TranscribeCall, len(m.TranscribeCalls))
	copy(out, m.TranscribeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranscribeCalls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
