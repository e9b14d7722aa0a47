// Package mock provides a test double for the vad.Classifier interface.
//
// Use Classifier to script verdicts and inspect the blocks that were submitted
// for classification.
//
// Example:
//
//	cls := &mock.Classifier{
//	    Script: []mock.Step{{Speech: true}, {Speech: true}, {Err: vad.ErrIndeterminate}},
//	}
//	eng := segment.NewEngine(cls)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Step is one scripted response of Classifier.Classify.
type Step struct {
	// Speech is reported as the verdict's Speech field. Probability is 1 for
	// speech and 0 otherwise.
	Speech bool

	// Err, if non-nil, is returned instead of a verdict.
	Err error
}

// ClassifyCall records a single invocation of Classifier.Classify.
type ClassifyCall struct {
	// Samples is a copy of the samples passed to Classify.
	Samples []float32

	// SampleRate is the sampleRate argument.
	SampleRate int
}

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Script holds per-call responses. Call i consumes Script[i]; once the
	// script is exhausted Result and Err are returned.
	Script []Step

	// Func, if non-nil, is consulted before Script and Result. It receives the
	// samples of the call.
	Func func(samples []float32) (vad.Verdict, error)

	// Result is returned by Classify when neither Func nor Script applies.
	Result vad.Verdict

	// Err, if non-nil, is returned by Classify when neither Func nor Script
	// applies.
	Err error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ClassifyCalls records every call to Classify in order.
	ClassifyCalls []ClassifyCall

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Classify records the call and returns the next scripted response.
func (c *Classifier) Classify(_ context.Context, samples []float32, sampleRate int) (vad.Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	idx := len(c.ClassifyCalls)
	c.ClassifyCalls = append(c.ClassifyCalls, ClassifyCall{Samples: cp, SampleRate: sampleRate})

	if c.Func != nil {
		return c.Func(samples)
	}
	if idx < len(c.Script) {
		st := c.Script[idx]
		if st.Err != nil {
			return vad.Verdict{}, st.Err
		}
		if st.Speech {
			return vad.Verdict{Speech: true, Probability: 1}, nil
		}
		return vad.Verdict{}, nil
	}
	return c.Result, c.Err
}

// Reset records the call by incrementing ResetCallCount.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return c.CloseErr
}

// Calls returns the number of Classify calls so far.
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ClassifyCalls)
}

// Resets returns the number of Reset calls so far.
func (c *Classifier) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ResetCallCount
}

// ResetCalls clears all recorded call history. Thread-safe.
func (c *Classifier) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClassifyCalls = nil
	c.ResetCallCount = 0
	c.CloseCallCount = 0
}

// Ensure Classifier implements vad.Classifier at compile time.
var _ vad.Classifier = (*Classifier)(nil)
