// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber turns one complete utterance into text. The segmentation
// engine decides where utterances begin and end, so backends never see an
// open-ended stream: every call carries a bounded buffer of mono samples and
// returns the recognised text for exactly that buffer.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe returns the text recognised in samples, which are mono and
	// normalised to [-1, 1] at sampleRate Hz. An utterance with no
	// recognisable speech yields "" and a nil error.
	//
	// Returns an error if the backend is unreachable, rejects the request, or
	// ctx is cancelled. Callers treat errors as an empty transcript.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

// Func adapts an ordinary function to the [Transcriber] interface.
type Func func(ctx context.Context, samples []float32, sampleRate int) (string, error)

// Transcribe calls f.
func (f Func) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	return f(ctx, samples, sampleRate)
}
