// Package vad defines the Classifier interface for voice activity detection
// backends.
//
// A Classifier wraps a block-level speech detector (e.g., Silero VAD or a
// simple energy detector) and answers one question per audio block: is this
// speech? Classifiers may keep internal state across calls (recurrent model
// state, smoothing history), which Reset clears between utterances.
//
// Classification is synchronous: Classify returns once the block has been
// scored. It is called from the single segmentation goroutine, so
// implementations need not be safe for concurrent Classify calls unless they
// document otherwise.
package vad

import (
	"context"
	"errors"
)

// ErrIndeterminate is returned by [Classifier.Classify] when the block cannot
// be scored (for example, it is shorter than the model's analysis window).
// Callers treat it as silence.
var ErrIndeterminate = errors.New("vad: indeterminate")

// Verdict is the classification of a single audio block.
type Verdict struct {
	// Speech is true when the block is classified as speech.
	Speech bool

	// Probability is the speech probability score in [0, 1]. Backends that do
	// not produce a probability report 1 for speech and 0 for silence.
	Probability float64
}

// Classifier is the abstraction over any VAD backend.
type Classifier interface {
	// Classify scores a block of mono samples normalised to [-1, 1] at the
	// given sample rate. The speech threshold is owned by the classifier.
	//
	// Returns [ErrIndeterminate] (possibly wrapped) when the block cannot be
	// scored, or another error on internal failure. Either way the caller
	// counts the block as silence.
	Classify(ctx context.Context, samples []float32, sampleRate int) (Verdict, error)

	// Reset clears accumulated detection state. It is called after every
	// completed utterance and when a new capture session begins.
	Reset()

	// Close releases all resources held by the classifier. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Config holds the parameters shared by classifier backends. Each backend
// documents which fields it honours.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate passed to
	// Classify.
	SampleRate int

	// SpeechThreshold is the probability (or, for energy detectors, the RMS
	// level) above which a block is classified as speech.
	SpeechThreshold float64

	// SilenceThreshold is the level below which an ongoing speech run is
	// considered ended. Zero means "same as SpeechThreshold" (no hysteresis).
	SilenceThreshold float64

	// ModelPath is the path to a model file, for model-backed classifiers.
	ModelPath string
}
