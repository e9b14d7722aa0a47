// Package silero implements a [vad.Classifier] backed by the Silero VAD ONNX
// model via github.com/streamer45/silero-vad-go.
//
// The detector is streaming: it keeps recurrent state and a sample cursor
// across calls and reports speech segments relative to the start of the
// stream. Classifier converts those segments into a per-block verdict by
// tracking whether a segment is currently open.
//
// Building this package requires cgo and the ONNX Runtime shared library.
package silero

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

const (
	defaultThreshold          = 0.5
	defaultMinSilenceDuration = 100
	defaultSpeechPad          = 30
)

var _ vad.Classifier = (*Classifier)(nil)

// Option is a functional option for configuring a Classifier.
type Option func(*Classifier)

// WithThreshold sets the speech probability threshold. Defaults to 0.5.
func WithThreshold(t float64) Option {
	return func(c *Classifier) { c.threshold = t }
}

// WithMinSilenceDuration sets how long, in milliseconds, the model must see
// silence before it closes a speech segment. Defaults to 100 ms.
func WithMinSilenceDuration(ms int) Option {
	return func(c *Classifier) { c.minSilenceMs = ms }
}

// WithSpeechPad sets the padding, in milliseconds, the model adds around
// detected segments. Defaults to 30 ms.
func WithSpeechPad(ms int) Option {
	return func(c *Classifier) { c.speechPadMs = ms }
}

// Classifier wraps a Silero detector.
type Classifier struct {
	modelPath    string
	sampleRate   int
	threshold    float64
	minSilenceMs int
	speechPadMs  int

	mu       sync.Mutex
	det      *speech.Detector
	speaking bool
	closed   bool
}

// New loads the model at modelPath for audio at sampleRate (8000 or 16000 Hz).
func New(modelPath string, sampleRate int, opts ...Option) (*Classifier, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path must not be empty")
	}
	if sampleRate != 8000 && sampleRate != 16000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", sampleRate)
	}
	c := &Classifier{
		modelPath:    modelPath,
		sampleRate:   sampleRate,
		threshold:    defaultThreshold,
		minSilenceMs: defaultMinSilenceDuration,
		speechPadMs:  defaultSpeechPad,
	}
	for _, o := range opts {
		o(c)
	}
	if c.threshold <= 0 || c.threshold >= 1 {
		return nil, fmt.Errorf("silero: threshold must be in (0, 1), got %g", c.threshold)
	}

	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            c.modelPath,
		SampleRate:           c.sampleRate,
		Threshold:            float32(c.threshold),
		MinSilenceDurationMs: c.minSilenceMs,
		SpeechPadMs:          c.speechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: load model %q: %w", c.modelPath, err)
	}
	c.det = det
	return c, nil
}

// Classify implements [vad.Classifier]. Blocks shorter than the model window
// (512 samples at 16 kHz, 256 at 8 kHz) and blocks at a different sample rate
// are indeterminate.
func (c *Classifier) Classify(_ context.Context, samples []float32, sampleRate int) (vad.Verdict, error) {
	if sampleRate != c.sampleRate {
		return vad.Verdict{}, fmt.Errorf("%w: sample rate %d, model expects %d", vad.ErrIndeterminate, sampleRate, c.sampleRate)
	}
	if len(samples) < windowSize(c.sampleRate) {
		return vad.Verdict{}, fmt.Errorf("%w: block of %d samples shorter than model window", vad.ErrIndeterminate, len(samples))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return vad.Verdict{}, errors.New("silero: classifier closed")
	}

	segs, err := c.det.Detect(samples)
	if err != nil {
		return vad.Verdict{}, fmt.Errorf("silero: detect: %w", err)
	}
	isSpeech, speaking := verdictFromSegments(c.speaking, segs)
	c.speaking = speaking

	v := vad.Verdict{Speech: isSpeech}
	if isSpeech {
		v.Probability = 1
	}
	return v, nil
}

// verdictFromSegments folds the segments reported for one block into a
// verdict. A segment with SpeechEndAt == 0 is still open. The block counts as
// speech when speech was ongoing at its start or any segment touched it.
func verdictFromSegments(wasSpeaking bool, segs []speech.Segment) (isSpeech, stillSpeaking bool) {
	if len(segs) == 0 {
		return wasSpeaking, wasSpeaking
	}
	last := segs[len(segs)-1]
	return true, last.SpeechEndAt == 0
}

func windowSize(sampleRate int) int {
	if sampleRate == 8000 {
		return 256
	}
	return 512
}

// Reset clears the recurrent model state.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.speaking = false
	if err := c.det.Reset(); err != nil {
		slog.Warn("silero: reset detector", "err", err)
	}
}

// Close releases the ONNX session. Calling Close more than once is safe.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.det.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy detector: %w", err)
	}
	return nil
}
