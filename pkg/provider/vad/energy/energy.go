// Package energy implements a pure-Go [vad.Classifier] based on RMS energy.
//
// The detector uses hysteresis to avoid flickering: a speech run starts only
// after StartBlocks consecutive blocks at or above the speech threshold and
// ends only after EndBlocks consecutive blocks below the silence threshold.
// It needs no model file and no cgo, which makes it the default classifier
// for tests and constrained hosts.
package energy

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

const (
	defaultSpeechThreshold  = 0.015
	defaultSilenceThreshold = 0.008
)

var _ vad.Classifier = (*Classifier)(nil)

// Option is a functional option for configuring a Classifier.
type Option func(*Classifier)

// WithThresholds sets the RMS levels that start and end a speech run.
// silence must not exceed speech; New reports an error otherwise.
func WithThresholds(speech, silence float64) Option {
	return func(c *Classifier) {
		c.speechThreshold = speech
		c.silenceThreshold = silence
	}
}

// WithRunLengths sets how many consecutive blocks are needed to enter and to
// leave a speech run. Values below 1 are treated as 1.
func WithRunLengths(start, end int) Option {
	return func(c *Classifier) {
		c.startBlocks = max(start, 1)
		c.endBlocks = max(end, 1)
	}
}

// Classifier scores blocks by RMS energy.
type Classifier struct {
	speechThreshold  float64
	silenceThreshold float64
	startBlocks      int
	endBlocks        int

	mu           sync.Mutex
	inSpeech     bool
	speechCount  int
	silenceCount int
}

// New returns an energy classifier. The defaults suit 16 kHz speech with
// 512-sample blocks: speech starts at RMS 0.015 and ends below 0.008, and a
// single block is enough in both directions (the segmentation engine applies
// its own silence hangover).
func New(opts ...Option) (*Classifier, error) {
	c := &Classifier{
		speechThreshold:  defaultSpeechThreshold,
		silenceThreshold: defaultSilenceThreshold,
		startBlocks:      1,
		endBlocks:        1,
	}
	for _, o := range opts {
		o(c)
	}
	if c.speechThreshold <= 0 {
		return nil, fmt.Errorf("energy: speech threshold must be > 0, got %g", c.speechThreshold)
	}
	if c.silenceThreshold <= 0 {
		c.silenceThreshold = c.speechThreshold
	}
	if c.silenceThreshold > c.speechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %g exceeds speech threshold %g", c.silenceThreshold, c.speechThreshold)
	}
	return c, nil
}

// Classify implements [vad.Classifier]. Empty blocks are indeterminate.
func (c *Classifier) Classify(_ context.Context, samples []float32, _ int) (vad.Verdict, error) {
	if len(samples) == 0 {
		return vad.Verdict{}, vad.ErrIndeterminate
	}
	level := audio.RMS(samples)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inSpeech {
		if level < c.silenceThreshold {
			c.silenceCount++
			if c.silenceCount >= c.endBlocks {
				c.inSpeech = false
				c.silenceCount = 0
			}
		} else {
			c.silenceCount = 0
		}
	} else {
		if level >= c.speechThreshold {
			c.speechCount++
			if c.speechCount >= c.startBlocks {
				c.inSpeech = true
				c.speechCount = 0
			}
		} else {
			c.speechCount = 0
		}
	}

	return vad.Verdict{Speech: c.inSpeech, Probability: c.probability(level)}, nil
}

// probability maps the RMS level onto [0, 1] with the speech threshold at 0.5.
func (c *Classifier) probability(level float64) float64 {
	p := level / (2 * c.speechThreshold)
	return min(p, 1)
}

// Reset clears the hysteresis state.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inSpeech = false
	c.speechCount = 0
	c.silenceCount = 0
}

// Close is a no-op.
func (c *Classifier) Close() error { return nil }
