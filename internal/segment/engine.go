// Package segment implements the streaming speech segmentation state machine.
//
// An [Engine] consumes fixed-size audio blocks, classifies each one as speech
// or silence, and groups them into [Utterance] values. While idle it keeps a
// short [PreRoll] of recent audio so the onset of speech is not clipped. Once
// speech starts it accumulates blocks until the accumulated silence reaches a
// threshold, then emits the pre-roll snapshot followed by the speech blocks.
//
// An Engine is driven by a single goroutine and is not safe for concurrent
// use.
package segment

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// State is the segmentation state.
type State int

const (
	// Idle means no utterance is in progress; blocks feed the pre-roll.
	Idle State = iota

	// SpeechActive means an utterance is being accumulated.
	SpeechActive
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SpeechActive:
		return "speech_active"
	default:
		return "unknown"
	}
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithSampleRate sets the sample rate used for the pre-roll ceiling and for
// the emitted utterances. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(e *Engine) {
		if rate > 0 {
			e.sampleRate = rate
		}
	}
}

// WithSilenceDuration sets how many seconds of consecutive non-speech end an
// utterance. Defaults to 1.0.
func WithSilenceDuration(seconds float64) Option {
	return func(e *Engine) {
		if seconds > 0 {
			e.silenceThreshold = seconds
		}
	}
}

// WithPreRollDuration sets how many seconds of audio preceding speech onset
// are kept. Zero disables the pre-roll. Defaults to 0.5.
func WithPreRollDuration(seconds float64) Option {
	return func(e *Engine) {
		if seconds >= 0 {
			e.preRollSeconds = seconds
		}
	}
}

// WithMinAmplitude sets the peak level below which a block is treated as
// silence without consulting the classifier. Zero disables the gate.
// Defaults to 0.01.
func WithMinAmplitude(level float64) Option {
	return func(e *Engine) {
		if level >= 0 {
			e.minAmplitude = level
		}
	}
}

// WithMaxUtteranceDuration caps the speech portion of an utterance. When the
// cap is reached the utterance is emitted even without trailing silence. Zero
// (the default) means unbounded.
func WithMaxUtteranceDuration(seconds float64) Option {
	return func(e *Engine) {
		if seconds >= 0 {
			e.maxSeconds = seconds
		}
	}
}

// WithMetrics records classification latency and errors on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces the wall clock used for Utterance.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine is the segmentation state machine.
type Engine struct {
	classifier vad.Classifier
	metrics    *observe.Metrics
	now        func() time.Time

	sampleRate       int
	silenceThreshold float64
	preRollSeconds   float64
	minAmplitude     float64
	maxSeconds       float64

	// Thresholds in samples at sampleRate.
	silenceLimit int
	maxSamples   int

	state          State
	preRoll        *PreRoll
	snapshot       []audio.Block
	active         []audio.Block
	activeSamples  int
	silenceSamples int
}

// NewEngine creates an Engine that classifies blocks with classifier.
func NewEngine(classifier vad.Classifier, opts ...Option) *Engine {
	e := &Engine{
		classifier:       classifier,
		now:              time.Now,
		sampleRate:       16000,
		silenceThreshold: 1.0,
		preRollSeconds:   0.5,
		minAmplitude:     0.01,
	}
	for _, o := range opts {
		o(e)
	}
	e.preRoll = NewPreRoll(e.preRollSeconds, e.sampleRate)
	e.silenceLimit = max(int(math.Round(e.silenceThreshold*float64(e.sampleRate))), 1)
	e.maxSamples = int(math.Round(e.maxSeconds * float64(e.sampleRate)))
	return e
}

// Process classifies blk and advances the state machine. It returns a
// completed utterance or nil.
func (e *Engine) Process(ctx context.Context, blk audio.Block) *Utterance {
	return e.Feed(blk, e.Classify(ctx, blk))
}

// Classify reports whether blk is speech. Blocks whose peak is below the
// minimum amplitude are silence without consulting the classifier. Classifier
// errors count as silence.
func (e *Engine) Classify(ctx context.Context, blk audio.Block) bool {
	if blk.Peak() < e.minAmplitude {
		return false
	}
	rate := blk.SampleRate
	if rate <= 0 {
		rate = e.sampleRate
	}

	start := time.Now()
	v, err := e.classifier.Classify(ctx, blk.Samples, rate)
	if e.metrics != nil {
		e.metrics.VADDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		slog.Debug("segment: classifier error, treating block as silence", "seq", blk.Seq, "err", err)
		if e.metrics != nil {
			e.metrics.VADErrors.Add(ctx, 1)
		}
		return false
	}
	return v.Speech
}

// Feed advances the state machine with a block whose classification is
// already known. It returns a completed utterance or nil.
func (e *Engine) Feed(blk audio.Block, isSpeech bool) *Utterance {
	switch e.state {
	case Idle:
		if !isSpeech {
			e.preRoll.Append(blk)
			return nil
		}
		e.snapshot = e.preRoll.Snapshot()
		e.preRoll.Clear()
		e.active = append(e.active[:0], blk)
		e.activeSamples = blk.Len()
		e.silenceSamples = 0
		e.state = SpeechActive

	case SpeechActive:
		if !isSpeech {
			e.silenceSamples += e.blockSamples(blk)
			if e.silenceSamples >= e.silenceLimit {
				return e.finalize(false)
			}
			return nil
		}
		e.active = append(e.active, blk)
		e.activeSamples += blk.Len()
		e.silenceSamples = 0
	}

	if e.maxSamples > 0 && e.activeSamples >= e.maxSamples {
		return e.finalize(false)
	}
	return nil
}

// Flush ends the session. An utterance in progress is returned with Partial
// set; otherwise Flush returns nil. Both buffers are cleared either way.
func (e *Engine) Flush() *Utterance {
	if e.state == SpeechActive {
		return e.finalize(true)
	}
	e.preRoll.Clear()
	e.silenceSamples = 0
	return nil
}

// Reset discards all buffered audio, returns to Idle and resets the
// classifier.
func (e *Engine) Reset() {
	e.clear()
	e.classifier.Reset()
}

// State returns the current segmentation state.
func (e *Engine) State() State { return e.state }

// Silence returns the seconds of consecutive non-speech accumulated since the
// last speech block.
func (e *Engine) Silence() float64 {
	return float64(e.silenceSamples) / float64(e.sampleRate)
}

// PreRoll returns the engine's pre-roll buffer.
func (e *Engine) PreRoll() *PreRoll { return e.preRoll }

// Active returns the number of samples in the active buffer.
func (e *Engine) Active() int { return e.activeSamples }

// SampleRate returns the configured sample rate.
func (e *Engine) SampleRate() int { return e.sampleRate }

func (e *Engine) finalize(partial bool) *Utterance {
	pre := audio.Concat(e.snapshot)
	speech := audio.Concat(e.active)

	samples := make([]float32, 0, len(pre)+len(speech))
	samples = append(samples, pre...)
	samples = append(samples, speech...)

	var startedAt time.Duration
	switch {
	case len(e.snapshot) > 0:
		startedAt = e.snapshot[0].Timestamp
	case len(e.active) > 0:
		startedAt = e.active[0].Timestamp
	}

	u := &Utterance{
		ID:             uuid.New(),
		Samples:        samples,
		PreRollSamples: len(pre),
		SampleRate:     e.sampleRate,
		Channels:       1,
		CreatedAt:      e.now(),
		StartedAt:      startedAt,
		Partial:        partial,
	}

	e.clear()
	e.classifier.Reset()

	slog.Debug("segment: utterance finalized",
		"id", u.ID,
		"seconds", u.Duration(),
		"pre_roll_samples", u.PreRollSamples,
		"partial", partial,
	)
	return u
}

func (e *Engine) clear() {
	e.preRoll.Clear()
	clear(e.snapshot)
	e.snapshot = nil
	clear(e.active)
	e.active = e.active[:0]
	e.activeSamples = 0
	e.silenceSamples = 0
	e.state = Idle
}

// blockSamples is the length of blk expressed at the engine's sample rate.
func (e *Engine) blockSamples(blk audio.Block) int {
	if blk.SampleRate <= 0 || blk.SampleRate == e.sampleRate {
		return blk.Len()
	}
	return int(math.Round(float64(blk.Len()) * float64(e.sampleRate) / float64(blk.SampleRate)))
}
