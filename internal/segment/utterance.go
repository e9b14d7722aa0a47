package segment

import (
	"time"

	"github.com/google/uuid"
)

// Utterance is one contiguous speech segment: the pre-roll snapshot taken at
// speech onset followed by every speech block up to the end of the segment.
// Trailing silence that closed the segment is not included.
type Utterance struct {
	// ID uniquely identifies the utterance across sinks.
	ID uuid.UUID

	// Samples holds mono samples normalised to [-1, 1].
	Samples []float32

	// PreRollSamples is the number of leading samples that came from the
	// pre-roll rather than from blocks classified as speech.
	PreRollSamples int

	// SampleRate in Hz.
	SampleRate int

	// Channels is always 1; sources down-mix before delivery.
	Channels int

	// CreatedAt is the wall-clock time the utterance was finalised.
	CreatedAt time.Time

	// StartedAt is the stream offset of the first sample.
	StartedAt time.Duration

	// Partial is true when the utterance was cut short by shutdown rather
	// than ended by silence or the maximum length.
	Partial bool
}

// Duration returns the audio length in seconds.
func (u *Utterance) Duration() float64 {
	if u == nil || u.SampleRate <= 0 {
		return 0
	}
	return float64(len(u.Samples)) / float64(u.SampleRate)
}

// SpeechSamples returns the samples after the pre-roll.
func (u *Utterance) SpeechSamples() []float32 {
	return u.Samples[u.PreRollSamples:]
}
