package audio

import (
	"math"
	"time"
)

// Block is a fixed-size chunk of mono audio as delivered by a [Source].
// Blocks are the atomic unit of the segmentation pipeline: each one is
// classified once and then retained by at most one buffer.
//
// A Block must not be modified after it has been sent on a Source channel.
type Block struct {
	// Samples holds mono samples normalised to [-1, 1]. Multi-channel input is
	// down-mixed by the source before delivery.
	Samples []float32

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Timestamp marks when this block was captured, relative to stream start.
	Timestamp time.Duration

	// Seq is the zero-based delivery sequence number within one capture
	// session. Gaps indicate blocks dropped by the producer.
	Seq uint64
}

// Len returns the number of samples in the block.
func (b Block) Len() int { return len(b.Samples) }

// Duration returns the playback length of the block in seconds.
// Returns 0 when the sample rate is not set.
func (b Block) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Peak returns the maximum absolute sample value in the block.
func (b Block) Peak() float64 {
	var peak float64
	for _, s := range b.Samples {
		v := math.Abs(float64(s))
		if v > peak {
			peak = v
		}
	}
	return peak
}

// RMS returns the root-mean-square energy of the block in the same unit as
// the samples. Returns 0 for an empty block.
func (b Block) RMS() float64 {
	return RMS(b.Samples)
}

// RMS returns the root-mean-square energy of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
