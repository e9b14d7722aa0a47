package audio

import "math"

// Downmix averages interleaved multi-channel samples into a mono slice. When
// channels is 1 (or less) the input is copied unchanged. Any trailing partial
// frame is ignored.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. Suitable for speech; not for music-quality resampling.
// Returns a copy of the input when the rates match.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}
	if len(samples) == 0 {
		return nil
	}
	outLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if outLen == 0 {
		return nil
	}
	out := make([]float32, outLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range outLen {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := float32(srcPos - float64(idx))

		s0 := samples[min(idx, len(samples)-1)]
		s1 := samples[min(idx+1, len(samples)-1)]
		out[i] = s0 + (s1-s0)*frac
	}
	return out
}

// Float32ToInt16 converts normalised float samples to 16-bit integers,
// clamping values outside [-1, 1].
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// Int16ToFloat32 converts 16-bit integer samples to floats in [-1, 1).
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Concat joins the samples of blocks into one slice, in order.
func Concat(blocks []Block) []float32 {
	n := 0
	for _, b := range blocks {
		n += len(b.Samples)
	}
	out := make([]float32, 0, n)
	for _, b := range blocks {
		out = append(out, b.Samples...)
	}
	return out
}
