package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []float32
		channels int
		want     []float32
	}{
		{name: "mono copy", in: []float32{0.1, -0.2, 0.3}, channels: 1, want: []float32{0.1, -0.2, 0.3}},
		{name: "zero channels treated as mono", in: []float32{0.5}, channels: 0, want: []float32{0.5}},
		{name: "stereo average", in: []float32{0.2, 0.4, -0.2, -0.4}, channels: 2, want: []float32{0.3, -0.3}},
		{name: "trailing partial frame dropped", in: []float32{1, 1, 1}, channels: 2, want: []float32{1}},
		{name: "three channels", in: []float32{0.3, 0.3, 0.3}, channels: 3, want: []float32{0.3}},
		{name: "empty", in: nil, channels: 2, want: []float32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Downmix(tt.in, tt.channels)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if !approxEqual(float64(got[i]), float64(tt.want[i]), 1e-6) {
					t.Errorf("sample %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDownmix_CopiesInput(t *testing.T) {
	t.Parallel()
	in := []float32{0.1, 0.2}
	out := audio.Downmix(in, 1)
	in[0] = 0.9
	if out[0] != 0.1 {
		t.Errorf("Downmix aliases its input: out[0] = %v after mutating input", out[0])
	}
}

func TestResample_SameRate(t *testing.T) {
	t.Parallel()
	in := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(in, 16000, 16000)
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	in[0] = 1
	if out[0] != 0.1 {
		t.Error("Resample at equal rates must return a copy")
	}
}

func TestResample_Lengths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		n       int
		src     int
		dst     int
		wantLen int
	}{
		{name: "48k to 16k", n: 4800, src: 48000, dst: 16000, wantLen: 1600},
		{name: "16k to 48k", n: 1600, src: 16000, dst: 48000, wantLen: 4800},
		{name: "44.1k to 16k", n: 44100, src: 44100, dst: 16000, wantLen: 16000},
		{name: "too short for one output sample", n: 1, src: 48000, dst: 16000, wantLen: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := audio.Resample(make([]float32, tt.n), tt.src, tt.dst)
			if len(out) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(out), tt.wantLen)
			}
		})
	}
}

func TestResample_Interpolates(t *testing.T) {
	t.Parallel()
	// Upsampling a ramp by 2 inserts midpoints.
	out := audio.Resample([]float32{0, 1, 2, 3}, 8000, 16000)
	want := []float32{0, 0.5, 1, 1.5, 2, 2.5, 3, 3}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if !approxEqual(float64(out[i]), float64(want[i]), 1e-6) {
			t.Errorf("sample %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func TestFloat32ToInt16(t *testing.T) {
	t.Parallel()
	got := audio.Float32ToInt16([]float32{0, 1, -1, 0.5, 2, -2})
	want := []int16{0, 32767, -32767, 16384, 32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestInt16ToFloat32_RoundTrip(t *testing.T) {
	t.Parallel()
	in := []float32{0, 0.25, -0.25, 0.999}
	back := audio.Int16ToFloat32(audio.Float32ToInt16(in))
	for i := range in {
		if !approxEqual(float64(back[i]), float64(in[i]), 1.0/16384) {
			t.Errorf("sample %d: got %v, want ~%v", i, back[i], in[i])
		}
	}
}

func TestConcat(t *testing.T) {
	t.Parallel()
	blocks := []audio.Block{
		{Samples: []float32{1, 2}},
		{Samples: nil},
		{Samples: []float32{3}},
	}
	got := audio.Concat(blocks)
	want := []float32{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBlock_Measurements(t *testing.T) {
	t.Parallel()

	blk := audio.Block{Samples: []float32{0.5, -0.5, 0.5, -0.8}, SampleRate: 4}
	if got := blk.Len(); got != 4 {
		t.Errorf("Len = %d, want 4", got)
	}
	if got := blk.Duration(); !approxEqual(got, 1.0, 1e-9) {
		t.Errorf("Duration = %v, want 1.0", got)
	}
	if got := blk.Peak(); !approxEqual(got, 0.8, 1e-6) {
		t.Errorf("Peak = %v, want 0.8", got)
	}
	wantRMS := math.Sqrt((0.25*3 + 0.64) / 4)
	if got := blk.RMS(); !approxEqual(got, wantRMS, 1e-6) {
		t.Errorf("RMS = %v, want %v", got, wantRMS)
	}

	var empty audio.Block
	if empty.Duration() != 0 || empty.Peak() != 0 || empty.RMS() != 0 {
		t.Error("zero Block should report zero duration, peak and RMS")
	}
}

func TestDeviceSelector_String(t *testing.T) {
	t.Parallel()
	id := 3
	tests := []struct {
		sel      audio.DeviceSelector
		want     string
		wantZero bool
	}{
		{sel: audio.DeviceSelector{}, want: "default", wantZero: true},
		{sel: audio.DeviceSelector{ID: &id}, want: "id=3"},
		{sel: audio.DeviceSelector{Name: "USB"}, want: `name="USB"`},
	}
	for _, tt := range tests {
		if got := tt.sel.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if got := tt.sel.IsZero(); got != tt.wantZero {
			t.Errorf("%s: IsZero() = %v, want %v", tt.want, got, tt.wantZero)
		}
	}
}
