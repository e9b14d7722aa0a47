package audio_test

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
)

func sine(n, rate int, freq, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestWAVBytes_Header(t *testing.T) {
	t.Parallel()

	samples := sine(1600, 16000, 440, 0.5)
	data, err := audio.WAVBytes(samples, 16000)
	if err != nil {
		t.Fatalf("WAVBytes: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Errorf("missing RIFF magic: % x", data[:4])
	}
	if string(data[8:12]) != "WAVE" {
		t.Errorf("missing WAVE tag: %q", data[8:12])
	}
	// 44-byte canonical header plus 2 bytes per sample.
	if want := 44 + 2*len(samples); len(data) != want {
		t.Errorf("len = %d, want %d", len(data), want)
	}
}

func TestWAVBytes_InvalidRate(t *testing.T) {
	t.Parallel()
	if _, err := audio.WAVBytes([]float32{0}, 0); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	samples := sine(3200, 16000, 220, 0.7)
	data, err := audio.WAVBytes(samples, 16000)
	if err != nil {
		t.Fatalf("WAVBytes: %v", err)
	}

	got, rate, err := audio.DecodeWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	if len(got) != len(samples) {
		t.Fatalf("len = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if !approxEqual(float64(got[i]), float64(samples[i]), 1.0/8192) {
			t.Fatalf("sample %d: got %v, want ~%v", i, got[i], samples[i])
		}
	}
}

func TestWriteWAVFile_CreatesDirs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "out.wav")
	if err := audio.WriteWAVFile(path, sine(800, 8000, 100, 0.2), 8000); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	got, rate, err := audio.DecodeWAV(f)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 8000 || len(got) != 800 {
		t.Errorf("decoded rate=%d len=%d, want 8000/800", rate, len(got))
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()
	if _, _, err := audio.DecodeWAV(bytes.NewReader([]byte("not a wav file at all"))); err == nil {
		t.Fatal("expected error for garbage input")
	}
}
