package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// wavBitDepth is the sample width used for every WAV file earshot writes.
	wavBitDepth = 16

	// wavFormatPCM is the RIFF audio format tag for uncompressed PCM.
	wavFormatPCM = 1
)

// EncodeWAV writes mono samples to w as a 16-bit PCM WAV stream.
func EncodeWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("audio: encode wav: invalid sample rate %d", sampleRate)
	}
	pcm := Float32ToInt16(samples)
	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(w, sampleRate, wavBitDepth, 1, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalise wav: %w", err)
	}
	return nil
}

// WAVBytes encodes mono samples as an in-memory 16-bit PCM WAV file. The
// result is suitable for direct upload to transcription APIs.
func WAVBytes(samples []float32, sampleRate int) ([]byte, error) {
	var ws seekBuffer
	if err := EncodeWAV(&ws, samples, sampleRate); err != nil {
		return nil, err
	}
	return ws.Bytes(), nil
}

// WriteWAVFile writes mono samples to path, creating parent directories as
// needed. An existing file is truncated.
func WriteWAVFile(path string, samples []float32, sampleRate int) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("audio: create dir for %q: %w", path, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %q: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("audio: close %q: %w", path, cerr)
		}
	}()
	return EncodeWAV(f, samples, sampleRate)
}

// DecodeWAV reads a PCM WAV stream and returns mono samples normalised to
// [-1, 1] together with the file's sample rate. Multi-channel files are
// down-mixed.
func DecodeWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("audio: decode wav: invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf == nil {
		return nil, 0, errors.New("audio: decode wav: empty pcm buffer")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth <= 0 {
		bitDepth = wavBitDepth
	}
	scale := float32(int64(1) << (bitDepth - 1))

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}

	channels := int(dec.NumChans)
	if channels == 0 && buf.Format != nil {
		channels = buf.Format.NumChannels
	}
	sampleRate := int(dec.SampleRate)
	if sampleRate == 0 && buf.Format != nil {
		sampleRate = buf.Format.SampleRate
	}
	if sampleRate <= 0 {
		return nil, 0, errors.New("audio: decode wav: missing sample rate")
	}
	if channels > 1 {
		samples = Downmix(samples, channels)
	}
	return samples, sampleRate, nil
}

// seekBuffer is an in-memory io.WriteSeeker. The WAV encoder seeks back to
// patch chunk sizes once all samples are written, which bytes.Buffer cannot
// support.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.buf) {
		if end > cap(b.buf) {
			grown := make([]byte, end, max(end, 2*cap(b.buf)))
			copy(grown, b.buf)
			b.buf = grown
		} else {
			b.buf = b.buf[:end]
		}
	}
	copy(b.buf[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("audio: seek: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("audio: seek: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}

// Bytes returns the written contents.
func (b *seekBuffer) Bytes() []byte { return b.buf }
