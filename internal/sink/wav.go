package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MrWong99/earshot/pkg/audio"
)

// WAVDir saves each utterance as a 16-bit PCM WAV file named
// utterance_<timestamp>.wav, or utterance_<timestamp>_wake_word.wav when the
// transcript contains a wake word. When two utterances finish within the same
// second the later file gets a short ID suffix.
type WAVDir struct {
	dir string
}

var _ Sink = (*WAVDir)(nil)

// NewWAVDir creates dir if needed and returns a sink writing into it.
func NewWAVDir(dir string) (*WAVDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: wav: create dir: %w", err)
	}
	return &WAVDir{dir: dir}, nil
}

// Name implements [Named].
func (w *WAVDir) Name() string { return "wav" }

// Path returns the file path rec would be written to if no file existed yet.
func (w *WAVDir) Path(rec Record) string {
	return filepath.Join(w.dir, baseName(rec, ""))
}

// Write encodes rec.Samples into a new file.
func (w *WAVDir) Write(_ context.Context, rec Record) error {
	if len(rec.Samples) == 0 {
		return nil
	}
	path := w.Path(rec)
	if _, err := os.Stat(path); err == nil {
		suffix := rec.UtteranceID
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		path = filepath.Join(w.dir, baseName(rec, "_"+suffix))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sink: wav: %w", err)
	}
	if err := audio.WriteWAVFile(path, rec.Samples, rec.SampleRate); err != nil {
		return fmt.Errorf("sink: wav: %w", err)
	}
	return nil
}

// Close is a no-op.
func (w *WAVDir) Close() error { return nil }

func baseName(rec Record, suffix string) string {
	name := "utterance_" + rec.Timestamp
	if rec.IsWakeWord {
		name += "_wake_word"
	}
	return name + suffix + ".wav"
}
