package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default line prefixes for the transcript file.
const (
	DefaultWakePrefix   = "wake_word"
	DefaultSpeechPrefix = "speech"
)

// TextFile appends one line per utterance to a transcript file:
//
//	[20060102_150405] <prefix>: <text>
//
// The prefix is the wake prefix when the utterance contains a wake word and
// the speech prefix otherwise.
type TextFile struct {
	wakePrefix   string
	speechPrefix string

	mu sync.Mutex
	f  *os.File
}

var _ Sink = (*TextFile)(nil)

// NewTextFile opens path for appending, creating it and its parent
// directories as needed. Empty prefixes select the defaults.
func NewTextFile(path, wakePrefix, speechPrefix string) (*TextFile, error) {
	if wakePrefix == "" {
		wakePrefix = DefaultWakePrefix
	}
	if speechPrefix == "" {
		speechPrefix = DefaultSpeechPrefix
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sink: text: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: text: open: %w", err)
	}
	return &TextFile{wakePrefix: wakePrefix, speechPrefix: speechPrefix, f: f}, nil
}

// Name implements [Named].
func (t *TextFile) Name() string { return "text" }

// Write appends rec's line. Newlines inside the text are flattened so each
// utterance stays on one line.
func (t *TextFile) Write(_ context.Context, rec Record) error {
	prefix := t.speechPrefix
	if rec.IsWakeWord {
		prefix = t.wakePrefix
	}
	text := strings.Join(strings.Fields(rec.Text), " ")
	line := fmt.Sprintf("[%s] %s: %s\n", rec.Timestamp, prefix, text)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return fmt.Errorf("sink: text: closed")
	}
	if _, err := t.f.WriteString(line); err != nil {
		return fmt.Errorf("sink: text: write: %w", err)
	}
	return nil
}

// Close closes the file. It is safe to call more than once.
func (t *TextFile) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}
