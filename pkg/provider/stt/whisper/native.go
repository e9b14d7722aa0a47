package whisper

// The native transcriber links against whisper.cpp through cgo. Building it
// needs libwhisper.a on LIBRARY_PATH and whisper.h on C_INCLUDE_PATH.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

var _ stt.Transcriber = (*NativeTranscriber)(nil)

// ErrClosed is returned by Transcribe after Close.
var ErrClosed = errors.New("whisper: transcriber closed")

// NativeTranscriber runs whisper.cpp in-process. The model is loaded once
// and shared; each Transcribe call decodes in a context of its own.
type NativeTranscriber struct {
	model    whisperlib.Model
	language string
	prompt   string
	threads  uint
	slots    chan struct{}

	// mu is held for reading by every inference so Close can wait for them
	// before the model is freed.
	mu     sync.RWMutex
	closed bool
}

// NativeOption configures a [NativeTranscriber].
type NativeOption func(*NativeTranscriber)

// WithNativeLanguage sets the spoken language ("en", "de", "auto").
// Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(t *NativeTranscriber) { t.language = lang }
}

// WithNativePrompt primes decoding with prompt, e.g. the wake words.
func WithNativePrompt(prompt string) NativeOption {
	return func(t *NativeTranscriber) { t.prompt = prompt }
}

// WithNativeThreads sets the CPU threads per inference. Zero keeps the
// library default.
func WithNativeThreads(n uint) NativeOption {
	return func(t *NativeTranscriber) { t.threads = n }
}

// WithNativeConcurrency caps simultaneous inferences. Defaults to 1, since
// each one saturates its threads.
func WithNativeConcurrency(n int) NativeOption {
	return func(t *NativeTranscriber) {
		if n > 0 {
			t.slots = make(chan struct{}, n)
		}
	}
}

// NewNative loads the ggml model at modelPath. Close releases it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeTranscriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path is required")
	}
	t := &NativeTranscriber{
		language: defaultLanguage,
		slots:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(t)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %s: %w", modelPath, err)
	}
	t.model = model
	slog.Info("whisper: model loaded",
		"path", modelPath,
		"language", t.language,
		"concurrency", cap(t.slots),
	)
	return t, nil
}

// Close waits for running inferences and frees the model. Later calls are
// no-ops.
func (t *NativeTranscriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.model.Close()
}

// Transcribe decodes samples, resampling to 16 kHz first. Cancellation is
// honoured while waiting for a free slot; a running cgo inference cannot be
// interrupted.
func (t *NativeTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	select {
	case t.slots <- struct{}{}:
		defer func() { <-t.slots }()
	case <-ctx.Done():
		return "", fmt.Errorf("whisper: %w", ctx.Err())
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}

	if sampleRate != modelSampleRate {
		samples = audio.Resample(samples, sampleRate, modelSampleRate)
	}
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("whisper: language %q: %w", t.language, err)
	}
	if t.threads > 0 {
		wctx.SetThreads(t.threads)
	}
	if t.prompt != "" {
		wctx.SetInitialPrompt(t.prompt)
	}

	var b strings.Builder
	collect := func(seg whisperlib.Segment) {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	if err := wctx.Process(samples, nil, collect, nil); err != nil {
		return "", fmt.Errorf("whisper: decode: %w", err)
	}
	return b.String(), nil
}
