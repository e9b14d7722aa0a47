// Package deepgram provides a Deepgram-backed STT transcriber using the
// Deepgram streaming WebSocket API.
//
// Each Transcribe call opens a stream, sends the utterance as linear16 PCM in
// fixed-size frames, asks the server to flush with a CloseStream message, and
// joins every final result it receives before the server closes the socket.
package deepgram

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// frameSamples is the number of samples per binary message (100 ms at 16 kHz).
	frameSamples = 1600
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Keyword is a recognition hint with a boost intensity.
type Keyword struct {
	// Word is the text to boost (e.g., "aura").
	Word string

	// Boost is the intensity; Deepgram accepts roughly -10 to 10.
	Boost float64
}

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "ja").
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		t.language = language
	}
}

// WithKeywords boosts recognition of the given words. Wake words are the
// typical use.
func WithKeywords(kws ...Keyword) Option {
	return func(t *Transcriber) {
		t.keywords = append(t.keywords, kws...)
	}
}

// WithEndpoint overrides the streaming endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) {
		t.endpoint = endpoint
	}
}

// Transcriber implements stt.Transcriber backed by the Deepgram streaming API.
type Transcriber struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []Keyword
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	wsURL, err := t.buildURL(sampleRate)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	var finals []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writeAudio(gctx, conn, samples)
	})
	g.Go(func() error {
		var err error
		finals, err = readFinals(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	conn.Close(websocket.StatusNormalClosure, "")

	return strings.Join(finals, " "), nil
}

// writeAudio sends samples as little-endian linear16 frames followed by the
// CloseStream control message.
func writeAudio(ctx context.Context, conn *websocket.Conn, samples []float32) error {
	pcm := audio.Float32ToInt16(samples)
	buf := make([]byte, 2*frameSamples)
	for off := 0; off < len(pcm); off += frameSamples {
		end := min(off+frameSamples, len(pcm))
		n := 0
		for _, s := range pcm[off:end] {
			binary.LittleEndian.PutUint16(buf[n:], uint16(s))
			n += 2
		}
		if err := conn.Write(ctx, websocket.MessageBinary, buf[:n]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: write close stream: %w", err)
	}
	return nil
}

// readFinals collects final transcripts until the server closes the stream.
func readFinals(ctx context.Context, conn *websocket.Conn) ([]string, error) {
	var finals []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return finals, nil
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}
		text, final, ok := parseDeepgramResponse(msg)
		if !ok || !final || text == "" {
			continue
		}
		finals = append(finals, text)
	}
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (t *Transcriber) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", t.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")

	for _, kw := range t.keywords {
		// Deepgram keyword format: word:boost (e.g., "aura:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Word, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse extracts the top alternative from a raw Deepgram
// message. ok is false for non-Results messages and malformed input.
func parseDeepgramResponse(data []byte) (text string, final, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return strings.TrimSpace(resp.Channel.Alternatives[0].Transcript), resp.IsFinal, true
}
