package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/stt/openai"
)

func newTranscriptionServer(t *testing.T, text string, calls *atomic.Int32, gotModel, gotLang *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/audio/transcriptions" {
			http.Error(w, "not found: "+r.URL.Path, http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if gotModel != nil {
			*gotModel = r.FormValue("model")
		}
		if gotLang != nil {
			*gotLang = r.FormValue("language")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
	if _, err := openai.NewGroq(""); err == nil {
		t.Fatal("expected error for empty Groq apiKey")
	}
}

func TestNew_Models(t *testing.T) {
	t.Parallel()

	tr, err := openai.New("k")
	if err != nil {
		t.Fatal(err)
	}
	if tr.Model() != "whisper-1" {
		t.Errorf("default model = %q, want whisper-1", tr.Model())
	}

	g, err := openai.NewGroq("k")
	if err != nil {
		t.Fatal(err)
	}
	if g.Model() != openai.GroqModel {
		t.Errorf("groq model = %q, want %q", g.Model(), openai.GroqModel)
	}

	g2, _ := openai.NewGroq("k", openai.WithModel("whisper-large-v3"))
	if g2.Model() != "whisper-large-v3" {
		t.Errorf("override model = %q", g2.Model())
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var model, lang string
	srv := newTranscriptionServer(t, " アウラ、起きて ", &calls, &model, &lang)

	tr, err := openai.New("test-key",
		openai.WithBaseURL(srv.URL),
		openai.WithLanguage("ja"),
		openai.WithMaxRetries(0),
	)
	if err != nil {
		t.Fatal(err)
	}

	text, err := tr.Transcribe(context.Background(), make([]float32, 1600), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "アウラ、起きて" {
		t.Errorf("text = %q", text)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if model != "whisper-1" || lang != "ja" {
		t.Errorf("model=%q lang=%q", model, lang)
	}
}

func TestTranscribe_EmptySkipsRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newTranscriptionServer(t, "x", &calls, nil, nil)
	tr, _ := openai.New("test-key", openai.WithBaseURL(srv.URL), openai.WithMaxRetries(0))

	text, err := tr.Transcribe(context.Background(), nil, 16000)
	if err != nil || text != "" {
		t.Errorf("got %q, %v", text, err)
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
}

func TestTranscribe_HTTPError(t *testing.T) {
	t.Parallel()

	srv := newTranscriptionServer(t, "x", nil, nil, nil)
	tr, _ := openai.New("wrong-key", openai.WithBaseURL(srv.URL), openai.WithMaxRetries(0))
	if _, err := tr.Transcribe(context.Background(), make([]float32, 160), 16000); err == nil {
		t.Fatal("expected error for unauthorized request")
	}
}
