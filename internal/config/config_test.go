package config_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/pkg/audio"
	audiomock "github.com/MrWong99/earshot/pkg/audio/mock"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	vadmock "github.com/MrWong99/earshot/pkg/provider/vad/mock"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{
		"language":  "ja",
		"threshold": 0.4,
		"window":    512,
		"rate":      "8000",
		"ratio":     "0.25",
		"realtime":  true,
		"flag":      "false",
	}}

	if got := e.OptionString("language", "en"); got != "ja" {
		t.Errorf("OptionString = %q", got)
	}
	if got := e.OptionString("window", ""); got != "512" {
		t.Errorf("OptionString(non-string) = %q", got)
	}
	if got := e.OptionString("missing", "def"); got != "def" {
		t.Errorf("OptionString(missing) = %q", got)
	}
	if got := e.OptionFloat("threshold", 0); got != 0.4 {
		t.Errorf("OptionFloat = %v", got)
	}
	if got := e.OptionFloat("window", 0); got != 512 {
		t.Errorf("OptionFloat(int) = %v", got)
	}
	if got := e.OptionFloat("ratio", 0); got != 0.25 {
		t.Errorf("OptionFloat(string) = %v", got)
	}
	if got := e.OptionInt("rate", 0); got != 8000 {
		t.Errorf("OptionInt(string) = %v", got)
	}
	if got := e.OptionInt("threshold", 7); got != 0 {
		t.Errorf("OptionInt(float) = %v", got)
	}
	if got := e.OptionInt("missing", 7); got != 7 {
		t.Errorf("OptionInt(missing) = %v", got)
	}
	if !e.OptionBool("realtime", false) || e.OptionBool("flag", true) || !e.OptionBool("missing", true) {
		t.Error("OptionBool mismatch")
	}
}

func TestProviderEntry_ResolvedAPIKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-env")

	if got := (config.ProviderEntry{Name: "groq", APIKey: "explicit"}).ResolvedAPIKey(); got != "explicit" {
		t.Errorf("explicit key = %q", got)
	}
	if got := (config.ProviderEntry{Name: "groq"}).ResolvedAPIKey(); got != "gsk-env" {
		t.Errorf("env key = %q", got)
	}
	if got := (config.ProviderEntry{Name: "whisper"}).ResolvedAPIKey(); got != "" {
		t.Errorf("keyless provider = %q", got)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	cfg := config.Default()

	if _, err := r.CreateAudio(config.ProviderEntry{Name: "nope"}, cfg); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateAudio err = %v", err)
	}
	if _, err := r.CreateVAD(config.ProviderEntry{Name: "nope"}, cfg); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateVAD err = %v", err)
	}
	if _, err := r.CreateSTT(config.ProviderEntry{Name: "nope"}, cfg); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT err = %v", err)
	}
}

func TestRegistry_Create(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	cfg := config.Default()

	var gotEntry config.ProviderEntry
	var gotCfg *config.Config
	r.RegisterAudio("mock", func(e config.ProviderEntry, c *config.Config) (audio.Source, error) {
		gotEntry, gotCfg = e, c
		return &audiomock.Source{}, nil
	})
	r.RegisterVAD("mock", func(config.ProviderEntry, *config.Config) (vad.Classifier, error) {
		return &vadmock.Classifier{}, nil
	})
	r.RegisterSTT("echo", func(e config.ProviderEntry, _ *config.Config) (stt.Transcriber, error) {
		return stt.Func(func(context.Context, []float32, int) (string, error) { return e.Model, nil }), nil
	})

	if _, err := r.CreateAudio(config.ProviderEntry{Name: "mock", Model: "m"}, cfg); err != nil {
		t.Fatalf("CreateAudio: %v", err)
	}
	if gotEntry.Model != "m" || gotCfg != cfg {
		t.Error("factory did not receive entry and config")
	}
	if _, err := r.CreateVAD(config.ProviderEntry{Name: "mock"}, cfg); err != nil {
		t.Fatalf("CreateVAD: %v", err)
	}
	tr, err := r.CreateSTT(config.ProviderEntry{Name: "echo", Model: "whisper-1"}, cfg)
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if text, _ := tr.Transcribe(context.Background(), nil, 16000); text != "whisper-1" {
		t.Errorf("Transcribe = %q", text)
	}

	if got := r.Names("stt"); !slices.Equal(got, []string{"echo"}) {
		t.Errorf("Names(stt) = %v", got)
	}
	if got := r.Names("bogus"); got != nil {
		t.Errorf("Names(bogus) = %v", got)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	boom := errors.New("model missing")
	r.RegisterVAD("broken", func(config.ProviderEntry, *config.Config) (vad.Classifier, error) {
		return nil, boom
	})
	if _, err := r.CreateVAD(config.ProviderEntry{Name: "broken"}, config.Default()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
