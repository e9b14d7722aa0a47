package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/sink"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/mic"
	"github.com/MrWong99/earshot/pkg/audio/wavfile"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/deepgram"
	"github.com/MrWong99/earshot/pkg/provider/stt/openai"
	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
	"github.com/MrWong99/earshot/pkg/provider/vad/silero"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every built-in factory into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("mic", func(_ config.ProviderEntry, cfg *config.Config) (audio.Source, error) {
		dropped := observe.DefaultMetrics().DroppedBlocks
		return mic.New(
			mic.WithDevice(audio.DeviceSelector{ID: cfg.Audio.Device.ID, Name: cfg.Audio.Device.Name}),
			mic.WithSampleRate(cfg.Audio.SampleRate),
			mic.WithChannels(cfg.Audio.Channels),
			mic.WithBlockSize(cfg.Audio.BlockSize),
			mic.WithQueueSize(cfg.Audio.QueueSize),
			mic.WithDropHandler(func() { dropped.Add(context.Background(), 1) }),
		), nil
	})

	reg.RegisterAudio("wavfile", func(entry config.ProviderEntry, cfg *config.Config) (audio.Source, error) {
		path := entry.OptionString("path", "")
		if path == "" {
			return nil, errors.New("wavfile: options.path is required")
		}
		return wavfile.New(path,
			wavfile.WithSampleRate(cfg.Audio.SampleRate),
			wavfile.WithBlockSize(cfg.Audio.BlockSize),
			wavfile.WithQueueSize(cfg.Audio.QueueSize),
			wavfile.WithRealtime(entry.OptionBool("realtime", false)),
		), nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry, _ *config.Config) (vad.Classifier, error) {
		var opts []energy.Option
		if speech := entry.OptionFloat("speech_rms", 0); speech > 0 {
			opts = append(opts, energy.WithThresholds(speech, entry.OptionFloat("silence_rms", 0)))
		}
		if start, end := entry.OptionInt("start_blocks", 0), entry.OptionInt("end_blocks", 0); start > 0 || end > 0 {
			opts = append(opts, energy.WithRunLengths(start, end))
		}
		return energy.New(opts...)
	})

	reg.RegisterVAD("silero", func(entry config.ProviderEntry, cfg *config.Config) (vad.Classifier, error) {
		modelPath := entry.OptionString("model_path", entry.Model)
		opts := []silero.Option{silero.WithThreshold(cfg.Segmentation.SpeechThreshold)}
		if ms := entry.OptionInt("min_silence_ms", 0); ms > 0 {
			opts = append(opts, silero.WithMinSilenceDuration(ms))
		}
		if ms := entry.OptionInt("speech_pad_ms", 0); ms > 0 {
			opts = append(opts, silero.WithSpeechPad(ms))
		}
		return silero.New(modelPath, cfg.Audio.SampleRate, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry, _ *config.Config) (stt.Transcriber, error) {
		return openai.New(entry.ResolvedAPIKey(), openAIOptions(entry)...)
	})

	reg.RegisterSTT("groq", func(entry config.ProviderEntry, _ *config.Config) (stt.Transcriber, error) {
		return openai.NewGroq(entry.ResolvedAPIKey(), openAIOptions(entry)...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry, _ *config.Config) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry, _ *config.Config) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptionString("model_path", "")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if prompt := entry.OptionString("prompt", ""); prompt != "" {
			opts = append(opts, whisper.WithNativePrompt(prompt))
		}
		if n := entry.OptionInt("threads", 0); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		opts = append(opts, whisper.WithNativeConcurrency(entry.OptionInt("concurrency", 1)))
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry, _ *config.Config) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.ResolvedAPIKey(), opts...)
	})

	for _, kind := range []string{"audio", "vad", "stt"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

func openAIOptions(entry config.ProviderEntry) []openai.Option {
	var opts []openai.Option
	if entry.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(entry.BaseURL))
	}
	if entry.Model != "" {
		opts = append(opts, openai.WithModel(entry.Model))
	}
	if lang := entry.OptionString("language", ""); lang != "" {
		opts = append(opts, openai.WithLanguage(lang))
	}
	if prompt := entry.OptionString("prompt", ""); prompt != "" {
		opts = append(opts, openai.WithPrompt(prompt))
	}
	if timeout := entry.OptionString("timeout", ""); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			slog.Warn("ignoring invalid stt timeout", "provider", entry.Name, "timeout", timeout, "err", err)
		} else {
			opts = append(opts, openai.WithTimeout(d))
		}
	}
	return opts
}

// providers holds the instantiated pipeline collaborators.
type providers struct {
	Audio audio.Source
	VAD   vad.Classifier
	STT   stt.Transcriber

	closers []io.Closer
}

// Close releases every provider that holds native resources.
func (p *providers) Close() {
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			slog.Warn("provider close", "err", err)
		}
	}
}

// buildProviders instantiates the providers named in cfg. When stt_fallbacks
// are configured the transcriber is wrapped in a failover chain.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*providers, error) {
	ps := &providers{}
	fail := func(err error) (*providers, error) {
		ps.Close()
		return nil, err
	}

	src, err := reg.CreateAudio(cfg.Providers.Audio, cfg)
	if err != nil {
		return fail(fmt.Errorf("create audio provider %q: %w", cfg.Providers.Audio.Name, err))
	}
	ps.Audio = src
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	cls, err := reg.CreateVAD(cfg.Providers.VAD, cfg)
	if err != nil {
		return fail(fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err))
	}
	ps.VAD = cls
	ps.closers = append(ps.closers, cls)
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	primary, err := ps.createSTT(reg, cfg.Providers.STT, cfg)
	if err != nil {
		return fail(err)
	}
	if len(cfg.STTFallbacks) == 0 {
		ps.STT = primary
		return ps, nil
	}

	chain := resilience.NewTranscriber(cfg.Providers.STT.Name, primary, resilience.WithMetrics(m))
	for _, entry := range cfg.STTFallbacks {
		tr, err := ps.createSTT(reg, entry, cfg)
		if err != nil {
			return fail(err)
		}
		chain.Add(entry.Name, tr)
	}
	ps.STT = chain
	return ps, nil
}

func (ps *providers) createSTT(reg *config.Registry, entry config.ProviderEntry, cfg *config.Config) (stt.Transcriber, error) {
	tr, err := reg.CreateSTT(entry, cfg)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
	}
	if c, ok := tr.(io.Closer); ok {
		ps.closers = append(ps.closers, c)
	}
	slog.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model)
	return tr, nil
}

// ── Outputs ───────────────────────────────────────────────────────────────────

type outputs struct {
	fanout   *sink.Fanout
	hub      *sink.Hub
	postgres *sink.Postgres
}

// buildOutputs opens every sink enabled in cfg.Output.
func buildOutputs(ctx context.Context, cfg *config.Config, m *observe.Metrics) (*outputs, error) {
	var (
		out   outputs
		sinks []sink.Sink
	)
	fail := func(err error) (*outputs, error) {
		_ = sink.NewFanout(m, sinks...).Close()
		return nil, err
	}

	o := cfg.Output
	if o.TextFile != "" {
		t, err := sink.NewTextFile(o.TextFile, o.WakePrefix, o.SpeechPrefix)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, t)
	}
	if o.WAVDir != "" {
		w, err := sink.NewWAVDir(o.WAVDir)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, w)
	}
	if o.PostgresDSN != "" {
		p, err := sink.OpenPostgres(ctx, o.PostgresDSN)
		if err != nil {
			return fail(err)
		}
		out.postgres = p
		sinks = append(sinks, p)
	}
	if o.Websocket {
		out.hub = sink.NewHub()
		sinks = append(sinks, out.hub)
	}

	out.fanout = sink.NewFanout(m, sinks...)
	return &out, nil
}
