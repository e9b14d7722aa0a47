package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio": {"mic", "wavfile"},
	"vad":   {"silero", "energy"},
	"stt":   {"openai", "groq", "whisper", "whisper-native", "deepgram"},
}

// Defaults.
const (
	DefaultListenAddr      = ":8080"
	DefaultSampleRate      = 16000
	DefaultBlockSize       = 512
	DefaultQueueSize       = 64
	DefaultSpeechThreshold = 0.5
	DefaultSilenceDuration = 1.0
	DefaultPreRollDuration = 0.5
	DefaultMinAmplitude    = 0.01
	DefaultTextFile        = "output.txt"
	DefaultWakePrefix      = "wake_word"
	DefaultSpeechPrefix    = "speech"
)

// DefaultFlushTimeout bounds the shutdown flush.
const DefaultFlushTimeout = 30 * time.Second

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBytes is LoadFromReader over an in-memory document.
func LoadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// ApplyDefaults fills zero-valued fields with their defaults.
// max_utterance_duration has no default; zero keeps utterances unbounded.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = DefaultBlockSize
	}
	if cfg.Audio.QueueSize == 0 {
		cfg.Audio.QueueSize = DefaultQueueSize
	}

	s := &cfg.Segmentation
	if s.SpeechThreshold == 0 {
		s.SpeechThreshold = DefaultSpeechThreshold
	}
	if s.SilenceDuration == 0 {
		s.SilenceDuration = DefaultSilenceDuration
	}
	if s.PreRollDuration == 0 {
		s.PreRollDuration = DefaultPreRollDuration
	}
	if s.MinAmplitude == 0 {
		s.MinAmplitude = DefaultMinAmplitude
	}
	if s.FlushTimeout == 0 {
		s.FlushTimeout = DefaultFlushTimeout
	}

	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "mic"
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = "openai"
	}

	if cfg.Output.TextFile == "" {
		cfg.Output.TextFile = DefaultTextFile
	}
	if cfg.Output.WakePrefix == "" {
		cfg.Output.WakePrefix = DefaultWakePrefix
	}
	if cfg.Output.SpeechPrefix == "" {
		cfg.Output.SpeechPrefix = DefaultSpeechPrefix
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	a := cfg.Audio
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.Channels < 0 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be positive", a.Channels))
	}
	if a.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", a.BlockSize))
	}
	if a.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_size %d must be positive", a.QueueSize))
	}
	if a.Device.ID != nil && *a.Device.ID < 0 {
		errs = append(errs, fmt.Errorf("audio.device.id %d must not be negative", *a.Device.ID))
	}

	s := cfg.Segmentation
	if s.SpeechThreshold < 0 || s.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("segmentation.speech_threshold %.2f is out of range [0, 1]", s.SpeechThreshold))
	}
	if s.SilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("segmentation.silence_duration %.2f must not be negative", s.SilenceDuration))
	}
	if s.PreRollDuration < 0 {
		errs = append(errs, fmt.Errorf("segmentation.pre_roll_duration %.2f must not be negative", s.PreRollDuration))
	}
	if s.MinAmplitude < 0 || s.MinAmplitude > 1 {
		errs = append(errs, fmt.Errorf("segmentation.min_amplitude %.3f is out of range [0, 1]", s.MinAmplitude))
	}
	if s.MaxUtteranceDuration < 0 {
		errs = append(errs, fmt.Errorf("segmentation.max_utterance_duration %.2f must not be negative", s.MaxUtteranceDuration))
	}
	if s.MaxUtteranceDuration > 0 && s.MaxUtteranceDuration < s.SilenceDuration {
		slog.Warn("segmentation.max_utterance_duration is shorter than silence_duration; most utterances will be cut by length",
			"max_utterance_duration", s.MaxUtteranceDuration,
			"silence_duration", s.SilenceDuration,
		)
	}
	if s.FlushTimeout < 0 {
		errs = append(errs, fmt.Errorf("segmentation.flush_timeout %s must not be negative", s.FlushTimeout))
	}

	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}

	w := cfg.Wakeword
	if w.FuzzyThreshold < 0 || w.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("wakeword.fuzzy_threshold %.2f is out of range [0, 1]", w.FuzzyThreshold))
	}
	if w.PhoneticThreshold < 0 || w.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("wakeword.phonetic_threshold %.2f is out of range [0, 1]", w.PhoneticThreshold))
	}

	if cfg.Output.Websocket && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("output.websocket requires server.listen_addr"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
