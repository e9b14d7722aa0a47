// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for earshot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Providers    ProvidersConfig    `yaml:"providers"`

	// STTFallbacks are tried in order when the primary transcriber fails.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	Wakeword WakewordConfig `yaml:"wakeword"`
	Output   OutputConfig   `yaml:"output"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /metrics, /healthz, /readyz and /ws
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture format.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`

	// Channels is the number of device channels opened. Blocks are always
	// down-mixed to mono.
	Channels int `yaml:"channels"`

	// BlockSize is the number of samples per block.
	BlockSize int `yaml:"block_size"`

	// QueueSize is the capacity of the block queue between the capture
	// callback and the segmentation loop.
	QueueSize int `yaml:"queue_size"`

	Device DeviceConfig `yaml:"device"`
}

// DeviceConfig selects the capture device. ID wins over Name; both empty
// selects the system default input.
type DeviceConfig struct {
	ID   *int   `yaml:"id"`
	Name string `yaml:"name"`
}

// SegmentationConfig tunes the segmentation state machine.
type SegmentationConfig struct {
	// SpeechThreshold is the classifier's speech probability threshold.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceDuration is the seconds of non-speech that end an utterance.
	SilenceDuration float64 `yaml:"silence_duration"`

	// PreRollDuration is the seconds of audio kept before speech onset.
	PreRollDuration float64 `yaml:"pre_roll_duration"`

	// MinAmplitude is the peak level below which a block is silence without
	// consulting the classifier.
	MinAmplitude float64 `yaml:"min_amplitude"`

	// MaxUtteranceDuration caps an utterance in seconds. 0 means unbounded.
	MaxUtteranceDuration float64 `yaml:"max_utterance_duration"`

	// FlushTimeout bounds the transcription of the utterance flushed at
	// shutdown.
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// ProvidersConfig declares which implementation to use for each pipeline
// stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Audio ProviderEntry `yaml:"audio"`
	VAD   ProviderEntry `yaml:"vad"`
	STT   ProviderEntry `yaml:"stt"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "silero").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// apiKeyEnv maps provider names to the environment variable consulted when
// api_key is empty.
var apiKeyEnv = map[string]string{
	"openai":   "OPENAI_API_KEY",
	"groq":     "GROQ_API_KEY",
	"deepgram": "DEEPGRAM_API_KEY",
}

// ResolvedAPIKey returns APIKey, or the provider's conventional environment
// variable when APIKey is empty.
func (e ProviderEntry) ResolvedAPIKey() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	if env, ok := apiKeyEnv[e.Name]; ok {
		return os.Getenv(env)
	}
	return ""
}

// OptionString returns Options[key] as a string, or def when absent.
func (e ProviderEntry) OptionString(key, def string) string {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// OptionFloat returns Options[key] as a float64, or def when absent or not
// numeric.
func (e ProviderEntry) OptionFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// OptionInt returns Options[key] as an int, or def when absent or not
// numeric.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// OptionBool returns Options[key] as a bool, or def when absent.
func (e ProviderEntry) OptionBool(key string, def bool) bool {
	switch v := e.Options[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// WakewordConfig configures the wake-word matcher. Hot-reloadable.
type WakewordConfig struct {
	// Words replaces the built-in wake words when non-empty.
	Words []string `yaml:"words"`

	// FuzzyThreshold enables Jaro-Winkler token matching when > 0.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// PhoneticThreshold enables Double Metaphone matching when > 0.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
}

// OutputConfig selects the result sinks.
type OutputConfig struct {
	// TextFile receives one line per utterance. Empty disables it.
	TextFile string `yaml:"text_file"`

	// WAVDir receives one WAV file per utterance. Empty disables it.
	WAVDir string `yaml:"wav_dir"`

	// PostgresDSN enables the PostgreSQL result store.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Websocket enables the /ws broadcast endpoint.
	Websocket bool `yaml:"websocket"`

	// WakePrefix and SpeechPrefix label lines in TextFile.
	WakePrefix   string `yaml:"wake_prefix"`
	SpeechPrefix string `yaml:"speech_prefix"`
}
