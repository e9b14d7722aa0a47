package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// takes effect on restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	WakewordsChanged bool
	NewWakewords     []string

	FuzzyChanged         bool
	NewFuzzyThreshold    float64
	NewPhoneticThreshold float64

	// RestartRequired is true when a field outside the hot-reloadable set
	// changed.
	RestartRequired bool
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.WakewordsChanged || d.FuzzyChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Wakeword.Words, new.Wakeword.Words) {
		d.WakewordsChanged = true
		d.NewWakewords = slices.Clone(new.Wakeword.Words)
	}

	if old.Wakeword.FuzzyThreshold != new.Wakeword.FuzzyThreshold ||
		old.Wakeword.PhoneticThreshold != new.Wakeword.PhoneticThreshold {
		d.FuzzyChanged = true
		d.NewFuzzyThreshold = new.Wakeword.FuzzyThreshold
		d.NewPhoneticThreshold = new.Wakeword.PhoneticThreshold
	}

	d.RestartRequired = old.Server.ListenAddr != new.Server.ListenAddr ||
		!sameAudio(old.Audio, new.Audio) ||
		old.Segmentation != new.Segmentation ||
		!sameEntry(old.Providers.Audio, new.Providers.Audio) ||
		!sameEntry(old.Providers.VAD, new.Providers.VAD) ||
		!sameEntry(old.Providers.STT, new.Providers.STT) ||
		!slices.EqualFunc(old.STTFallbacks, new.STTFallbacks, sameEntry) ||
		old.Output != new.Output

	return d
}

func sameAudio(a, b AudioConfig) bool {
	if a.SampleRate != b.SampleRate || a.Channels != b.Channels ||
		a.BlockSize != b.BlockSize || a.QueueSize != b.QueueSize ||
		a.Device.Name != b.Device.Name {
		return false
	}
	switch {
	case a.Device.ID == nil && b.Device.ID == nil:
		return true
	case a.Device.ID == nil || b.Device.ID == nil:
		return false
	default:
		return *a.Device.ID == *b.Device.ID
	}
}

// sameEntry compares the scalar fields of two entries. Options are compared
// by key set and formatted value.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k := range a.Options {
		if _, ok := b.Options[k]; !ok || a.OptionString(k, "") != b.OptionString(k, "") {
			return false
		}
	}
	return true
}
