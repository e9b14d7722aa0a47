package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc receives a validated config that differs from the previous
// one. d is Diff(old, new).
type ChangeFunc func(old, new *Config, d ConfigDiff)

// fingerprint identifies one version of the file on disk.
type fingerprint struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher keeps the last valid version of a config file and notifies
// subscribers when a new valid version appears. Edits that fail to parse or
// validate are logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration

	mu      sync.Mutex
	current *Config
	seen    fingerprint
	subs    []ChangeFunc
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often [Watcher.Run] polls the file. Defaults to 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once. Call [Watcher.Run] to start polling.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second}
	for _, o := range opts {
		o(w)
	}
	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, fp
	return w, nil
}

// OnChange subscribes fn. Subscribers run on the polling goroutine in
// registration order.
func (w *Watcher) OnChange(fn ChangeFunc) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done and returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Reload()
		}
	}
}

// Reload checks the file once and reports whether subscribers were
// notified. An unchanged mtime and size skip reading; identical content
// after a touch is not a change.
func (w *Watcher) Reload() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watch: stat failed", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	same := info.ModTime().Equal(w.seen.mtime) && info.Size() == w.seen.size
	w.mu.Unlock()
	if same {
		return false
	}

	cfg, fp, err := w.read()
	if err != nil {
		slog.Warn("config: watch: ignoring invalid edit", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	if fp.sum == w.seen.sum {
		w.seen = fp
		w.mu.Unlock()
		return false
	}
	old := w.current
	w.current, w.seen = cfg, fp
	subs := append([]ChangeFunc(nil), w.subs...)
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("config: reloaded",
		"path", w.path,
		"log_level", d.LogLevelChanged,
		"wakewords", d.WakewordsChanged,
		"thresholds", d.FuzzyChanged,
	)
	if d.RestartRequired {
		slog.Warn("config: some edits take effect after a restart", "path", w.path)
	}
	for _, fn := range subs {
		fn(old, cfg, d)
	}
	return true
}

func (w *Watcher) read() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadBytes(data)
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
