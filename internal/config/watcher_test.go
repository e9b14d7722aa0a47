package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/config"
)

const baseYAML = `
server:
  log_level: info
wakeword:
  words: [aura]
providers:
  stt:
    name: whisper
    base_url: http://localhost:8081
`

const hotEditYAML = `
server:
  log_level: debug
wakeword:
  words: [aura, friday]
  fuzzy_threshold: 0.9
providers:
  stt:
    name: whisper
    base_url: http://localhost:8081
`

// newWatched writes content to a temp file and returns a watcher on it.
func newWatched(t *testing.T, content string, opts ...config.WatcherOption) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "earshot.yaml")
	rewrite(t, path, content, 0)
	w, err := config.NewWatcher(path, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, path
}

// rewrite replaces the file and moves its mtime forward by bump so that a
// same-second rewrite is still observed.
func rewrite(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if bump > 0 {
		mt := time.Now().Add(bump)
		if err := os.Chtimes(path, mt, mt); err != nil {
			t.Fatal(err)
		}
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := newWatched(t, baseYAML)
	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo || cfg.Providers.STT.Name != "whisper" {
		t.Errorf("initial config = %+v", cfg.Server)
	}
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		edit       string
		touchOnly  bool
		wantNotify bool
		wantLevel  config.LogLevel
	}{
		{name: "hot edit", edit: hotEditYAML, wantNotify: true, wantLevel: config.LogDebug},
		{name: "invalid edit keeps previous", edit: "server:\n  log_level: bananas\n", wantLevel: config.LogInfo},
		{name: "unknown field keeps previous", edit: "server:\n  loglevel: debug\n", wantLevel: config.LogInfo},
		{name: "touch without change", touchOnly: true, wantLevel: config.LogInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, path := newWatched(t, baseYAML)

			var got []config.ConfigDiff
			w.OnChange(func(old, new *config.Config, d config.ConfigDiff) {
				if old.Server.LogLevel != config.LogInfo {
					t.Errorf("old log level = %q", old.Server.LogLevel)
				}
				got = append(got, d)
			})

			if w.Reload() {
				t.Fatal("Reload reported a change before any edit")
			}
			content := tt.edit
			if tt.touchOnly {
				content = baseYAML
			}
			rewrite(t, path, content, 2*time.Second)

			if notified := w.Reload(); notified != tt.wantNotify {
				t.Errorf("Reload = %v, want %v", notified, tt.wantNotify)
			}
			if len(got) != map[bool]int{true: 1, false: 0}[tt.wantNotify] {
				t.Fatalf("subscriber calls = %d", len(got))
			}
			if tt.wantNotify {
				d := got[0]
				if !d.LogLevelChanged || !d.WakewordsChanged || !d.FuzzyChanged || d.RestartRequired {
					t.Errorf("diff = %+v", d)
				}
			}
			if lvl := w.Current().Server.LogLevel; lvl != tt.wantLevel {
				t.Errorf("Current log level = %q, want %q", lvl, tt.wantLevel)
			}
		})
	}
}

func TestWatcher_SubscribersInOrder(t *testing.T) {
	t.Parallel()
	w, path := newWatched(t, baseYAML)

	var order []int
	for i := range 3 {
		w.OnChange(func(*config.Config, *config.Config, config.ConfigDiff) { order = append(order, i) })
	}
	rewrite(t, path, hotEditYAML, 2*time.Second)
	w.Reload()

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("order = %v", order)
	}
}

func TestWatcher_Run(t *testing.T) {
	t.Parallel()
	w, path := newWatched(t, baseYAML, config.WithInterval(10*time.Millisecond))

	changed := make(chan config.ConfigDiff, 1)
	w.OnChange(func(_, _ *config.Config, d config.ConfigDiff) {
		select {
		case changed <- d:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	rewrite(t, path, hotEditYAML, 2*time.Second)
	select {
	case d := <-changed:
		if !d.LogLevelChanged {
			t.Errorf("diff = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change observed by Run")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
