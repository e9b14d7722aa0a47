// Command earshot listens on a microphone (or replays a WAV file), cuts the
// audio into utterances, transcribes them, and flags the ones that contain a
// wake word.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/consumer"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/listener"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/internal/sink"
	"github.com/MrWong99/earshot/internal/wakeword"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/mic"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	flags, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 2
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "earshot: .env: %v\n", err)
	}

	if flags.list {
		devices, err := mic.ListDevices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
			return 1
		}
		audio.PrintDevices(os.Stdout, devices)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(os.Stderr, &level))

	slog.Info("earshot starting",
		"version", version,
		"config", flags.configPath,
		"config_loaded", fromFile,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "earshot", ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	ps, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer ps.Close()

	// ── Outputs ───────────────────────────────────────────────────────────────
	out, err := buildOutputs(ctx, cfg, metrics)
	if err != nil {
		slog.Error("failed to open outputs", "err", err)
		return 1
	}
	defer func() {
		if err := out.fanout.Close(); err != nil {
			slog.Warn("output close", "err", err)
		}
	}()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	matcher := newMatcher(cfg.Wakeword)
	eng := segment.NewEngine(ps.VAD,
		segment.WithSampleRate(cfg.Audio.SampleRate),
		segment.WithSilenceDuration(cfg.Segmentation.SilenceDuration),
		segment.WithPreRollDuration(cfg.Segmentation.PreRollDuration),
		segment.WithMinAmplitude(cfg.Segmentation.MinAmplitude),
		segment.WithMaxUtteranceDuration(cfg.Segmentation.MaxUtteranceDuration),
		segment.WithMetrics(metrics),
	)
	cons := consumer.New(ps.STT, matcher,
		consumer.WithObserver(out.fanout.Observer()),
		consumer.WithMetrics(metrics),
	)
	orch := listener.New(ps.Audio, eng, cons,
		listener.WithMetrics(metrics),
		listener.WithFlushTimeout(cfg.Segmentation.FlushTimeout),
	)

	// ── Hot reload ────────────────────────────────────────────────────────────
	var watcher *config.Watcher
	if fromFile {
		w, err := config.NewWatcher(flags.configPath)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			w.OnChange(func(_, _ *config.Config, d config.ConfigDiff) {
				applyReload(d, &level, matcher)
			})
			watcher = w
		}
	}

	printStartupSummary(os.Stdout, cfg, out)

	if err := orch.Start(ctx); err != nil {
		slog.Error("failed to start capture", "err", err)
		return 1
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	checks := health.New(health.Running("capture", orch.Running))
	if out.postgres != nil {
		checks.Add(health.Ping("postgres", out.postgres))
	}
	srv := newServer(cfg.Server.ListenAddr, tel.MetricsHandler(), checks, out.hub, metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(func() error {
		// A finite source (-i) ends the run once its last utterance is out.
		defer stop()
		for _, res := range orch.Utterances(gctx) {
			logResult(res)
		}
		return orch.Stop()
	})

	slog.Info("listening, press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyReload applies the hot-reloadable parts of a config change.
func applyReload(d config.ConfigDiff, level *slog.LevelVar, matcher *wakeword.Matcher) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.WakewordsChanged {
		words := d.NewWakewords
		if words == nil {
			words = wakeword.DefaultWords
		}
		matcher.SetWords(words)
		slog.Info("wake words changed", "words", matcher.Words())
	}
	if d.FuzzyChanged {
		matcher.SetThresholds(d.NewFuzzyThreshold, d.NewPhoneticThreshold)
		slog.Info("wake word thresholds changed",
			"fuzzy", d.NewFuzzyThreshold,
			"phonetic", d.NewPhoneticThreshold,
		)
	}
}

func newMatcher(cfg config.WakewordConfig) *wakeword.Matcher {
	var opts []wakeword.Option
	if cfg.FuzzyThreshold > 0 {
		opts = append(opts, wakeword.WithFuzzy(cfg.FuzzyThreshold))
	}
	if cfg.PhoneticThreshold > 0 {
		opts = append(opts, wakeword.WithPhonetic(cfg.PhoneticThreshold))
	}
	return wakeword.New(cfg.Words, opts...)
}

func newServer(addr string, metricsHandler http.Handler, checks *health.Handler, hub *sink.Hub, m *observe.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	checks.Register(mux)
	if hub != nil {
		mux.Handle("GET /ws", hub)
	}
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func logResult(res consumer.Result) {
	attrs := []any{
		"id", res.UtteranceID,
		"timestamp", res.Timestamp,
		"duration", fmt.Sprintf("%.2fs", res.Duration),
		"text", res.Text,
	}
	if res.Partial {
		attrs = append(attrs, "partial", true)
	}
	if res.IsWakeWord {
		slog.Info("wake word detected", attrs...)
		return
	}
	slog.Info("utterance", attrs...)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(observe.NewTraceHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, out *outputs) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        earshot startup summary        ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Audio", providerLabel(cfg.Providers.Audio))
	printRow(w, "VAD", providerLabel(cfg.Providers.VAD))
	printRow(w, "STT", providerLabel(cfg.Providers.STT))
	printRow(w, "Fallbacks", fmt.Sprint(len(cfg.STTFallbacks)))
	printRow(w, "Silence", fmt.Sprintf("%.2fs", cfg.Segmentation.SilenceDuration))
	printRow(w, "Pre-roll", fmt.Sprintf("%.2fs", cfg.Segmentation.PreRollDuration))
	printRow(w, "Outputs", fmt.Sprint(out.fanout.Len()))
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(w io.Writer, key, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", key, value)
}
