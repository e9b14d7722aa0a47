package sink_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/earshot/internal/consumer"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/internal/sink"
	"github.com/MrWong99/earshot/pkg/audio"
)

func record(text string, wake bool) sink.Record {
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	return sink.Record{
		Result: consumer.Result{
			UtteranceID: uuid.NewString(),
			CreatedAt:   at,
			Timestamp:   at.Format(consumer.TimestampLayout),
			SampleRate:  16000,
			Channels:    1,
			Duration:    0.1,
			Text:        text,
			IsWakeWord:  wake,
		},
		Samples: make([]float32, 1600),
	}
}

type recordingSink struct {
	name   string
	err    error
	got    []sink.Record
	closed int
}

func (s *recordingSink) Name() string { return s.name }
func (s *recordingSink) Write(_ context.Context, rec sink.Record) error {
	s.got = append(s.got, rec)
	return s.err
}
func (s *recordingSink) Close() error { s.closed++; return nil }

func TestFanout_ContinuesPastFailures(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	bad := &recordingSink{name: "bad", err: errors.New("disk full")}
	good := &recordingSink{name: "good"}
	f := sink.NewFanout(m, bad, nil, good)
	if f.Len() != 2 {
		t.Fatalf("Len = %d, want 2", f.Len())
	}

	err = f.Write(context.Background(), record("hello", false))
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Errorf("Write error = %v, want one naming the failing sink", err)
	}
	if len(good.got) != 1 {
		t.Errorf("good sink got %d records, want 1", len(good.got))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "earshot.sink.errors" {
				continue
			}
			sum := met.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value("sink"); ok && v.AsString() == "bad" && dp.Value == 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("sink error not recorded with sink=bad")
	}

	if err := f.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if bad.closed != 1 || good.closed != 1 {
		t.Errorf("closed = %d/%d, want 1/1", bad.closed, good.closed)
	}
}

func TestFanout_Observer(t *testing.T) {
	t.Parallel()
	rs := &recordingSink{name: "rec"}
	obs := sink.NewFanout(nil, rs).Observer()

	u := &segment.Utterance{ID: uuid.New(), Samples: []float32{0.1, 0.2}, SampleRate: 16000}
	obs(context.Background(), u, consumer.Result{UtteranceID: u.ID.String(), Text: "hi"})

	if len(rs.got) != 1 {
		t.Fatalf("got %d records", len(rs.got))
	}
	if rs.got[0].Text != "hi" || len(rs.got[0].Samples) != 2 {
		t.Errorf("record = %+v", rs.got[0])
	}
}

func TestTextFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "output.txt")
	tf, err := sink.NewTextFile(path, "", "")
	if err != nil {
		t.Fatalf("NewTextFile: %v", err)
	}
	ctx := context.Background()
	if err := tf.Write(ctx, record("アウラ 起きて", true)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tf.Write(ctx, record("two\nlines", false)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tf.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := tf.Write(ctx, record("late", false)); err == nil {
		t.Error("Write after Close should fail")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "[20260506_070809] wake_word: アウラ 起きて\n[20260506_070809] speech: two lines\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}
}

func TestTextFile_AppendsAndCustomPrefixes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.txt")
	if err := os.WriteFile(path, []byte("existing\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tf, err := sink.NewTextFile(path, "WAKE", "SAID")
	if err != nil {
		t.Fatalf("NewTextFile: %v", err)
	}
	_ = tf.Write(context.Background(), record("x", true))
	_ = tf.Close()

	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "existing\n") || !strings.Contains(string(data), "] WAKE: x") {
		t.Errorf("file = %q", data)
	}
}

func TestWAVDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "wavs")
	w, err := sink.NewWAVDir(dir)
	if err != nil {
		t.Fatalf("NewWAVDir: %v", err)
	}
	ctx := context.Background()

	wake := record("aura", true)
	plain := record("hello", false)
	again := record("hello again", false)
	for _, r := range []sink.Record{wake, plain, again} {
		if err := w.Write(ctx, r); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if want := filepath.Join(dir, "utterance_20260506_070809_wake_word.wav"); w.Path(wake) != want {
		t.Errorf("Path = %q, want %q", w.Path(wake), want)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d files, want 3 (same-second collision must not overwrite)", len(entries))
	}

	f, err := os.Open(w.Path(plain))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	samples, rate, err := audio.DecodeWAV(f)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 || len(samples) != 1600 {
		t.Errorf("decoded %d samples at %d Hz", len(samples), rate)
	}
}

func TestWAVDir_SkipsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, _ := sink.NewWAVDir(dir)
	rec := record("", false)
	rec.Samples = nil
	if err := w.Write(context.Background(), rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("empty utterance produced %d files", len(entries))
	}
}
