package resilience

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/earshot/internal/observe"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
)

func TestTranscriber_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{Text: "hello aura"}
	secondary := &sttmock.Transcriber{Text: "unused"}

	tr := NewTranscriber("openai", primary)
	tr.Add("whisper", secondary)

	text, err := tr.Transcribe(context.Background(), []float32{0.1, 0.2}, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello aura" {
		t.Errorf("text = %q", text)
	}
	if len(secondary.Calls()) != 0 {
		t.Errorf("secondary called %d times", len(secondary.Calls()))
	}
	calls := primary.Calls()
	if len(calls) != 1 || calls[0].SampleRate != 16000 || len(calls[0].Samples) != 2 {
		t.Errorf("primary calls = %+v", calls)
	}
}

func TestTranscriber_Failover(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{Err: errors.New("503")}
	secondary := &sttmock.Transcriber{Text: "fallback"}

	tr := NewTranscriber("openai", primary, WithBreakerOptions(WithMaxFailures(2)))
	tr.Add("whisper", secondary)

	for i := range 3 {
		text, err := tr.Transcribe(context.Background(), nil, 16000)
		if err != nil || text != "fallback" {
			t.Fatalf("call %d: text=%q err=%v", i, text, err)
		}
	}
	if got := len(primary.Calls()); got != 2 {
		t.Errorf("primary calls = %d, want 2 (open after 2 failures)", got)
	}
	if got := tr.States()["openai"]; got != StateOpen {
		t.Errorf("primary state = %v, want open", got)
	}
	if tr.Len() != 2 {
		t.Errorf("Len = %d", tr.Len())
	}
}

func TestTranscriber_AllFail(t *testing.T) {
	t.Parallel()
	errA := errors.New("a down")
	errB := errors.New("b down")
	tr := NewTranscriber("a", &sttmock.Transcriber{Err: errA})
	tr.Add("b", &sttmock.Transcriber{Err: errB})

	_, err := tr.Transcribe(context.Background(), nil, 16000)
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("err = %v, want ErrAllFailed wrapping both backend errors", err)
	}
}

func TestTranscriber_CancelStopsFailover(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary := &sttmock.Transcriber{Block: make(chan struct{})}
	secondary := &sttmock.Transcriber{Text: "unused"}
	tr := NewTranscriber("a", primary, WithBreakerOptions(WithMaxFailures(1)))
	tr.Add("b", secondary)

	_, err := tr.Transcribe(ctx, nil, 16000)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(secondary.Calls()) != 0 {
		t.Error("secondary tried after cancellation")
	}
	if got := tr.States()["a"]; got != StateClosed {
		t.Errorf("primary state = %v, want closed", got)
	}
}

func TestTranscriber_Metrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}

	tr := NewTranscriber("openai", &sttmock.Transcriber{Err: errors.New("boom")}, WithMetrics(m))
	tr.Add("whisper", &sttmock.Transcriber{Text: "ok"})
	if _, err := tr.Transcribe(context.Background(), nil, 16000); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	requests := map[string]int64{}
	var errorsSeen int64
	for _, sm := range rm.ScopeMetrics {
		for _, mm := range sm.Metrics {
			sum, ok := mm.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch mm.Name {
				case "earshot.provider.requests":
					p, _ := dp.Attributes.Value(attribute.Key("provider"))
					s, _ := dp.Attributes.Value(attribute.Key("status"))
					requests[p.AsString()+"/"+s.AsString()] += dp.Value
				case "earshot.provider.errors":
					errorsSeen += dp.Value
				}
			}
		}
	}
	if requests["openai/error"] != 1 || requests["whisper/ok"] != 1 {
		t.Errorf("requests = %v", requests)
	}
	if errorsSeen != 1 {
		t.Errorf("provider errors = %d, want 1", errorsSeen)
	}
}
