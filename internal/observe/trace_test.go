package observe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs an in-memory tracer provider globally for the
// duration of the test. Tests using it must not run in parallel.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestEndSpan_Status(t *testing.T) {
	exp := recordSpans(t)

	tests := []struct {
		name       string
		err        error
		wantCode   codes.Code
		wantEvents bool
		canceled   bool
	}{
		{name: "success", wantCode: codes.Ok},
		{name: "failure", err: errors.New("stt: upstream 503"), wantCode: codes.Error, wantEvents: true},
		{name: "cancelled", err: fmt.Errorf("stt: %w", context.Canceled), wantCode: codes.Unset, canceled: true},
	}
	for _, tt := range tests {
		_, span := StartSpan(context.Background(), tt.name, attribute.String("utterance.id", "u1"))
		EndSpan(span, tt.err)
	}

	spans := exp.GetSpans()
	if len(spans) != len(tests) {
		t.Fatalf("got %d spans, want %d", len(spans), len(tests))
	}
	for i, tt := range tests {
		s := spans[i]
		if s.Name != tt.name {
			t.Errorf("span %d name = %q, want %q", i, s.Name, tt.name)
		}
		if s.Status.Code != tt.wantCode {
			t.Errorf("%s: status = %v, want %v", tt.name, s.Status.Code, tt.wantCode)
		}
		if got := len(s.Events) > 0; got != tt.wantEvents {
			t.Errorf("%s: has error event = %v", tt.name, got)
		}
		var canceled bool
		for _, a := range s.Attributes {
			if a.Key == "canceled" {
				canceled = a.Value.AsBool()
			}
		}
		if canceled != tt.canceled {
			t.Errorf("%s: canceled attribute = %v", tt.name, canceled)
		}
	}
}

func TestTraceID(t *testing.T) {
	recordSpans(t)

	if id := TraceID(context.Background()); id != "" {
		t.Errorf("TraceID without span = %q", id)
	}

	seen := make(map[string]bool)
	for range 20 {
		ctx, span := StartSpan(context.Background(), "utterance")
		id := TraceID(ctx)
		span.End()
		if len(id) != 32 || strings.Trim(id, "0123456789abcdef") != "" {
			t.Fatalf("TraceID = %q, want 32 hex chars", id)
		}
		if seen[id] {
			t.Fatalf("duplicate trace ID %s", id)
		}
		seen[id] = true
	}
}

func TestTraceHandler(t *testing.T) {
	recordSpans(t)

	var buf bytes.Buffer
	log := slog.New(NewTraceHandler(slog.NewTextHandler(&buf, nil))).With("component", "consumer")

	log.InfoContext(context.Background(), "no span")
	ctx, span := StartSpan(context.Background(), "consume")
	log.WithGroup("stt").InfoContext(ctx, "with span", "provider", "groq")
	span.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if strings.Contains(lines[0], "trace_id") {
		t.Errorf("record without span has trace_id: %s", lines[0])
	}
	for _, want := range []string{"component=consumer", "trace_id=" + TraceID(ctx), "span_id=", "stt.provider=groq"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("record with span missing %q: %s", want, lines[1])
		}
	}
}
