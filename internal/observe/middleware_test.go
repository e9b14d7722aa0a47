package observe

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// newTestServer mounts a few earshot-like routes behind the middleware.
func newTestServer(t *testing.T) (http.Handler, func() reading) {
	t.Helper()
	m, read := newTestMetrics(t)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /results/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Trace", TraceID(r.Context()))
		_, _ = w.Write([]byte(r.PathValue("id")))
	})
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := http.NewResponseController(w).Hijack()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = conn.Write([]byte("HTTP/1.1 204 No Content\r\n\r\n"))
		_ = conn.Close()
	})
	return Middleware(m)(mux), read
}

func TestMiddleware_Requests(t *testing.T) {
	exp := recordSpans(t)
	h, read := newTestServer(t)

	tests := []struct {
		path       string
		wantStatus int
		wantRoute  string
		wantCode   codes.Code
	}{
		{"/healthz", http.StatusOK, "GET /healthz", codes.Unset},
		{"/readyz", http.StatusServiceUnavailable, "GET /readyz", codes.Error},
		{"/results/a1", http.StatusOK, "GET /results/{id}", codes.Unset},
		{"/results/b2", http.StatusOK, "GET /results/{id}", codes.Unset},
		{"/nope", http.StatusNotFound, "unmatched", codes.Unset},
	}
	for i, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.wantStatus)
		}
		if id := rec.Header().Get(TraceHeader); len(id) != 32 {
			t.Errorf("%s: %s = %q", tt.path, TraceHeader, id)
		}

		span := exp.GetSpans()[i]
		if span.Name != "GET "+tt.path {
			t.Errorf("span name = %q", span.Name)
		}
		if span.Status.Code != tt.wantCode {
			t.Errorf("%s: span status = %v, want %v", tt.path, span.Status.Code, tt.wantCode)
		}
		var status int64
		for _, a := range span.Attributes {
			if a.Key == "http.response.status_code" {
				status = a.Value.AsInt64()
			}
		}
		if status != int64(tt.wantStatus) {
			t.Errorf("%s: span status_code = %d", tt.path, status)
		}
	}

	r := read()
	if got := r.samples("earshot.http.request.duration", attribute.String("route", "GET /results/{id}")); got != 2 {
		t.Errorf("samples for parameterised route = %d, want 2", got)
	}
	if got := r.samples("earshot.http.request.duration", attribute.String("route", "unmatched"), attribute.String("status", "404")); got != 1 {
		t.Errorf("samples for unmatched route = %d, want 1", got)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	recordSpans(t)
	h, _ := newTestServer(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/results/x", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Seen-Trace"); got != traceID {
		t.Errorf("handler saw trace %q, want %q", got, traceID)
	}
	if got := rec.Header().Get(TraceHeader); got != traceID {
		t.Errorf("%s = %q, want %q", TraceHeader, got, traceID)
	}
}

func TestMiddleware_WebsocketHijack(t *testing.T) {
	recordSpans(t)
	h, read := newTestServer(t)
	served := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(served)
		h.ServeHTTP(w, r)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 written over the hijacked conn", resp.StatusCode)
	}

	<-served
	if got := read().samples("earshot.http.request.duration", attribute.String("status", "101")); got != 1 {
		t.Errorf("upgraded request samples = %d, want 1", got)
	}
}

func TestMiddleware_ProbeLogging(t *testing.T) {
	recordSpans(t)
	h, _ := newTestServer(t)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	for _, path := range []string{"/healthz", "/readyz", "/results/7"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	out := buf.String()
	if strings.Contains(out, "path=/healthz") {
		t.Errorf("healthy probe logged at info:\n%s", out)
	}
	for _, want := range []string{"path=/readyz", "status=503", "path=/results/7"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}
