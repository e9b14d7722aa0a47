package sink

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/earshot/internal/consumer"
)

const defaultWriteTimeout = 5 * time.Second

// Event is the JSON message broadcast to websocket clients. The result
// fields are flattened into the object next to Type.
type Event struct {
	Type string `json:"type"`
	consumer.Result
}

// Hub broadcasts every record as a JSON [Event] to all connected websocket
// clients. Mount it on GET /ws. Clients are write-only listeners; anything
// they send is discarded.
type Hub struct {
	origins      []string
	writeTimeout time.Duration

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

var (
	_ Sink         = (*Hub)(nil)
	_ http.Handler = (*Hub)(nil)
)

// HubOption is a functional option for configuring a Hub.
type HubOption func(*Hub)

// WithOriginPatterns sets the accepted Origin host patterns. By default only
// same-origin upgrades are accepted.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// WithWriteTimeout bounds each per-client write. Defaults to 5s.
func WithWriteTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// NewHub returns an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		writeTimeout: defaultWriteTimeout,
		conns:        make(map[*websocket.Conn]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Name implements [Named].
func (h *Hub) Name() string { return "websocket" }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("sink: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	slog.Debug("sink: websocket client connected", "remote", r.RemoteAddr)

	// CloseRead discards client messages and cancels ctx once the peer closes.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()

	h.remove(conn)
	slog.Debug("sink: websocket client disconnected", "remote", r.RemoteAddr)
}

// Write broadcasts rec to every client. Clients that cannot keep up are
// dropped; a broadcast never fails.
func (h *Hub) Write(ctx context.Context, rec Record) error {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	if len(conns) == 0 {
		return nil
	}

	evt := Event{Type: "utterance", Result: rec.Result}
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Go(func() {
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			defer cancel()
			if err := wsjson.Write(wctx, c, evt); err != nil {
				slog.Debug("sink: websocket write failed, dropping client", "err", err)
				h.remove(c)
				c.CloseNow()
			}
		})
	}
	wg.Wait()
	return nil
}

// Close disconnects every client. Later upgrades are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*websocket.Conn]struct{})
	h.closed = true
	h.mu.Unlock()

	for c := range conns {
		c.Close(websocket.StatusGoingAway, "shutting down")
	}
	return nil
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}
