// Package ws serves the live event feed of the scheduler process over
// WebSocket. Hub satisfies broadcast.Broadcaster.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second

	// EventHello is sent once to every new connection.
	EventHello = "hello"
)

// Message is the envelope for all feed messages. Seq increases by one per
// broadcast across the hub, so a client that filters sees gaps but can still
// order what it receives.
type Message struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// Hello tells a client what it subscribed to.
type Hello struct {
	Events []string `json:"events"` // empty means all
	Seq    uint64   `json:"seq"`    // last sequence number sent before joining
}

type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	topics []string
}

// wants reports whether the client subscribed to eventType. Topics match the
// part before the first dot, so "run" covers run.started and run.finished.
func (c *conn) wants(eventType string) bool {
	if len(c.topics) == 0 {
		return true
	}
	family, _, _ := strings.Cut(eventType, ".")
	for _, t := range c.topics {
		if t == family || t == eventType {
			return true
		}
	}
	return false
}

// Hub tracks live connections.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
	seq   atomic.Uint64
	now   func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*conn]struct{}), now: time.Now}
}

// HandleWS upgrades the request and serves the feed until the client leaves.
// The optional events query parameter is a comma separated list of event
// families or exact types, e.g. ?events=run,buzz.detected.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // ops API is bound to a trusted network
	})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel, topics: parseTopics(r.URL.Query().Get("events"))}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	slog.Info("websocket connected", "remote", r.RemoteAddr, "events", c.topics, "connections", n)

	defer func() {
		h.remove(c)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	hello, _ := json.Marshal(Hello{Events: c.topics, Seq: h.seq.Load()})
	if err := h.write(ctx, c, Message{Type: EventHello, Time: h.now(), Payload: hello}); err != nil {
		return
	}

	go h.keepAlive(ctx, c)

	// The feed is one-way; reading detects disconnects and services pongs.
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}

func (h *Hub) keepAlive(ctx context.Context, c *conn) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				slog.Debug("websocket ping failed", "error", err)
				h.remove(c)
				return
			}
		}
	}
}

// BroadcastEvent sends payload as eventType to every subscribed client.
// Clients that fail a write are dropped.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal ws event payload", "type", eventType, "error", err)
		return
	}
	msg := Message{Seq: h.seq.Add(1), Type: eventType, Time: h.now(), Payload: data}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if c.wants(eventType) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := h.write(ctx, c, msg); err != nil {
			slog.Debug("websocket write failed", "type", eventType, "error", err)
			h.remove(c)
		}
	}
}

func (h *Hub) write(ctx context.Context, c *conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageText, data)
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()

	if ok {
		c.cancel()
		slog.Info("websocket disconnected", "connections", n)
	}
}

func parseTopics(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
