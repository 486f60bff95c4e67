// Package broadcast pushes session events to browser overlays over
// WebSocket.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verte-zerg/slpwatch/internal/session"
)

const (
	sendBuffer = 32
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Envelope is the JSON frame sent for every event.
type Envelope struct {
	Type    string        `json:"type"`
	Session string        `json:"session,omitempty"`
	Data    session.Event `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans session events out to connected WebSocket clients. New clients
// first receive a snapshot of the current state.
type Hub struct {
	upgrader websocket.Upgrader

	mu        sync.Mutex
	clients   map[*client]struct{}
	sessionID string
	status    *session.StatusEvent
	init      *session.InitEvent
	opponents *session.OpponentsEvent
	start     *session.MatchStartEvent
	end       *session.MatchEndEvent
}

// NewHub returns an empty hub. Browser sources run from local files, so any
// origin is accepted.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

// Handler serves /ws and /healthz.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/healthz", h.serveHealth)
	return mux
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify records ev and sends it to every client.
func (h *Hub) Notify(ev session.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(ev)
	frame, err := json.Marshal(Envelope{Type: ev.Kind(), Session: h.sessionID, Data: ev})
	if reset, ok := ev.(session.ResetEvent); ok && reset.ToSettings {
		h.sessionID = ""
	}
	if err != nil {
		slog.Warn("failed to encode event", "type", ev.Kind(), "error", err)
		return
	}
	for c := range h.clients {
		h.enqueue(c, frame)
	}
}

func (h *Hub) record(ev session.Event) {
	switch e := ev.(type) {
	case session.StatusEvent:
		h.status = &e
	case session.InitEvent:
		h.sessionID = e.Context.SessionID
		h.init = &e
		h.opponents = nil
	case session.OpponentsEvent:
		h.opponents = &e
	case session.MatchStartEvent:
		h.start = &e
		h.end = nil
	case session.MatchEndEvent:
		h.end = &e
	case session.ResetEvent:
		h.start = nil
		h.end = nil
		if e.ToSettings {
			h.init = nil
			h.opponents = nil
		}
	}
}

// snapshot returns the events a new client needs, oldest first.
func (h *Hub) snapshot() []session.Event {
	var out []session.Event
	if h.status != nil {
		out = append(out, *h.status)
	}
	if h.init != nil {
		out = append(out, *h.init)
	}
	if h.opponents != nil {
		out = append(out, *h.opponents)
	}
	if h.start != nil {
		out = append(out, *h.start)
	}
	if h.end != nil {
		out = append(out, *h.end)
	}
	return out
}

// enqueue drops clients that fall too far behind.
func (h *Hub) enqueue(c *client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		slog.Warn("dropping slow overlay client", "remote", c.conn.RemoteAddr().String())
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	for _, ev := range h.snapshot() {
		frame, err := json.Marshal(Envelope{Type: ev.Kind(), Session: h.sessionID, Data: ev})
		if err != nil {
			continue
		}
		h.enqueue(c, frame)
	}
	h.mu.Unlock()
	slog.Info("overlay client connected", "remote", conn.RemoteAddr().String())

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages and notices when the client goes away.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		if err := c.conn.Close(); err != nil {
			// Best-effort close.
			_ = err
		}
		slog.Info("overlay client disconnected", "remote", c.conn.RemoteAddr().String())
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			// Best-effort close.
			_ = err
		}
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) serveHealth(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	body := struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
		Console string `json:"console,omitempty"`
		Session string `json:"session,omitempty"`
	}{Status: "ok", Clients: len(h.clients), Session: h.sessionID}
	if h.status != nil {
		body.Console = h.status.State.String()
	}
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("failed to write health response", "error", err)
	}
}
