package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/scan"
)

// Event types pushed to websocket clients
const (
	EventRunStart = "run_start"
	EventResult   = "result"
	EventRunEnd   = "run_end"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

// Event is one message on the live feed
type Event struct {
	Type      string               `json:"type"`
	SessionID string               `json:"session_id"`
	Result    *models.ScoredResult `json:"result,omitempty"`
	State     scan.State           `json:"state,omitempty"`
	Summary   *aggregator.Summary  `json:"summary,omitempty"`
	Error     string               `json:"error,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans scan events out to connected websocket clients. A client that
// cannot keep up is disconnected rather than blocking the scan.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     sameOrigin,
	}
	return h
}

// sameOrigin accepts requests without an Origin header and those whose origin
// host matches the request host
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(hostOnly(u.Host), hostOnly(r.Host))
}

func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

// ServeWS upgrades the request and registers the connection
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan Event, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// Broadcast queues an event for every client
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("dropping slow websocket client")
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// readPump discards client messages and keeps the pong deadline fresh
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
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
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
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

// Observer returns a run observer that publishes one run's events
func (h *Hub) Observer() scan.RunObserver {
	return &hubObserver{hub: h}
}

type hubObserver struct {
	hub       *Hub
	sessionID string
}

func (o *hubObserver) OnRunStart(sessionID string) {
	o.sessionID = sessionID
	o.hub.Broadcast(Event{Type: EventRunStart, SessionID: sessionID})
}

func (o *hubObserver) OnResult(r models.ScoredResult) {
	o.hub.Broadcast(Event{Type: EventResult, SessionID: o.sessionID, Result: &r})
}

func (o *hubObserver) OnRunEnd(report *scan.Report) {
	ev := Event{Type: EventRunEnd, SessionID: o.sessionID}
	if report != nil {
		ev.SessionID = report.SessionID
		ev.State = report.State
		ev.Error = report.Error
		summary := report.Summary
		ev.Summary = &summary
	}
	o.hub.Broadcast(ev)
}
