package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vjranagit/tsdiff/pkg/metrics"
)

// Event is one live-update message pushed to websocket clients
type Event struct {
	Type string `json:"type"`
	Run  int    `json:"run,omitempty"`
	Kind string `json:"kind,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Time string `json:"time,omitempty"`
}

// Hub fans live events out to connected websocket clients. Slow clients
// are dropped rather than allowed to stall the broadcast path.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		metrics: m,
		clients: make(map[*client]struct{}),
	}
}

// HandleWS upgrades the connection and streams events until the client
// disconnects
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan Event, 64)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSClients.Inc()
	}
	h.logger.Debug("websocket client connected", "remote", conn.RemoteAddr())

	go h.writeLoop(c)
	h.readLoop(c)
}

// writeLoop drains the client's send channel onto the wire
func (h *Hub) writeLoop(c *client) {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.Close()
}

// readLoop discards inbound frames; its only job is detecting disconnect
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		c.conn.Close()
		if h.metrics != nil {
			h.metrics.WSClients.Dec()
		}
	}
}

// Broadcast queues an event to every client; clients whose buffers are
// full are disconnected.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client", "remote", c.conn.RemoteAddr())
		h.remove(c)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects future connections
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}
