package interactive

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/scheduler"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 64
)

// Message is one frame of the live stream.
type Message struct {
	Type    string                  `json:"type"`
	Tick    uint64                  `json:"tick,omitempty"`
	Changed map[string]node.Outputs `json:"changed,omitempty"`
	Failed  []string                `json:"failed,omitempty"`
	Nodes   []scheduler.NodeStatus  `json:"nodes,omitempty"`
}

// Hub fans tick reports out to websocket clients. A client that cannot
// keep up loses frames rather than slowing the evaluator down.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{logger: logger, clients: make(map[*client]struct{})}
}

// Publish is a scheduler OnTick observer. Ticks that changed nothing are
// not streamed.
func (h *Hub) Publish(r scheduler.TickReport) {
	if len(r.Updates) == 0 && len(r.Failed) == 0 {
		return
	}
	h.broadcast(Message{Type: "tick", Tick: r.Tick, Changed: r.Updates, Failed: r.Failed})
}

func (h *Hub) broadcast(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.logger.Warn("Failed to encode stream message.", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("Dropping frame for slow stream client.")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(conn *websocket.Conn) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// serve pumps frames to one client until it disconnects or the hub closes.
func (h *Hub) serve(conn *websocket.Conn, hello Message) {
	defer conn.Close()
	c, ok := h.add(conn)
	if !ok {
		return
	}
	h.logger.Debug("Stream client connected.", "remote", conn.RemoteAddr().String())

	// The reader only watches for the client going away.
	go func() {
		defer h.remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
		if err := conn.WriteJSON(hello); err != nil {
			h.remove(c)
			return
		}
	}
	for data := range c.send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(c)
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
