package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/redmetrics/redmetrics-go/agent/internal/api"
	"github.com/redmetrics/redmetrics-go/pkg/redmetrics"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long the read side waits for a pong (or any frame)
	// before it treats the client as gone and closes the connection.
	pongWait = 60 * time.Second

	// pingPeriod controls how often writePump sends ping frames. It must be
	// less than pongWait so a healthy client always answers in time.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 32
)

// Event names carried in Message.Event.
const (
	EventStatus = "status"
	EventFlush  = "flush"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The stream is served on the agent's local listener.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub fans status and flush messages out to WebSocket clients. A status
// message goes out every interval while at least one client is connected;
// flush messages go out as Publish is called. Each client has a bounded send
// buffer and is dropped when the buffer fills up.
type Hub struct {
	src      api.StatusSource
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client is one connected WebSocket peer. Only writePump writes to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that reads status from src and broadcasts it every interval.
func New(src api.StatusSource, interval time.Duration) *Hub {
	return &Hub{
		src:      src,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run broadcasts the status every interval until ctx is cancelled, then
// closes all clients. Ticks with no clients connected are skipped so the
// status is not encoded for nobody. Run blocks.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if h.Count() == 0 {
				continue
			}
			if data, err := h.statusMessage(); err == nil {
				h.broadcast(data)
			}
		}
	}
}

// Publish broadcasts one flush outcome. It is meant to be registered as a
// flush hook, so it runs on the Connection's flush goroutine and never blocks
// on slow clients.
func (h *Hub) Publish(r redmetrics.FlushReport) {
	data, err := json.Marshal(Message{Event: EventFlush, Data: api.ToFlushResponse(r)})
	if err != nil {
		slog.Warn("ws: encode flush message", "err", err)
		return
	}
	h.broadcast(data)
}

// ServeHTTP upgrades the connection and serves the client. The current status
// is queued immediately so a new client has data before the next tick.
// Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(c)
	defer h.unregister(c)

	if data, err := h.statusMessage(); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go c.writePump()
	c.readPump() // blocks until the connection closes
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, data)
	}
}

// deliver queues data for c without blocking. A client whose buffer is full
// has stopped draining (a stalled reader or a dead TCP peer) and is dropped:
// unregister closes its send channel, writePump sends a close frame and the
// connection is torn down. The send happens under the read lock so unregister
// cannot close the channel mid-send.
func (h *Hub) deliver(c *client, data []byte) {
	h.mu.RLock()
	if _, ok := h.clients[c]; !ok {
		h.mu.RUnlock()
		return
	}
	select {
	case c.send <- data:
		h.mu.RUnlock()
		return
	default:
	}
	h.mu.RUnlock()
	slog.Debug("ws: client too slow, dropping")
	h.unregister(c)
}

func (h *Hub) statusMessage() ([]byte, error) {
	return json.Marshal(Message{
		Event: EventStatus,
		Data:  api.BuildStatus(h.src.Status()),
	})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel onto the connection and sends a
// ping every pingPeriod. It runs in its own goroutine per client and is the
// only writer on conn. A closed send channel means the hub removed the client;
// writePump then sends a close frame and returns.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames so gorilla/websocket can process control messages
// (pong, close) and so a disconnect is noticed. Every pong pushes the read
// deadline out by pongWait; a client that stops answering pings hits the
// deadline and ReadMessage fails. Incoming data frames are discarded. Blocks
// until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
