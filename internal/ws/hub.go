package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reportkit/reportkit/internal/api"
	"github.com/reportkit/reportkit/internal/job"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the connection
	// as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

// Event names.
const (
	EventSnapshot = "snapshot"
	EventRun      = "run"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope of every frame sent to clients.
// Data is an api.SnapshotResponse for "snapshot" and a job.Run for "run".
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SnapshotFunc builds the current view of all jobs.
type SnapshotFunc func() api.SnapshotResponse

// Hub manages WebSocket clients. It broadcasts a full snapshot every
// interval and pushes each finished run as it is observed.
type Hub struct {
	snapshot SnapshotFunc
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that broadcasts snapshot() every interval.
func New(snapshot SnapshotFunc, interval time.Duration) *Hub {
	return &Hub{
		snapshot: snapshot,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run broadcasts snapshots until ctx is cancelled, then closes all active
// connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.broadcastSnapshot()
		}
	}
}

// Observe implements job.Observer: every finished run is pushed to all
// clients as a "run" event.
func (h *Hub) Observe(run job.Run) {
	data, err := json.Marshal(Message{Event: EventRun, Data: run})
	if err != nil {
		slog.Warn("ws: marshal run", "job", run.JobID, "err", err)
		return
	}
	h.broadcast(data)
}

// ServeHTTP upgrades the connection and serves the client until it
// disconnects. The current snapshot is sent immediately on connect.
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

	if data, err := h.snapshotMessage(); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go c.writePump()
	c.readPump()
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
	slog.Debug("ws: client connected", "remote", c.conn.RemoteAddr().String())
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcastSnapshot() {
	data, err := h.snapshotMessage()
	if err != nil {
		slog.Warn("ws: marshal snapshot", "err", err)
		return
	}
	h.broadcast(data)
}

// broadcast queues data on every client. Clients whose buffer is full are
// disconnected. Sends happen under the read lock so unregister cannot close
// a channel mid-send.
func (h *Hub) broadcast(data []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Debug("ws: dropping slow client", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

func (h *Hub) snapshotMessage() ([]byte, error) {
	return json.Marshal(Message{Event: EventSnapshot, Data: h.snapshot()})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump forwards queued messages to the connection and sends periodic
// pings. One goroutine per client.
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

// readPump processes control frames and detects disconnects. Blocks until
// the connection closes.
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
