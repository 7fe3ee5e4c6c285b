package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/zita-photo/zita/server/internal/album"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// EventProgress is the event name of progress messages.
	EventProgress = "progress"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; restrict at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string      `json:"event"`
	Data  album.Stats `json:"data"`
}

// Progress reads the current stats of one album.
type Progress interface {
	Get(ctx context.Context, albumID, userID string) (album.Stats, error)
}

// Hub fans album progress out to WebSocket clients. Each client watches one
// album, chosen with the ?album= query parameter.
type Hub struct {
	progress Progress
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	album string
	conn  *websocket.Conn
	send  chan []byte
}

// New creates a Hub that reads from p and pushes every interval.
func New(p Progress, interval time.Duration) *Hub {
	return &Hub{
		progress: p,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run pushes progress to every client each interval. It blocks until ctx is
// cancelled, then closes all connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			for _, id := range h.albums() {
				h.Notify(ctx, id)
			}
		}
	}
}

// Notify pushes the current progress of albumID to its watchers right away.
// The API calls it after every tag write.
func (h *Hub) Notify(ctx context.Context, albumID string) {
	h.mu.RLock()
	watched := false
	for c := range h.clients {
		if c.album == albumID {
			watched = true
			break
		}
	}
	h.mu.RUnlock()
	if !watched {
		return
	}

	data, err := h.buildMessage(ctx, albumID)
	if err != nil {
		slog.Warn("ws: progress unavailable", "album", albumID, "err", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.album != albumID {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	// A full buffer means the client stopped reading; drop it.
	for _, c := range slow {
		h.unregister(c)
	}
}

// ServeHTTP upgrades the connection, sends the album's progress immediately
// and keeps the client subscribed until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	albumID := r.URL.Query().Get("album")
	if albumID == "" {
		http.Error(w, "missing album parameter", http.StatusBadRequest)
		return
	}
	first, err := h.buildMessage(r.Context(), albumID)
	if err != nil {
		http.Error(w, "album not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		album: albumID,
		conn:  conn,
		send:  make(chan []byte, sendBufSize),
	}
	c.send <- first
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
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

// albums returns the distinct albums watched right now.
func (h *Hub) albums() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for c := range h.clients {
		if _, ok := seen[c.album]; !ok {
			seen[c.album] = struct{}{}
			out = append(out, c.album)
		}
	}
	return out
}

func (h *Hub) buildMessage(ctx context.Context, albumID string) ([]byte, error) {
	stats, err := h.progress.Get(ctx, albumID, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: EventProgress, Data: stats})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames.
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

// readPump discards client frames, handling pong and close, and returns when
// the connection drops.
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
