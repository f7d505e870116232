package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sentinelpulse/sentinelpulse/pkg/broadcast"
)

const (
	// writeTimeout bounds a single write when the caller sets no deadline.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub connects WebSocket clients to a Broadcaster.
type Hub struct {
	bc     *broadcast.Broadcaster
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New creates a Hub delivering snapshots published on bc.
func New(bc *broadcast.Broadcaster, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		bc:      bc,
		logger:  logger.With("component", "ws"),
		clients: make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes every open connection.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the connection and serves the client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		done: make(chan struct{}),
	}
	if err := h.bc.Register(c); err != nil {
		h.logger.Warn("register failed", "err", err)
		c.close()
		return
	}
	h.add(c)
	h.logger.Info("client connected", "client", c.id, "remote", r.RemoteAddr)

	defer func() {
		h.bc.Unregister(c.id)
		h.remove(c)
		c.close()
		h.logger.Info("client disconnected", "client", c.id)
	}()

	go c.pingLoop()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.bc.Unregister(c.id)
		deadline := time.Now().Add(time.Second)
		c.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
		c.close()
	}
}

// client is one connected WebSocket peer. It implements broadcast.Subscriber.
type client struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func (c *client) ID() string { return c.id }

// Send writes payload as one text frame. The write deadline is taken from
// ctx when it has one.
func (c *client) Send(ctx context.Context, payload []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// pingLoop sends periodic ping frames until the client is closed.
func (c *client) pingLoop() {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.close()
				return
			}
		}
	}
}

// readPump reads frames to process control messages (pong, close) and
// detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
