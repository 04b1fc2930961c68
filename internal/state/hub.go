package state

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// Hub fans serialized state frames out to the connected clients.
type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubOptions struct {
	// SendBuf is the per-client outbound queue size.
	SendBuf int
	// BroadcastBuf is the inbound broadcast queue size.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run to start it.
func NewHub(logger *slog.Logger, opts HubOptions) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	sendBuf := opts.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	broadcastBuf := opts.BroadcastBuf
	if broadcastBuf <= 0 {
		broadcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, broadcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes registrations and broadcasts until ctx is canceled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("state client connected", "client", c.id, "addr", c.addr, "clients", n)

		case c := <-h.unregister:
			h.remove(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.remove(c, "slow client")
			}
		}
	}
}

// Broadcast enqueues msg for every client. It drops the message if the hub is backed up.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("state broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Debug("state client disconnected", "client", c.id, "addr", c.addr, "reason", reason, "clients", n)
	}
}

// Client is one websocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	id    string
	addr  string
	touch func(addr string)

	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, addr string, touch func(string)) *Client {
	if touch == nil {
		touch = func(string) {}
	}
	return &Client{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, hub.sendBuf),
		id:    uuid.NewString(),
		addr:  addr,
		touch: touch,
	}
}

// close ends the connection. Closing send stops the write pump.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

func closeStatus(err error) (int, string, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.hub.logger.Debug("state "+pump+" closed", "client", c.id, "code", code, "reason", text)
		return
	}
	c.hub.logger.Debug("state "+pump+" failed", "client", c.id, "error", err)
}

// writePump drains send into the connection and pings the client. It exits on a write error
// or when send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("write", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("ping", err)
				return
			}
		}
	}
}

// readPump discards incoming messages to process control frames. Every pong keeps the client
// counted as an active user. It unregisters the client once the connection fails.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch(c.addr)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("read", err)
			c.hub.unregister <- c
			return
		}
		c.touch(c.addr)
	}
}
