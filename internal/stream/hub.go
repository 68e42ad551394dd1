// Package stream broadcasts engine events to WebSocket clients. It is a
// read-only firehose; clients never send commands over it.
package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"presale-engine/internal/events"
	"presale-engine/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	clientBuffer   = 32
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is public and carries no per-wallet secrets.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wireEvent is the JSON shape sent to clients.
type wireEvent struct {
	Kind          string    `json:"kind"`
	WalletAddress string    `json:"wallet_address"`
	RoundID       string    `json:"round_id,omitempty"`
	PurchaseID    string    `json:"purchase_id,omitempty"`
	USDMicro      int64     `json:"usd_micro"`
	Tokens        int64     `json:"tokens"`
	Timestamp     time.Time `json:"timestamp"`
}

// Hub fans engine events out to connected WebSocket clients.
type Hub struct {
	logger *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Run consumes bus events until the channel closes or the hub shuts
// down. Call in its own goroutine.
func (h *Hub) Run(ch <-chan events.Event) {
	for ev := range ch {
		msg, err := json.Marshal(wireEvent{
			Kind:          ev.Kind,
			WalletAddress: ev.WalletAddress,
			RoundID:       ev.RoundID,
			PurchaseID:    ev.PurchaseID,
			USDMicro:      int64(ev.USDAmount),
			Tokens:        int64(ev.Tokens),
			Timestamp:     ev.Timestamp,
		})
		if err != nil {
			h.logger.Printf("[stream] marshal event: %v", err)
			continue
		}
		h.broadcast(msg)
	}
	h.Close()
}

// broadcast queues the message on every client, dropping slow ones.
func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
			observability.RecordStreamEventDropped()
		}
	}
	observability.UpdateStreamClients(len(h.clients))
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
	}
	h.clients = nil
	observability.UpdateStreamClients(0)
}

// ServeHTTP upgrades the connection and attaches it to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[stream] upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	observability.UpdateStreamClients(len(h.clients))
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// writePump flushes queued messages and pings until the client drops.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs are processed, and detaches
// the client on error.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// detach removes the client if still attached.
func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		observability.UpdateStreamClients(len(h.clients))
	}
}
