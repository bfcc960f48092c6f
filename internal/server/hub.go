package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/homework-scanner/internal/scan"
	"github.com/joseph-ayodele/homework-scanner/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxClientBytes = 4096
	clientBuffer   = 256
)

// ServerMessage is the envelope pushed to websocket clients. Type is a store
// event type ("solution.delta", "item.updated", ...), "notification" or "connected".
type ServerMessage struct {
	Type      string `json:"type"`
	Content   any    `json:"content,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan ServerMessage
	hub  *Hub
}

// Hub fans store events and run notifications out to websocket clients. A
// client whose buffer fills up is disconnected rather than slowing the hub.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan ServerMessage

	mu      sync.RWMutex
	clients map[string]*client
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ scan.Notifier = (*Hub)(nil)

func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:     logger,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan ServerMessage, 1024),
		clients:    make(map[string]*client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin) {
				return true
			}
			logger.Warn("ws.origin_rejected", "origin", origin)
			return false
		},
	}
	return h
}

// Run serves the hub until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.logger.Info("ws.hub.stopped")
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws.client.connected", "client_id", c.id, "clients", n)
		case c := <-h.unregister:
			h.drop(c, "disconnected")
		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*client
			for _, c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.drop(c, "slow consumer")
			}
		}
	}
}

func (h *Hub) drop(c *client, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.logger.Debug("ws.client.dropped", "client_id", c.id, "reason", reason)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues a message for every client. It drops the message when the
// hub is stopped or its queue is full.
func (h *Hub) Publish(msgType string, content any) {
	msg := ServerMessage{Type: msgType, Content: content, Timestamp: time.Now().UnixMilli()}
	select {
	case <-h.done:
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws.hub.queue_full", "type", msgType)
	}
}

func (h *Hub) Notify(n scan.Notification) {
	h.Publish("notification", n)
}

// Forward publishes store events until the channel closes or ctx is done.
func (h *Hub) Forward(ctx context.Context, events <-chan store.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Publish(string(ev.Type), ev)
		}
	}
}

// Wait blocks until Run returned and every client connection is closed.
func (h *Hub) Wait() {
	<-h.done
	h.wg.Wait()
}

// ServeWS upgrades the connection and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws.upgrade_failed", "error", err)
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan ServerMessage, clientBuffer), hub: h}
	c.send <- ServerMessage{Type: "connected", Content: map[string]string{"client_id": c.id}, Timestamp: time.Now().UnixMilli()}

	h.wg.Add(2)
	select {
	case h.register <- c:
	case <-h.done:
		h.wg.Add(-2)
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump only handles control frames; clients do not send commands over the socket.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
		c.hub.wg.Done()
	}()
	c.conn.SetReadLimit(maxClientBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.logger.Debug("ws.read_failed", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.hub.wg.Done()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				c.hub.logger.Warn("ws.encode_failed", "type", msg.Type, "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
