package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// AttemptEvent is a live update for one completed delivery attempt. The
// payload is not included.
type AttemptEvent struct {
	Type           string           `json:"type"` // "attempt_success", "attempt_retrying", "attempt_failed"
	LogID          string           `json:"log_id"`
	SubscriptionID string           `json:"subscription_id"`
	EventType      domain.EventType `json:"event_type"`
	Attempt        int              `json:"attempt"`
	StatusCode     *int             `json:"status_code,omitempty"`
	DurationMs     int64            `json:"duration_ms"`
	Error          string           `json:"error,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`

	tenantID string
}

// NewAttemptEvent builds the live update for a completed log entry.
func NewAttemptEvent(entry domain.DeliveryAttemptLog) AttemptEvent {
	ev := AttemptEvent{
		Type:           "attempt_" + string(entry.Status),
		LogID:          entry.ID,
		SubscriptionID: entry.SubscriptionID,
		EventType:      entry.EventType,
		Attempt:        entry.AttemptNumber,
		StatusCode:     entry.ResponseStatus,
		DurationMs:     entry.DurationMs,
		Timestamp:      time.Now(),
		tenantID:       entry.TenantID,
	}
	if entry.CompletedAt != nil {
		ev.Timestamp = *entry.CompletedAt
	}
	if entry.ErrorMessage != nil {
		ev.Error = *entry.ErrorMessage
	}
	return ev
}

type message struct {
	tenantID string
	data     []byte
}

// Hub manages WebSocket connections and fans attempt events out to the
// clients of the matching tenant.
type Hub struct {
	clients    map[*client]struct{}
	mu         sync.RWMutex
	broadcast  chan message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	logger     *slog.Logger
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	tenantID string
	send     chan []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "tenant_id", c.tenantID, "total_clients", total)

		case c := <-h.unregister:
			h.remove(c)
			h.logger.Debug("websocket client disconnected", "tenant_id", c.tenantID)

		case msg := <-h.broadcast:
			var slow []*client
			h.mu.RLock()
			for c := range h.clients {
				if c.tenantID != msg.tenantID {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()

			for _, c := range slow {
				h.remove(c)
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// NotifyAttempt publishes a completed attempt. It never blocks the caller.
func (h *Hub) NotifyAttempt(entry domain.DeliveryAttemptLog) {
	h.Broadcast(NewAttemptEvent(entry))
}

func (h *Hub) Broadcast(event AttemptEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "error", err)
		return
	}

	select {
	case h.broadcast <- message{tenantID: event.tenantID, data: data}:
	default:
		h.logger.Warn("websocket broadcast channel full, dropping event")
	}
}

// HandleWebSocket upgrades the connection and subscribes it to the tenant
// given by the X-Tenant-ID header or the tenant query parameter.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get("X-Tenant-ID")
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant")
	}
	if tenantID == "" {
		http.Error(w, "tenant is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:      h,
		conn:     conn,
		tenantID: tenantID,
		send:     make(chan []byte, 256),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only watches for pongs and disconnects; clients never send data.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
