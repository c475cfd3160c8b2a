// Package notify surfaces user-visible messages from the sync core over a
// websocket hub, with a log fallback when no client is connected.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/khuang/chronosync/internal/logging"
)

// Event types pushed to clients.
const (
	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
	EventSyncCooldown  = "sync.cooldown"
	EventRemoteTimer   = "timer.remote_started"
	EventPollFailed    = "timer.poll_failed"
)

// Notifier publishes user-visible events.
type Notifier interface {
	Publish(eventType, message string, data map[string]any)
}

// Nop is a Notifier that discards everything. Used in tests.
type Nop struct{}

// Publish implements Notifier.
func (Nop) Publish(string, string, map[string]any) {}

// envelope wraps every websocket message.
type envelope struct {
	Type      string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local service, local clients only.
		return true
	},
}

// Hub maintains websocket clients and broadcasts published events.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*client]bool
	broadcast chan []byte
	done      chan struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub and starts its broadcast loop.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[*client]bool),
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return
		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow client; drop it.
					go h.remove(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Close stops the broadcast loop and disconnects all clients.
func (h *Hub) Close() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
	}
	h.clients = make(map[*client]bool)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	logging.Debug("notify client connected", map[string]any{"total": total})
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close()
	}
	h.mu.Unlock()
}

// Publish implements Notifier. Events are also logged so headless runs
// keep a record.
func (h *Hub) Publish(eventType, message string, data map[string]any) {
	logging.Info(message, map[string]any{"event": eventType})

	payload, err := json.Marshal(envelope{
		Type:      eventType,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		// Broadcast buffer full; the event is already logged.
	}
}

// ServeWS upgrades an HTTP request to a websocket client connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 32)}
	h.add(c)

	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound messages; the hub is push-only. It exists to
// observe the close handshake.
func (c *client) readPump(h *Hub) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
