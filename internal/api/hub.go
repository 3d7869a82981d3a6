// Package api provides the status HTTP server and the websocket event hub.
package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType tags outbound websocket messages.
type MessageType string

const (
	MsgTypeDecision  MessageType = "decision"
	MsgTypeExecution MessageType = "execution"
	MsgTypeOutcome   MessageType = "trade_outcome"
	MsgTypeRiskAlert MessageType = "risk_alert"
	MsgTypeHeartbeat MessageType = "heartbeat"
)

// WSMessage is the wire envelope for hub broadcasts.
type WSMessage struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub fans engine events out to connected websocket clients. Slow clients
// are dropped rather than allowed to block the hub.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*client]bool

	broadcast  chan WSMessage
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub builds an event hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("ws-hub"),
		clients:    make(map[*client]bool),
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run processes hub events until Stop is called.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("ws_client_connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Client can't keep up; drop it.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()

		case <-heartbeat.C:
			h.Publish(MsgTypeHeartbeat, nil)
		}
	}
}

// Stop shuts down the hub loop.
func (h *Hub) Stop() { close(h.done) }

// Publish broadcasts an event to all clients. Never blocks the caller.
func (h *Hub) Publish(msgType MessageType, data any) {
	msg := WSMessage{Type: msgType, Data: data, Timestamp: time.Now().UTC()}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws_broadcast_dropped", zap.String("type", string(msgType)))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) serveClient(c *client) {
	go func() {
		defer c.conn.Close()
		for data := range c.send {
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				break
			}
		}
	}()
	go func() {
		defer func() { h.unregister <- c }()
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
