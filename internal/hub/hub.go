// Package hub fans task events out to websocket subscribers grouped by user.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Connection represents a single WebSocket subscriber.
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
	mu     sync.Mutex
}

// Hub manages all WebSocket subscribers.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// users maps user_id to set of connection IDs
	users map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *UserMessage

	done     chan struct{}
	doneOnce sync.Once

	logger zerolog.Logger
	mu     sync.RWMutex
}

// ErrClosed is returned by Register once the hub has stopped.
var ErrClosed = errors.New("hub closed")

// UserMessage is used to broadcast a message to one user's connections.
type UserMessage struct {
	UserID string
	Data   []byte
}

// New creates a new Hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		users:       make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *UserMessage, 256),
		done:        make(chan struct{}),
		logger:      logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.doneOnce.Do(func() { close(h.done) })
			h.mu.Lock()
			for id, conn := range h.connections {
				close(conn.Send)
				delete(h.connections, id)
			}
			h.users = make(map[string]map[string]bool)
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.users[conn.UserID] == nil {
				h.users[conn.UserID] = make(map[string]bool)
			}
			h.users[conn.UserID][conn.ID] = true
			h.mu.Unlock()
			h.logger.Debug().Str("conn_id", conn.ID).Str("user_id", conn.UserID).Msg("subscriber registered")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if set := h.users[conn.UserID]; set != nil {
					delete(set, conn.ID)
					if len(set) == 0 {
						delete(h.users, conn.UserID)
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()
			h.logger.Debug().Str("conn_id", conn.ID).Msg("subscriber unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.users[msg.UserID] {
				conn, exists := h.connections[connID]
				if !exists {
					continue
				}
				select {
				case conn.Send <- msg.Data:
				default:
					h.logger.Warn().Str("conn_id", connID).Msg("subscriber buffer full, closing")
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a connection for userID. It is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn, userID string) *Connection {
	return &Connection{
		ID:     uuid.New().String(),
		UserID: userID,
		Conn:   ws,
		Send:   make(chan []byte, 256),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) error {
	select {
	case h.register <- conn:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

// Unregister unregisters a connection from the hub. It is a no-op once the
// hub has stopped.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Publish queues v for every connection of userID. It never blocks; when the
// broadcast queue is full the message is dropped.
func (h *Hub) Publish(userID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- &UserMessage{UserID: userID, Data: data}:
	default:
		h.logger.Warn().Str("user_id", userID).Msg("broadcast queue full, dropping event")
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HasSubscribers reports whether userID has any active connection.
func (h *Hub) HasSubscribers(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
