// Package gateway exposes race sessions over websockets, a JSON state API and a connect RPC.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/typeracer/go/internal/race/events"
	"github.com/rs/zerolog/log"
)

// EventHandler consumes parsed client events. The hub implements it.
type EventHandler interface {
	HandleEvent(ctx context.Context, connID string, payload any)
}

// ConnectionManager tracks websocket connections and the sessions they belong to
type ConnectionManager struct {
	// Connection pools organized by session ID
	sessionConnections map[uuid.UUID]map[*Connection]bool
	connections        map[string]*Connection
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	// cancelled on Close; parent of every per-message context
	ctx    context.Context
	cancel context.CancelFunc
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager
	handler EventHandler

	ConnectedAt time.Time
	sessions    map[uuid.UUID]bool // guarded by Manager.mu
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// ConnectionStats summarizes the active connections
type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		sessionConnections: make(map[uuid.UUID]map[*Connection]bool),
		connections:        make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// UpgradeConnection upgrades an HTTP connection and feeds its messages to handler
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, handler EventHandler) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.NewString(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		handler:     handler,
		ConnectedAt: time.Now(),
		sessions:    make(map[uuid.UUID]bool),
	}
	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")
	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn.ID] = conn
}

// unregisterConnection removes a connection from every session and closes its send queue
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn.ID]; !exists {
		return
	}
	delete(cm.connections, conn.ID)
	for sessionID := range conn.sessions {
		if pool, ok := cm.sessionConnections[sessionID]; ok {
			delete(pool, conn)
			if len(pool) == 0 {
				delete(cm.sessionConnections, sessionID)
			}
		}
	}
	close(conn.Send)

	log.Info().
		Str("connection_id", conn.ID).
		Int("sessions", len(conn.sessions)).
		Msg("connection unregistered")
}

// Join adds the connection to a session's broadcast group
func (cm *ConnectionManager) Join(sessionID uuid.UUID, connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.connections[connID]
	if !ok {
		log.Debug().Str("connection_id", connID).Msg("join for unknown connection")
		return
	}
	if cm.sessionConnections[sessionID] == nil {
		cm.sessionConnections[sessionID] = make(map[*Connection]bool)
	}
	cm.sessionConnections[sessionID][conn] = true
	conn.sessions[sessionID] = true

	log.Debug().
		Str("connection_id", connID).
		Str("session_id", sessionID.String()).
		Int("total_connections", len(cm.sessionConnections[sessionID])).
		Msg("connection joined session")
}

// Broadcast queues msg on every member of the session. Members whose queue is full are closed.
func (cm *ConnectionManager) Broadcast(sessionID uuid.UUID, msg *events.Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	cm.mu.RLock()
	pool := cm.sessionConnections[sessionID]
	for conn := range pool {
		select {
		case conn.Send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	delivered := len(pool) - len(slow)
	cm.mu.RUnlock()

	cm.dropSlow(slow)

	log.Debug().
		Str("type", string(msg.Type)).
		Str("session_id", sessionID.String()).
		Int("connections", delivered).
		Msg("event broadcasted")
}

// SendTo queues msg on a single connection
func (cm *ConnectionManager) SendTo(connID string, msg *events.Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to marshal direct message")
		return
	}

	var slow []*Connection
	cm.mu.RLock()
	if conn, ok := cm.connections[connID]; ok {
		select {
		case conn.Send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	cm.dropSlow(slow)
}

func (cm *ConnectionManager) dropSlow(conns []*Connection) {
	for _, conn := range conns {
		log.Warn().Str("connection_id", conn.ID).Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections:   len(cm.connections),
		ActiveSessions:     len(cm.sessionConnections),
		SessionConnections: make(map[string]int, len(cm.sessionConnections)),
	}
	for sessionID, pool := range cm.sessionConnections {
		stats.SessionConnections[sessionID.String()] = len(pool)
	}
	return stats
}

// Close cancels in-flight handlers and closes every connection
func (cm *ConnectionManager) Close() {
	cm.cancel()

	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
	log.Info().Int("connections", len(conns)).Msg("connection manager closed")
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump feeds client messages to the handler one at a time, in arrival order
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	payload, err := events.Parse(message)
	if err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("ignoring client message")
		return
	}
	c.handler.HandleEvent(c.Manager.ctx, c.ID, payload)
}
