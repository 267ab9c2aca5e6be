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
	"github.com/rs/zerolog/log"

	"github.com/crazyrace/crazyrace/go/internal/countdown"
	"github.com/crazyrace/crazyrace/go/internal/models"
)

// ConnectionManager manages WebSocket connections per room code.
type ConnectionManager struct {
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader

	config ConnectionConfig
	rules  models.GameRules

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client. ParticipantID is
// empty for spectators watching a room they have not joined.
type Connection struct {
	ID            string
	ParticipantID string
	RoomCode      string
	Conn          *websocket.Conn
	Send          chan []byte
	Manager       *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to a room's connections.
type BroadcastMessage struct {
	RoomCode      string
	Event         *RaceEvent
	ParticipantID string // Optional: if set, only send to this participant
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig, rules models.GameRules) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		rules:       rules,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and registers it
// under the room code.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, participantID, roomCode string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		RoomCode:      roomCode,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		Manager:       cm,
		ConnectedAt:   time.Now(),
		LastPing:      time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("participant_id", participantID).
		Str("room_code", roomCode).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.RoomCode] == nil {
		cm.roomConnections[conn.RoomCode] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomCode][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_code", conn.RoomCode).
		Int("total_connections", len(cm.roomConnections[conn.RoomCode])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.roomConnections[conn.RoomCode]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)

			if len(connections) == 0 {
				delete(cm.roomConnections, conn.RoomCode)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("participant_id", conn.ParticipantID).
				Str("room_code", conn.RoomCode).
				Msg("connection unregistered")
		}
	}
}

// BroadcastToRoom sends an event to all connections watching a room.
func (cm *ConnectionManager) BroadcastToRoom(roomCode string, event *RaceEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomCode: roomCode, Event: event}:
	default:
		log.Warn().Str("room_code", roomCode).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToParticipant sends an event to a single participant's connections.
func (cm *ConnectionManager) BroadcastToParticipant(roomCode, participantID string, event *RaceEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomCode: roomCode, Event: event, ParticipantID: participantID}:
	default:
		log.Warn().
			Str("room_code", roomCode).
			Str("participant_id", participantID).
			Msg("broadcast channel full, dropping participant message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.RoomCode]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot the targets so the lock is not held during sends.
	var targetConnections []*Connection
	for conn := range connections {
		if message.ParticipantID != "" && conn.ParticipantID != message.ParticipantID {
			continue
		}
		targetConnections = append(targetConnections, conn)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targetConnections {
		select {
		case conn.Send <- eventData:
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("participant_id", conn.ParticipantID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", message.Event.Type).
		Str("room_code", message.RoomCode).
		Int("connections", len(targetConnections)).
		Msg("event broadcasted")
}

// GetConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) GetConnectionStats() (total int, rooms int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, connections := range cm.roomConnections {
		total += len(connections)
	}
	return total, len(cm.roomConnections)
}

// writePump handles sending messages to the WebSocket connection.
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
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
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

// clientMessage is the envelope for frames a client sends. The protocol is
// server-push except for time_sync, the one request/response exchange.
type clientMessage struct {
	Type               string `json:"type"`
	CountdownStartedAt string `json:"countdown_started_at,omitempty"`
}

// timeSyncReply carries the authoritative countdown remaining back to one
// client, so a skewed local clock cannot drift the displayed timer.
type timeSyncReply struct {
	Type               string    `json:"type"`
	CountdownRemaining int       `json:"countdown_remaining"`
	ServerTime         time.Time `json:"server_time"`
}

// handleClientMessage processes messages received from the client.
func (c *Connection) handleClientMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("discarding malformed client frame")
		return
	}

	switch msg.Type {
	case "time_sync":
		c.handleTimeSync(msg)
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("participant_id", c.ParticipantID).
			RawJSON("message", message).
			Msg("received client message")
	}
}

// handleTimeSync answers with the remaining countdown computed from the
// start value the client read off its snapshot. The start arrives as the
// wire string; garbage fails open to 0 rather than wedging the client's
// timer.
func (c *Connection) handleTimeSync(msg clientMessage) {
	now := time.Now().UTC()
	reply := timeSyncReply{
		Type: "time_sync",
		CountdownRemaining: countdown.RemainingFromString(now, msg.CountdownStartedAt,
			time.Duration(c.Manager.rules.CountdownSeconds)*time.Second),
		ServerTime: now,
	}

	data, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal time_sync reply")
		return
	}

	select {
	case c.Send <- data:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("send buffer full, dropping time_sync reply")
	}
}
