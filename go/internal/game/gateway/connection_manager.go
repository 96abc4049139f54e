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
)

// DisconnectFunc is called when a player's last WebSocket connection to a
// lobby closes. The registry uses it to track host absence.
type DisconnectFunc func(ctx context.Context, lobbyID uuid.UUID, playerID string)

// ConnectionManager fans lobby events out to WebSocket clients. Each lobby
// has a room of connections; broadcasts run on a single loop so a slow
// client gets dropped instead of stalling everyone else. Sockets are
// outbound-only: actions travel over the HTTP API, and the per-player
// ordering the coordinator needs comes from its intake channel, not from
// socket framing.
type ConnectionManager struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*Connection]struct{}

	upgrader     websocket.Upgrader
	cfg          ConnectionConfig
	outbound     chan roomMessage
	onDisconnect DisconnectFunc
}

// Connection is one client's WebSocket link into a lobby. A player may hold
// several (multiple tabs); host absence is only signalled once the last one
// closes.
type Connection struct {
	ID       string
	PlayerID string
	LobbyID  uuid.UUID
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds WebSocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type roomMessage struct {
	lobbyID  uuid.UUID
	event    *LobbyEvent
	playerID string // when set, only this player's connections receive it
}

// DefaultConnectionConfig returns the standard WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Origins are enforced by the CORS layer in front of the API;
		// lock this down when the gateway is exposed directly.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

// NewConnectionManager creates a connection manager. onDisconnect may be nil.
func NewConnectionManager(cfg ConnectionConfig, onDisconnect DisconnectFunc) *ConnectionManager {
	return &ConnectionManager{
		rooms: make(map[uuid.UUID]map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		cfg:          cfg,
		outbound:     make(chan roomMessage, 1000),
		onDisconnect: onDisconnect,
	}
}

// Start runs the broadcast loop until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager running")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager stopped")
			return
		case msg := <-cm.outbound:
			cm.fanOut(msg)
		}
	}
}

// UpgradeConnection turns an HTTP request into a WebSocket bound to one
// lobby and starts its pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, playerID string, lobbyID uuid.UUID) error {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}

	now := time.Now()
	conn := &Connection{
		ID:          uuid.New().String(),
		PlayerID:    playerID,
		LobbyID:     lobbyID,
		Conn:        ws,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: now,
		LastPing:    now,
	}

	cm.mu.Lock()
	room := cm.rooms[lobbyID]
	if room == nil {
		room = make(map[*Connection]struct{})
		cm.rooms[lobbyID] = room
	}
	room[conn] = struct{}{}
	cm.mu.Unlock()

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("player_id", playerID).
		Str("lobby_id", lobbyID.String()).
		Msg("websocket connected")
	return nil
}

// drop removes a connection from its room and, if it was the player's last
// one, reports the player as disconnected.
func (cm *ConnectionManager) drop(conn *Connection) {
	cm.mu.Lock()
	room := cm.rooms[conn.LobbyID]
	if _, member := room[conn]; !member {
		cm.mu.Unlock()
		return
	}
	delete(room, conn)
	close(conn.Send)
	if len(room) == 0 {
		delete(cm.rooms, conn.LobbyID)
	}
	lastForPlayer := true
	for other := range room {
		if other.PlayerID == conn.PlayerID {
			lastForPlayer = false
			break
		}
	}
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("player_id", conn.PlayerID).
		Str("lobby_id", conn.LobbyID.String()).
		Bool("last_for_player", lastForPlayer).
		Msg("websocket disconnected")

	if lastForPlayer && cm.onDisconnect != nil {
		cm.onDisconnect(context.Background(), conn.LobbyID, conn.PlayerID)
	}
}

// BroadcastToLobby queues an event for every connection in a lobby.
func (cm *ConnectionManager) BroadcastToLobby(lobbyID uuid.UUID, event *LobbyEvent) {
	cm.enqueue(roomMessage{lobbyID: lobbyID, event: event})
}

// BroadcastToPlayer queues an event for one player's connections only.
func (cm *ConnectionManager) BroadcastToPlayer(lobbyID uuid.UUID, playerID string, event *LobbyEvent) {
	cm.enqueue(roomMessage{lobbyID: lobbyID, event: event, playerID: playerID})
}

func (cm *ConnectionManager) enqueue(msg roomMessage) {
	select {
	case cm.outbound <- msg:
	default:
		log.Warn().
			Str("lobby_id", msg.lobbyID.String()).
			Str("event_type", string(msg.event.Type)).
			Msg("outbound queue full, dropping broadcast")
	}
}

func (cm *ConnectionManager) fanOut(msg roomMessage) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.rooms[msg.lobbyID]))
	for conn := range cm.rooms[msg.lobbyID] {
		if msg.playerID == "" || conn.PlayerID == msg.playerID {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	// Marshal once; every room member gets the same frame.
	frame, err := json.Marshal(msg.event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(msg.event.Type)).Msg("failed to marshal event")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- frame:
		default:
			// Buffer full means the client stopped reading; cut it loose
			// rather than hold the loop.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("player_id", conn.PlayerID).
				Msg("slow websocket client dropped")
			cm.drop(conn)
			conn.Conn.Close()
		}
	}
}

// Stats returns counts of active connections per lobby.
func (cm *ConnectionManager) Stats() (total int, lobbies map[string]int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	lobbies = make(map[string]int, len(cm.rooms))
	for lobbyID, room := range cm.rooms {
		lobbies[lobbyID.String()] = len(room)
		total += len(room)
	}
	return total, lobbies
}

// writePump drains the send channel to the socket and keeps the ping cycle
// alive. One writer goroutine per connection; gorilla allows at most one
// concurrent writer.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.drop(c)
	}()

	for {
		select {
		case frame, open := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.cfg.WriteTimeout))
			if !open {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump consumes inbound frames. Clients have nothing to say on this
// socket, so reads exist only to process pongs and notice the close.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.drop(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.cfg.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.LastPing = time.Now()
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.cfg.ReadTimeout))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("websocket closed unexpectedly")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.cfg.ReadTimeout))
	}
}
