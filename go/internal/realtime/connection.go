package realtime

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	SendBuffer      int
	ReadBufferSize  int
	WriteBufferSize int

	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024, // 1KB max message size
		SendBuffer:      256,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// Connection is one client socket watching a single session. The session
// never changes for the lifetime of the connection.
type Connection struct {
	ID          string
	SessionID   string
	Conn        *websocket.Conn
	ConnectedAt time.Time

	send     chan []byte
	registry *Registry
	config   ConnectionConfig
}

func newConnection(sessionID string, conn *websocket.Conn, registry *Registry, config ConnectionConfig) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Conn:        conn,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, config.SendBuffer),
		registry:    registry,
		config:      config,
	}
}

func (c *Connection) closeSocket() {
	if c.Conn == nil {
		return
	}
	if err := c.Conn.Close(); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("close websocket")
	}
}

// writePump drains the outbound queue. It exits when the registry closes
// the queue or a write fails.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.registry.Unregister(c)
		c.closeSocket()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if !ok {
				// Queue closed by Unregister
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Str("session_id", c.SessionID).
					Msg("failed to write frame to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
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

// readPump reads until the socket fails. Clients have nothing to say on
// this socket, so data frames are logged and dropped.
func (c *Connection) readPump() {
	defer func() {
		c.registry.Unregister(c)
		c.closeSocket()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		log.Debug().
			Str("connection_id", c.ID).
			Str("session_id", c.SessionID).
			Int("bytes", len(message)).
			Msg("ignoring client message")
		c.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}
