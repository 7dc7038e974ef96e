package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/auth"
	"github.com/KevinKickass/xkop-gateway/internal/utmc"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id          uuid.UUID
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	logger      *zap.Logger
	permissions []auth.Permission

	// Empty means all directions.
	filterMu   sync.RWMutex
	directions map[utmc.Direction]bool
}

type clientMessage struct {
	Type       string           `json:"type"`
	Token      string           `json:"token,omitempty"`
	Directions []utmc.Direction `json:"directions,omitempty"`
}

// wants reports whether msg passes the client's subscription filter.
func (c *Client) wants(msg Message) bool {
	if msg.Type != MessageTypePointUpdate {
		return true
	}
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if len(c.directions) == 0 {
		return true
	}
	data, ok := msg.Data.(PointUpdateData)
	return !ok || c.directions[data.Direction]
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	registered := false
	defer func() {
		if registered {
			c.hub.leave(c)
		} else {
			close(c.send)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if c.hub.authRequired() {
		if !c.authenticate() {
			return
		}
	} else {
		c.permissions = []auth.Permission{auth.PermOperator, auth.PermTechnician, auth.PermAdmin}
	}

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if registered = c.hub.join(c); !registered {
		return
	}

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", c.id.String()))
			}
			return
		}
		c.handleMessage(msg)
	}
}

// authenticate expects the first message to be {"type":"auth","token":...}.
func (c *Client) authenticate() bool {
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	var msg clientMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		return false
	}
	if msg.Type != "auth" || msg.Token == "" {
		c.sendAuthFailed("First message must be authentication")
		return false
	}

	permissions, err := c.hub.validator.ValidateToken(context.Background(), msg.Token, c.conn.RemoteAddr().String())
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.conn.RemoteAddr().String()))
		c.sendAuthFailed("Invalid or expired token")
		return false
	}

	c.permissions = permissions
	c.sendAuthSuccess(permissions)
	c.logger.Info("WebSocket client authenticated",
		zap.String("client_id", c.id.String()),
		zap.Any("permissions", permissions))
	return true
}

func (c *Client) sendAuthSuccess(permissions []auth.Permission) {
	c.sendDirect(map[string]interface{}{
		"type":        "auth_success",
		"timestamp":   time.Now(),
		"client_id":   c.id,
		"permissions": permissions,
	})
}

func (c *Client) sendAuthFailed(reason string) {
	c.sendDirect(map[string]interface{}{
		"type":      "auth_failed",
		"timestamp": time.Now(),
		"reason":    reason,
	})
}

func (c *Client) sendDirect(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		c.filterMu.Lock()
		c.directions = make(map[utmc.Direction]bool, len(msg.Directions))
		for _, d := range msg.Directions {
			c.directions[d] = true
		}
		c.filterMu.Unlock()
		c.logger.Debug("WebSocket subscription changed",
			zap.String("client_id", c.id.String()),
			zap.Any("directions", msg.Directions))
	default:
		c.logger.Debug("Ignoring client message",
			zap.String("client_id", c.id.String()),
			zap.String("type", msg.Type))
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		id:     uuid.New(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}

	go client.writePump()
	go client.readPump()
}
