package ws

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/arsteg/effortlesshrmapp-sub000/internal/auth"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/models"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Screenshots arrive as base64 JPEGs
	maxMessageSize = 4 << 20

	publishTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	claims *auth.Claims
	logger *slog.Logger

	// Identities in auth order. Owned by ReadPump.
	identities []string
}

// ReadPump pumps messages from WebSocket to hub
func (c *Client) ReadPump() {
	defer func() {
		enqueue(c.hub, c.hub.unregister, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("[CLIENT] Unexpected close", "client", c.id, "error", err)
			}
			break
		}

		// Any inbound frame proves the peer is alive
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleClientMessage(message)
	}
}

// WritePump pumps messages from hub to WebSocket
func (c *Client) WritePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("[CLIENT] Failed to write message", "client", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("[CLIENT] Failed to send ping", "client", c.id, "error", err)
				return
			}
		}
	}
}

func (c *Client) handleClientMessage(message []byte) {
	var in models.Inbound
	if err := json.Unmarshal(message, &in); err != nil {
		c.logger.Warn("[CLIENT] Error unmarshaling message", "client", c.id, "error", err)
		return
	}

	switch in.Type {
	case models.TypeAuth:
		c.authenticate(in.UserID)
		return
	case "":
	default:
		c.logger.Warn("[CLIENT] Unknown frame type", "type", in.Type, "client", c.id)
		return
	}

	if in.IsHeartbeat() {
		return
	}

	if _, err := in.Envelope.Message(); err != nil {
		c.logger.Warn("[CLIENT] Dropping invalid message", "client", c.id, "error", err)
		return
	}

	if len(c.identities) == 0 {
		c.logger.Warn("[CLIENT] Message before auth", "client", c.id, "type", in.NotificationType)
		return
	}

	env := in.Envelope.WithDefaults(time.Now())
	env.SourceUserID = c.identities[0]

	event := models.Event{
		UserID:    env.SourceUserID,
		OriginID:  c.id,
		Timestamp: time.Now().Unix(),
		Message:   env,
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := c.hub.Publish(ctx, event); err != nil {
		c.logger.Error("[CLIENT] Failed to publish message", "client", c.id, "user", event.UserID, "error", err)
	}
}

func (c *Client) authenticate(userID string) {
	if userID == "" {
		c.logger.Warn("[CLIENT] Auth frame without userId", "client", c.id)
		return
	}

	// nil claims means verification is disabled
	if c.claims != nil && !c.claims.CanWatch(userID) {
		c.logger.Warn("[CLIENT] Auth rejected", "client", c.id, "subject", c.claims.Subject, "user", userID)
		return
	}

	if slices.Contains(c.identities, userID) {
		return
	}
	c.identities = append(c.identities, userID)

	enqueue(c.hub, c.hub.watch, watchRequest{client: c, userID: userID})
}
