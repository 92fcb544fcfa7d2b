package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// clientFrame is a client-to-server message.
type clientFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// Client is a single WebSocket connection.
type Client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once

	hub     *Hub
	canJoin JoinChecker
	logger  *slog.Logger
}

func newClient(userID string, conn *websocket.Conn, hub *Hub, canJoin JoinChecker, logger *slog.Logger) *Client {
	return &Client{
		userID:  userID,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		hub:     hub,
		canJoin: canJoin,
		logger:  logger.With("user_id", userID),
	}
}

// UserID returns the authenticated user of the connection.
func (c *Client) UserID() string {
	return c.userID
}

// Send queues msg for the write pump.
func (c *Client) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close terminates the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump handles client frames until the connection fails. It owns the
// lifecycle of the client and unsubscribes it on exit.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.LeaveAll(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("realtime connection closed", "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.sendError("invalid frame")
			continue
		}
		c.handle(ctx, frame)
	}
}

func (c *Client) handle(ctx context.Context, frame clientFrame) {
	conversationID := strings.TrimSpace(frame.ConversationID)
	switch frame.Type {
	case "join_conversation":
		if conversationID == "" {
			c.sendError("conversationId is required")
			return
		}
		ok, err := c.canJoin(ctx, conversationID, c.userID)
		if err != nil {
			c.logger.Error("failed to check conversation membership", "conversation_id", conversationID, "error", err)
			c.sendError("unable to join conversation")
			return
		}
		if !ok {
			c.sendError("not a participant of this conversation")
			return
		}
		topic := domain.ConversationTopic(conversationID)
		c.hub.Join(topic, c)
		c.sendFrame(Frame{Event: "joined", Topic: topic})

	case "leave_conversation":
		topic := domain.ConversationTopic(conversationID)
		c.hub.Leave(topic, c)
		c.sendFrame(Frame{Event: "left", Topic: topic})

	default:
		c.sendError("unknown frame type")
	}
}

func (c *Client) sendError(message string) {
	c.sendFrame(Frame{Event: "error", Payload: map[string]string{"message": message}})
}

func (c *Client) sendFrame(f Frame) {
	msg, err := json.Marshal(f)
	if err != nil {
		c.logger.Error("failed to encode frame", "error", err)
		return
	}
	if !c.Send(msg) {
		c.Close()
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("realtime write failed", "error", err)
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
