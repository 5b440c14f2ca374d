package server

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Rate limits per minute for inbound client frames.
type RateLimits struct {
	MaxRoomChanges  int
	MaxTypingEvents int
	MaxPingMessages int
}

var DefaultRateLimits = RateLimits{
	MaxRoomChanges:  60,
	MaxTypingEvents: 60,
	MaxPingMessages: 60,
}

// ClientRateLimiter tracks per-connection token buckets.
type ClientRateLimiter struct {
	roomTokens   int
	typingTokens int
	pingTokens   int
	lastRefill   time.Time
	mu           sync.Mutex
}

func NewClientRateLimiter() *ClientRateLimiter {
	return &ClientRateLimiter{
		roomTokens:   DefaultRateLimits.MaxRoomChanges,
		typingTokens: DefaultRateLimits.MaxTypingEvents,
		pingTokens:   DefaultRateLimits.MaxPingMessages,
		lastRefill:   time.Now(),
	}
}

func (rl *ClientRateLimiter) Allow(msgType string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.roomTokens = DefaultRateLimits.MaxRoomChanges
		rl.typingTokens = DefaultRateLimits.MaxTypingEvents
		rl.pingTokens = DefaultRateLimits.MaxPingMessages
		rl.lastRefill = now
	}

	switch msgType {
	case "room:join", "room:leave":
		if rl.roomTokens > 0 {
			rl.roomTokens--
			return true
		}
	case "typing:start", "typing:stop":
		if rl.typingTokens > 0 {
			rl.typingTokens--
			return true
		}
	case "ping":
		if rl.pingTokens > 0 {
			rl.pingTokens--
			return true
		}
	}
	return false
}

// Client represents a single WebSocket connection.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	userID       uuid.UUID
	clientID     string
	rateLimiter  *ClientRateLimiter
	isClosing    int32
	connectedAt  time.Time
	lastActivity time.Time
	logger       WebSocketLogger
}

// ClientMessage is an inbound frame from the client.
type ClientMessage struct {
	Type           string    `json:"type"`
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, clientID string, logger WebSocketLogger) *Client {
	now := time.Now()
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 256),
		userID:       userID,
		clientID:     clientID,
		rateLimiter:  NewClientRateLimiter(),
		connectedAt:  now,
		lastActivity: now,
		logger:       logger,
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.lastActivity = time.Now()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket unexpected close", c.userID, c.clientID, err)
			}
			break
		}

		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
		c.lastActivity = time.Now()

		if err := c.handleMessage(message); err != nil {
			c.logger.Error("websocket handle message failed", c.userID, c.clientID, err)
		}
	}
}

func (c *Client) handleMessage(message []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return err
	}

	if !c.rateLimiter.Allow(msg.Type) {
		c.logger.Warn("rate limit exceeded", c.userID, c.clientID, zap.String("msg_type", msg.Type))
		return nil
	}

	switch msg.Type {
	case "room:join":
		return c.handleRoomJoin(msg)
	case "room:leave":
		c.hub.rooms.Leave(msg.ConversationID, c)
		return nil
	case "typing:start":
		c.hub.emitTyping(msg.ConversationID, c.userID, true)
		return nil
	case "typing:stop":
		c.hub.emitTyping(msg.ConversationID, c.userID, false)
		return nil
	case "ping":
		c.hub.touchPresence(c.userID)
		c.enqueue([]byte(`{"type":"pong"}`))
		return nil
	default:
		c.logger.Warn("unknown message type", c.userID, c.clientID, zap.String("msg_type", msg.Type))
		return nil
	}
}

func (c *Client) handleRoomJoin(msg ClientMessage) error {
	if msg.ConversationID == uuid.Nil {
		return nil
	}
	if !c.hub.authorizeJoin(msg.ConversationID, c.userID) {
		c.logger.Warn("room join denied", c.userID, c.clientID, zap.String("conversation_id", msg.ConversationID.String()))
		data, _ := json.Marshal(Event{Type: "room:denied", Payload: map[string]any{
			"conversation_id": msg.ConversationID,
		}})
		c.enqueue(data)
		return nil
	}
	c.hub.rooms.Join(msg.ConversationID, c)
	data, _ := json.Marshal(Event{Type: "room:joined", Payload: map[string]any{
		"conversation_id": msg.ConversationID,
	}})
	c.enqueue(data)
	return nil
}

func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

			if time.Since(c.lastActivity) > pongWait*2 {
				c.logger.Info("client idle timeout", c.userID, c.clientID)
				return
			}
		}
	}
}
