package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"classlink/internal/services"
)

// ParticipantChecker authorizes room joins. Implemented by the conversation
// service against the participants table.
type ParticipantChecker interface {
	IsActiveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// PresenceRecorder mirrors connection lifecycle into shared storage so that
// online status is visible across server instances.
type PresenceRecorder interface {
	ConnectionOpened(ctx context.Context, userID uuid.UUID, clientID string) error
	ConnectionClosed(ctx context.Context, userID uuid.UUID, clientID string) error
	Heartbeat(ctx context.Context, userID uuid.UUID) error
}

// Event is the wire frame pushed to clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// BroadcastMessage targets one conversation room, a set of users, or every
// connected client.
type BroadcastMessage struct {
	ConversationID *uuid.UUID
	UserIDs        []uuid.UUID
	All            bool
	Data           []byte
}

// Hub maintains the set of active clients, room membership and presence.
// It implements services.Broadcaster: emits are queued on a buffered channel
// and dropped with a log line when the hub cannot keep up, so the write path
// never blocks on delivery.
type Hub struct {
	clients      map[uuid.UUID]map[string]*Client
	rooms        *RoomRegistry
	register     chan *Client
	unregister   chan *Client
	broadcast    chan *BroadcastMessage
	participants ParticipantChecker
	presence     PresenceRecorder
	rateLimiter  *ConnectionRateLimiter
	logger       *WebSocketLogger
	mu           sync.RWMutex
	stopChan     chan struct{}
	isRunning    int32
}

// NewHub builds a hub. presence may be nil, in which case online status is
// tracked in process only.
func NewHub(participants ParticipantChecker, presence PresenceRecorder) *Hub {
	return &Hub{
		clients:      make(map[uuid.UUID]map[string]*Client),
		rooms:        NewRoomRegistry(),
		register:     make(chan *Client, 256),
		unregister:   make(chan *Client, 256),
		broadcast:    make(chan *BroadcastMessage, 1024),
		participants: participants,
		presence:     presence,
		rateLimiter:  NewConnectionRateLimiter(),
		logger:       NewWebSocketLogger(),
		stopChan:     make(chan struct{}),
	}
}

// Run processes registration and broadcast traffic until Stop.
func (h *Hub) Run() {
	atomic.StoreInt32(&h.isRunning, 1)
	defer atomic.StoreInt32(&h.isRunning, 0)

	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)

		case <-h.stopChan:
			return
		}
	}
}

// EmitToConversation queues an event for every client joined to the room.
func (h *Hub) EmitToConversation(conversationID uuid.UUID, event string, payload any) {
	data, err := json.Marshal(Event{Type: event, Payload: payload})
	if err != nil {
		return
	}
	id := conversationID
	select {
	case h.broadcast <- &BroadcastMessage{ConversationID: &id, Data: data}:
	default:
		h.logger.Warn("broadcast queue full, event dropped", uuid.Nil, event)
	}
}

// EmitToAll queues an event for every connected client.
func (h *Hub) EmitToAll(event string, payload any) {
	data, err := json.Marshal(Event{Type: event, Payload: payload})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{All: true, Data: data}:
	default:
		h.logger.Warn("broadcast queue full, event dropped", uuid.Nil, event)
	}
}

// EmitToUser queues an event for every connection of one user.
func (h *Hub) EmitToUser(userID uuid.UUID, event string, payload any) {
	data, err := json.Marshal(Event{Type: event, Payload: payload})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{UserIDs: []uuid.UUID{userID}, Data: data}:
	default:
		h.logger.Warn("broadcast queue full, event dropped", userID, event)
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.rateLimiter.AllowConnection(client.userID) {
		h.logger.Warn("connection rate limit exceeded", client.userID, client.clientID)
		client.conn.Close()
		return
	}

	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[string]*Client)
	}

	const maxConnectionsPerUser = 10
	if len(h.clients[client.userID]) >= maxConnectionsPerUser {
		h.logger.Warn("max connections per user reached", client.userID, client.clientID)
		for id, c := range h.clients[client.userID] {
			h.removeClient(c)
			delete(h.clients[client.userID], id)
			break
		}
	}

	firstConnection := len(h.clients[client.userID]) == 0
	h.clients[client.userID][client.clientID] = client
	h.logger.Info("client connected", client.userID, client.clientID)
	h.recordPresence(client, true)
	if firstConnection {
		h.emitPresenceLocked(client.userID, true)
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := userClients[client.clientID]; !ok {
		return
	}

	delete(userClients, client.clientID)
	h.removeClient(client)
	lastConnection := len(userClients) == 0
	if lastConnection {
		delete(h.clients, client.userID)
	}
	h.logger.Info("client disconnected", client.userID, client.clientID)
	h.recordPresence(client, false)
	if lastConnection {
		h.emitPresenceLocked(client.userID, false)
	}
}

// emitPresenceLocked announces a user's first connection or last disconnect
// to every connected client. Caller holds h.mu.
func (h *Hub) emitPresenceLocked(userID uuid.UUID, online bool) {
	now := time.Now().UTC()
	data, err := json.Marshal(Event{Type: services.EventPresence, Payload: map[string]any{
		"user_id":   userID,
		"online":    online,
		"timestamp": now,
		"last_seen": now,
	}})
	if err != nil {
		return
	}
	for _, userClients := range h.clients {
		for _, c := range userClients {
			h.deliver(c, data)
		}
	}
}

// recordPresence mirrors connect and disconnect into shared storage. Best
// effort: failures are logged and never affect the connection.
func (h *Hub) recordPresence(client *Client, opened bool) {
	if h.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		var err error
		if opened {
			err = h.presence.ConnectionOpened(ctx, client.userID, client.clientID)
		} else {
			err = h.presence.ConnectionClosed(ctx, client.userID, client.clientID)
		}
		if err != nil {
			h.logger.Error("presence update failed", client.userID, client.clientID, err)
		}
	}()
}

// touchPresence refreshes the presence TTL on client activity.
func (h *Hub) touchPresence(userID uuid.UUID) {
	if h.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := h.presence.Heartbeat(ctx, userID); err != nil {
			h.logger.Error("presence heartbeat failed", userID, "", err)
		}
	}()
}

// removeClient is the single disconnect finalizer: room membership, the send
// channel and the socket are all torn down here, whichever path noticed the
// drop first.
func (h *Hub) removeClient(client *Client) {
	h.rooms.LeaveAll(client)
	if atomic.CompareAndSwapInt32(&client.isClosing, 0, 1) {
		close(client.send)
	}
	client.conn.Close()
}

func (h *Hub) handleBroadcast(msg *BroadcastMessage) {
	if msg.ConversationID != nil {
		for _, client := range h.rooms.Members(*msg.ConversationID) {
			h.deliver(client, msg.Data)
		}
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if msg.All {
		for _, userClients := range h.clients {
			for _, client := range userClients {
				h.deliver(client, msg.Data)
			}
		}
		return
	}
	for _, userID := range msg.UserIDs {
		for _, client := range h.clients[userID] {
			h.deliver(client, msg.Data)
		}
	}
}

func (h *Hub) deliver(client *Client, data []byte) {
	if atomic.LoadInt32(&client.isClosing) == 1 {
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("client send buffer full", client.userID, client.clientID)
	}
}

// IsUserOnline reports whether the user has at least one live connection.
func (h *Hub) IsUserOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// authorizeJoin checks room membership against the store.
func (h *Hub) authorizeJoin(conversationID, userID uuid.UUID) bool {
	if h.participants == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := h.participants.IsActiveParticipant(ctx, conversationID, userID)
	if err != nil {
		h.logger.Error("room join authorization failed", userID, "", err)
		return false
	}
	return ok
}

// emitTyping relays a typing indicator to the room, skipping the typist's
// own connections.
func (h *Hub) emitTyping(conversationID, userID uuid.UUID, typing bool) {
	data, err := json.Marshal(Event{Type: services.EventTyping, Payload: map[string]any{
		"conversation_id": conversationID,
		"user_id":         userID,
		"typing":          typing,
	}})
	if err != nil {
		return
	}
	for _, client := range h.rooms.Members(conversationID) {
		if client.userID == userID {
			continue
		}
		h.deliver(client, data)
	}
}

// Stop shuts the hub down and closes every connection.
func (h *Hub) Stop() {
	close(h.stopChan)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, userClients := range h.clients {
		for _, client := range userClients {
			h.removeClient(client)
		}
	}
	h.clients = make(map[uuid.UUID]map[string]*Client)
}

// ConnectionRateLimiter caps new connections per user per minute.
type ConnectionRateLimiter struct {
	connectionsPerUser map[uuid.UUID][]time.Time
	mu                 sync.Mutex
}

func NewConnectionRateLimiter() *ConnectionRateLimiter {
	rl := &ConnectionRateLimiter{
		connectionsPerUser: make(map[uuid.UUID][]time.Time),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *ConnectionRateLimiter) AllowConnection(userID uuid.UUID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-1 * time.Minute)

	valid := []time.Time{}
	for _, t := range rl.connectionsPerUser[userID] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= 10 {
		return false
	}

	rl.connectionsPerUser[userID] = append(valid, now)
	return true
}

func (rl *ConnectionRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.cleanup()
	}
}

func (rl *ConnectionRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for userID, times := range rl.connectionsPerUser {
		valid := []time.Time{}
		for _, t := range times {
			if t.After(cutoff) {
				valid = append(valid, t)
			}
		}
		if len(valid) == 0 {
			delete(rl.connectionsPerUser, userID)
		} else {
			rl.connectionsPerUser[userID] = valid
		}
	}
}
