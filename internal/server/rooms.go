package server

import (
	"sync"

	"github.com/google/uuid"
)

// RoomRegistry tracks which clients have joined which conversation room.
// Membership is explicit: a client only receives conversation events for
// rooms it has joined (and been authorized for) on this connection.
type RoomRegistry struct {
	rooms map[uuid.UUID]map[*Client]bool
	mu    sync.RWMutex
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[uuid.UUID]map[*Client]bool)}
}

func (r *RoomRegistry) Join(conversationID uuid.UUID, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[conversationID] == nil {
		r.rooms[conversationID] = make(map[*Client]bool)
	}
	r.rooms[conversationID][client] = true
}

func (r *RoomRegistry) Leave(conversationID uuid.UUID, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.rooms[conversationID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(r.rooms, conversationID)
		}
	}
}

// LeaveAll removes the client from every room it joined. Called once on
// disconnect so a dropped connection never leaves a stale membership behind.
func (r *RoomRegistry) LeaveAll(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conversationID, members := range r.rooms {
		delete(members, client)
		if len(members) == 0 {
			delete(r.rooms, conversationID)
		}
	}
}

// Members returns a snapshot of the room's clients.
func (r *RoomRegistry) Members(conversationID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]*Client, 0, len(r.rooms[conversationID]))
	for client := range r.rooms[conversationID] {
		members = append(members, client)
	}
	return members
}

func (r *RoomRegistry) Size(conversationID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[conversationID])
}
