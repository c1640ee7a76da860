package ws

import (
	"sync"

	"github.com/samber/lo"
)

const roomPrefix = "conversation:"

// RoomName is the room every member of a conversation joins.
func RoomName(conversationID string) string {
	return roomPrefix + conversationID
}

// Hub tracks which local connections sit in which rooms.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]map[string]struct{}),
	}
}

// Register adds a client with an empty room set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		h.clients[c] = make(map[string]struct{})
	}
}

// Join adds c to room and reports whether the room was empty on this instance.
func (h *Hub) Join(c *Client, room string) (first bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms, ok := h.clients[c]
	if !ok {
		rooms = make(map[string]struct{})
		h.clients[c] = rooms
	}
	rooms[room] = struct{}{}

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	first = len(members) == 0
	members[c] = struct{}{}
	return first
}

// Leave removes c from room and reports whether the room is now empty locally.
func (h *Hub) Leave(c *Client, room string) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) bool {
	if rooms, ok := h.clients[c]; ok {
		delete(rooms, room)
	}
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, in := members[c]; !in {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
		return true
	}
	return false
}

// Unregister drops c from every room and returns the rooms left empty.
func (h *Hub) Unregister(c *Client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var emptied []string
	for room := range h.clients[c] {
		if h.leaveLocked(c, room) {
			emptied = append(emptied, room)
		}
	}
	delete(h.clients, c)
	return emptied
}

// InRoom reports whether c has joined room.
func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

// Occupied reports whether room has any local member.
func (h *Hub) Occupied(room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room]) > 0
}

// Members returns a snapshot of the room's local members.
func (h *Hub) Members(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Keys(h.rooms[room])
}

// Rooms returns the rooms c has joined.
func (h *Hub) Rooms(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Keys(h.clients[c])
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients returns a snapshot of every registered client.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Keys(h.clients)
}
