package ws

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrClientClosed is returned by Send once a client has gone away.
	ErrClientClosed = errors.New("ws: client closed")
	// ErrSlowConsumer is returned by Send when the client's outbound queue is full; the
	// payload is dropped for that client only.
	ErrSlowConsumer = errors.New("ws: slow consumer")
)

// Subscriber abstracts a streaming client. Send must not block: it either queues the
// payload or fails.
type Subscriber interface {
	Send(room string, payload []byte) error
	Close()
}

// RoomTracker is implemented by subscribers that filter queued payloads against their
// own room membership before writing them.
type RoomTracker interface {
	Track(room string)
	Untrack(room string)
}

// Rooms is the room membership table driven by the relay.
type Rooms interface {
	Join(room string, client Subscriber) bool
	Leave(room string, client Subscriber) bool
	Remove(client Subscriber) []string
	Broadcast(room string, payload []byte) Delivery
	Stats() Stats
	CloseAll()
}

// Delivery summarises one broadcast.
type Delivery struct {
	Delivered int
	Dropped   int
	Closed    int
}

// Stats is a snapshot of the membership table.
type Stats struct {
	Rooms   int
	Clients int
}

// Hub manages stream subscriptions by build ID. Broadcast only enqueues, so a slow
// member never stalls other rooms or other members of the same room.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[Subscriber]struct{}
	members map[Subscriber]map[string]struct{}
}

var _ Rooms = (*Hub)(nil)

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[Subscriber]struct{}),
		members: make(map[Subscriber]map[string]struct{}),
	}
}

// Join adds client to room and reports whether it was not already a member.
func (h *Hub) Join(room string, client Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := client.(RoomTracker); ok {
		t.Track(room)
	}
	clients, ok := h.rooms[room]
	if !ok {
		clients = make(map[Subscriber]struct{})
		h.rooms[room] = clients
	}
	if _, exists := clients[client]; exists {
		return false
	}
	clients[client] = struct{}{}
	joined, ok := h.members[client]
	if !ok {
		joined = make(map[string]struct{})
		h.members[client] = joined
	}
	joined[room] = struct{}{}
	return true
}

// Leave removes client from room and reports whether it was a member.
func (h *Hub) Leave(room string, client Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := client.(RoomTracker); ok {
		t.Untrack(room)
	}
	return h.leaveLocked(room, client)
}

func (h *Hub) leaveLocked(room string, client Subscriber) bool {
	clients, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, exists := clients[client]; !exists {
		return false
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.rooms, room)
	}
	if joined, ok := h.members[client]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(h.members, client)
		}
	}
	return true
}

// Remove drops client from every room and returns the rooms it left, sorted.
func (h *Hub) Remove(client Subscriber) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined := h.members[client]
	left := make([]string, 0, len(joined))
	for room := range joined {
		left = append(left, room)
	}
	tracker, tracks := client.(RoomTracker)
	for _, room := range left {
		if tracks {
			tracker.Untrack(room)
		}
		h.leaveLocked(room, client)
	}
	sort.Strings(left)
	return left
}

// Broadcast queues payload for every current member of room. Members whose Send reports
// a closed client are removed from the table.
func (h *Hub) Broadcast(room string, payload []byte) Delivery {
	h.mu.RLock()
	clients := make([]Subscriber, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var (
		d     Delivery
		stale []Subscriber
	)
	for _, c := range clients {
		err := c.Send(room, payload)
		switch {
		case err == nil:
			d.Delivered++
		case errors.Is(err, ErrSlowConsumer):
			d.Dropped++
		default:
			d.Closed++
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		h.Remove(c)
	}
	return d
}

// Members returns the number of clients in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// RoomsOf returns the rooms client belongs to, sorted.
func (h *Hub) RoomsOf(client Subscriber) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.members[client]))
	for room := range h.members[client] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Stats reports how many rooms and distinct clients are tracked.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{Rooms: len(h.rooms), Clients: len(h.members)}
}

// CloseAll empties the table and closes every tracked client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]Subscriber, 0, len(h.members))
	for c := range h.members {
		clients = append(clients, c)
	}
	h.rooms = make(map[string]map[Subscriber]struct{})
	h.members = make(map[Subscriber]map[string]struct{})
	h.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}

// membership is the client-side view of joined rooms. The empty room is always a member
// so direct replies bypass the filter.
type membership struct {
	mu    sync.RWMutex
	rooms map[string]struct{}
}

// Track records room as joined.
func (m *membership) Track(room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms == nil {
		m.rooms = make(map[string]struct{})
	}
	m.rooms[room] = struct{}{}
}

// Untrack forgets room.
func (m *membership) Untrack(room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, room)
}

func (m *membership) member(room string) bool {
	if room == "" {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[room]
	return ok
}

type outbound struct {
	room    string
	payload []byte
}
