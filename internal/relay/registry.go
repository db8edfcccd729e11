// Package relay implements the signaling relay: a WebSocket server that
// forwards every client message, unmodified, to the other members of the
// sender's room.
package relay

import (
	"errors"
	"sync"
)

// DefaultRoom is the room a connection joins when it names none.
const DefaultRoom = ""

// ErrRoomFull is returned by Registry.Add when the room is at capacity.
var ErrRoomFull = errors.New("room is full")

// Registry tracks live connections grouped by room. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]*Conn
	capacity int
}

// NewRegistry creates an empty registry. A capacity below 1 means rooms are
// unbounded.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]*Conn),
		capacity: capacity,
	}
}

// Add registers c in its room.
func (r *Registry) Add(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[c.room]
	if members == nil {
		members = make(map[string]*Conn)
		r.rooms[c.room] = members
	}
	if _, ok := members[c.id]; ok {
		return nil
	}
	if r.capacity > 0 && len(members) >= r.capacity {
		return ErrRoomFull
	}
	members[c.id] = c
	return nil
}

// Remove deregisters c and returns the members still in its room. Empty
// rooms are deleted. Removing an unknown connection returns nil.
func (r *Registry) Remove(c *Conn) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[c.room]
	if !ok {
		return nil
	}
	if _, ok := members[c.id]; !ok {
		return nil
	}
	delete(members, c.id)
	if len(members) == 0 {
		delete(r.rooms, c.room)
		return nil
	}

	rest := make([]*Conn, 0, len(members))
	for _, m := range members {
		rest = append(rest, m)
	}
	return rest
}

// ForEachPeer calls fn for every member of c's room except c itself. fn runs
// under the read lock and must not call back into the registry.
func (r *Registry) ForEachPeer(c *Conn, fn func(peer *Conn)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, m := range r.rooms[c.room] {
		if id == c.id {
			continue
		}
		fn(m)
	}
}

// Len returns the number of connections in room.
func (r *Registry) Len(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Rooms returns the number of non-empty rooms.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*Conn
	for _, members := range r.rooms {
		for _, m := range members {
			all = append(all, m)
		}
	}
	return all
}
