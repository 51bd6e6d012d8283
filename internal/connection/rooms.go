package connection

import (
	"sort"
	"sync"
)

// Rooms groups channel handles under names. A handle may be in many rooms.
type Rooms[H comparable] struct {
	mu    sync.RWMutex
	rooms map[string]map[H]struct{}
}

// NewRooms creates an empty room set.
func NewRooms[H comparable]() *Rooms[H] {
	return &Rooms[H]{rooms: make(map[string]map[H]struct{})}
}

// Join adds h to the named room.
func (r *Rooms[H]) Join(room string, h H) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[H]struct{})
		r.rooms[room] = members
	}
	members[h] = struct{}{}
}

// Leave removes h from the named room. Empty rooms are dropped.
func (r *Rooms[H]) Leave(room string, h H) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, h)
}

// LeaveAll removes h from every room it joined.
func (r *Rooms[H]) LeaveAll(h H) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.rooms {
		r.leaveLocked(room, h)
	}
}

func (r *Rooms[H]) leaveLocked(room string, h H) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, h)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Members returns a snapshot of the handles in room.
func (r *Rooms[H]) Members(room string) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]H, 0, len(members))
	for h := range members {
		out = append(out, h)
	}
	return out
}

// Names returns the sorted names of non-empty rooms.
func (r *Rooms[H]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
