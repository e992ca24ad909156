// Package rooms tracks live signaling connections and room membership.
//
// The registry is the single owner of connection lifetime state; every other
// component refers to connections by identifier only. Membership mutation and
// roster snapshots share one critical section, so a join burst always observes
// a consistent roster (no member discovered twice, none omitted mid-join).
package rooms

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyJoined is returned when a connection that already belongs to a
	// room attempts to join again. The prior membership is left unchanged.
	ErrAlreadyJoined = errors.New("connection already joined a room")

	// ErrUnknownConnection is returned for operations on identifiers that were
	// never registered or have already been unregistered.
	ErrUnknownConnection = errors.New("unknown connection")
)

// Member is one entry of a room roster snapshot.
type Member struct {
	ConnectionID string `json:"connectionId"`
	Username     string `json:"username"`
}

type connState struct {
	roomID   string
	username string
}

// Registry implements the connection registry and the room directory.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*connState
	members map[string]map[string]struct{} // roomID -> connection IDs
}

func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[string]*connState),
		members: make(map[string]map[string]struct{}),
	}
}

// Register allocates a fresh identifier for a newly opened transport. The
// connection has no room membership until Join.
func (r *Registry) Register() string {
	id := uuid.NewString()
	r.mu.Lock()
	r.conns[id] = &connState{}
	r.mu.Unlock()
	return id
}

// Join records room membership and the display name for the connection and
// returns the roster of all other members as of this instant.
func (r *Registry) Join(connID, roomID, username string) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil, ErrUnknownConnection
	}
	if c.roomID != "" {
		return nil, ErrAlreadyJoined
	}

	c.roomID = roomID
	c.username = username

	set, ok := r.members[roomID]
	if !ok {
		set = make(map[string]struct{})
		r.members[roomID] = set
	}
	set[connID] = struct{}{}

	return r.rosterLocked(roomID, connID), nil
}

// Leave removes the connection from its room. The room entry is reclaimed
// when its membership reaches zero. Leaving while not in a room is a no-op.
// The room the connection belonged to is returned so callers can notify the
// remaining members.
func (r *Registry) Leave(connID string) (roomID string, left bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(connID)
}

func (r *Registry) leaveLocked(connID string) (string, bool) {
	c, ok := r.conns[connID]
	if !ok || c.roomID == "" {
		return "", false
	}

	roomID := c.roomID
	c.roomID = ""
	c.username = ""

	if set, ok := r.members[roomID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.members, roomID)
		}
	}
	return roomID, true
}

// Unregister drops the connection entirely, leaving its room first if needed.
// Safe to call for identifiers that are already gone.
func (r *Registry) Unregister(connID string) (roomID string, left bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, left = r.leaveLocked(connID)
	delete(r.conns, connID)
	return roomID, left
}

// Roster returns a snapshot of the room's membership, sorted by connection
// identifier. An unknown room yields an empty roster.
func (r *Registry) Roster(roomID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked(roomID, "")
}

func (r *Registry) rosterLocked(roomID, exclude string) []Member {
	set := r.members[roomID]
	out := make([]Member, 0, len(set))
	for id := range set {
		if id == exclude {
			continue
		}
		out = append(out, Member{ConnectionID: id, Username: r.conns[id].username})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

// RoomOf reports the room the connection currently belongs to.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok || c.roomID == "" {
		return "", false
	}
	return c.roomID, true
}

// Username reports the display name recorded at join time.
func (r *Registry) Username(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok || c.roomID == "" {
		return "", false
	}
	return c.username, true
}
