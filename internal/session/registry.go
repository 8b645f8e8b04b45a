package session

import (
	"errors"
	"sort"
	"time"
)

// DefaultCapacity bounds how many sessions may be connected at once.
const DefaultCapacity = 100

var (
	// ErrCapacityExceeded is returned by Register when every slot is taken.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	// ErrNameTaken is returned by SetName when another live session holds the name.
	ErrNameTaken = errors.New("username already taken")
	// ErrDuplicateID is returned by Register for a handle already in use.
	ErrDuplicateID = errors.New("session id already registered")
)

// Registry is the fixed-capacity table of live sessions, indexed by handle
// and by display name. It is not safe for concurrent use; the event loop is
// its only caller.
type Registry struct {
	byID     map[string]*Session
	byName   map[string]*Session
	capacity int
}

// NewRegistry creates a registry holding at most capacity sessions.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		byID:     make(map[string]*Session, capacity),
		byName:   make(map[string]*Session, capacity),
		capacity: capacity,
	}
}

// Register adds an unnamed session for the connection identified by id.
// The caller must reject the connection on ErrCapacityExceeded.
func (r *Registry) Register(id string, conn Transport, now time.Time) (*Session, error) {
	if _, exists := r.byID[id]; exists {
		return nil, ErrDuplicateID
	}
	if len(r.byID) >= r.capacity {
		return nil, ErrCapacityExceeded
	}
	s := &Session{
		ID:           id,
		Addr:         conn.RemoteAddr(),
		ConnectedAt:  now,
		LastActivity: now,
		conn:         conn,
	}
	r.byID[id] = s
	return s, nil
}

// Lookup returns the session registered under id, or nil.
func (r *Registry) Lookup(id string) *Session {
	return r.byID[id]
}

// LookupByName returns the live session using name (exact, case-sensitive), or nil.
func (r *Registry) LookupByName(name string) *Session {
	return r.byName[name]
}

// SetName assigns name to s. The registry is left unchanged when the name is
// invalid or held by another session.
func (r *Registry) SetName(s *Session, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if holder, taken := r.byName[name]; taken && holder != s {
		return ErrNameTaken
	}
	if s.Name != "" {
		delete(r.byName, s.Name)
	}
	s.Name = name
	r.byName[name] = s
	return nil
}

// Remove releases the session's slot and clears its identity.
// It reports whether the session was registered.
func (r *Registry) Remove(s *Session) bool {
	if r.byID[s.ID] != s {
		return false
	}
	delete(r.byID, s.ID)
	if s.Name != "" && r.byName[s.Name] == s {
		delete(r.byName, s.Name)
	}
	s.Name = ""
	s.Room = ""
	return true
}

// Touch records activity for idle-timeout accounting.
func (r *Registry) Touch(s *Session, now time.Time) {
	s.LastActivity = now
}

// InRoom returns the live sessions whose current room is room, ordered by
// connection time.
func (r *Registry) InRoom(room string) []*Session {
	var out []*Session
	for _, s := range r.byID {
		if s.Room == room {
			out = append(out, s)
		}
	}
	sortByConnect(out)
	return out
}

// CountInRoom reports how many live sessions are in room.
func (r *Registry) CountInRoom(room string) int {
	n := 0
	for _, s := range r.byID {
		if s.Room == room {
			n++
		}
	}
	return n
}

// All returns every live session ordered by connection time.
func (r *Registry) All() []*Session {
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	sortByConnect(out)
	return out
}

// IdleSince returns the sessions whose last activity is before cutoff.
func (r *Registry) IdleSince(cutoff time.Time) []*Session {
	var out []*Session
	for _, s := range r.All() {
		if s.LastActivity.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	return len(r.byID)
}

// Cap reports the registry capacity.
func (r *Registry) Cap() int {
	return r.capacity
}

func sortByConnect(sessions []*Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].ConnectedAt.Equal(sessions[j].ConnectedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})
}
