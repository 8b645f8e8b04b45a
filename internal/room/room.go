// Package room keeps the table of active chat rooms and the bounded history
// each room replays to newcomers.
package room

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultName is the permanent room every named session starts in.
	DefaultName = "lobby"
	// DefaultCapacity bounds how many rooms may be active at once.
	DefaultCapacity = 50
	// MaxNameLen is the exclusive upper bound on a room name in bytes.
	MaxNameLen = 32
)

var (
	// ErrInvalidName is returned for empty, oversized or malformed room names.
	ErrInvalidName = errors.New("invalid room name")
	// ErrCapacityExceeded is returned when no room slot is free.
	ErrCapacityExceeded = errors.New("room capacity exceeded")
)

// Room is a named broadcast domain with its own history ring.
type Room struct {
	Name    string
	History *History
	seq     uint64
}

// Registry is the fixed-capacity table of active rooms. It is not safe for
// concurrent use; the event loop is its only caller.
type Registry struct {
	rooms       map[string]*Room
	capacity    int
	historySize int
	nextSeq     uint64
}

// NewRegistry creates a registry holding at most capacity rooms, each with a
// history of historySize lines. The default room is created immediately and
// counts against capacity.
func NewRegistry(capacity, historySize int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	r := &Registry{
		rooms:       make(map[string]*Room, capacity),
		capacity:    capacity,
		historySize: historySize,
	}
	r.add(DefaultName)
	return r
}

// ValidateName checks a room name: non-empty, shorter than MaxNameLen bytes,
// valid UTF-8 and free of whitespace or control characters.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if len(name) >= MaxNameLen {
		return fmt.Errorf("%w: name must be shorter than %d bytes", ErrInvalidName, MaxNameLen)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidName)
	}
	if strings.IndexFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return fmt.Errorf("%w: name contains whitespace or control characters", ErrInvalidName)
	}
	return nil
}

// Find returns the active room with exactly this name, or nil.
func (r *Registry) Find(name string) *Room {
	return r.rooms[name]
}

// Default returns the permanent default room.
func (r *Registry) Default() *Room {
	return r.rooms[DefaultName]
}

// GetOrCreate returns the room called name, creating it when absent.
// created reports whether a new room was made.
func (r *Registry) GetOrCreate(name string) (rm *Room, created bool, err error) {
	if err := ValidateName(name); err != nil {
		return nil, false, err
	}
	if existing, ok := r.rooms[name]; ok {
		return existing, false, nil
	}
	if len(r.rooms) >= r.capacity {
		return nil, false, ErrCapacityExceeded
	}
	return r.add(name), true, nil
}

func (r *Registry) add(name string) *Room {
	r.nextSeq++
	rm := &Room{
		Name:    name,
		History: NewHistory(r.historySize),
		seq:     r.nextSeq,
	}
	r.rooms[name] = rm
	return rm
}

// List returns the active rooms in creation order, default room first.
func (r *Registry) List() []*Room {
	out := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// CollectEmpty removes every non-default room for which occupants reports
// zero and returns the removed names in creation order.
func (r *Registry) CollectEmpty(occupants func(name string) int) []string {
	var removed []string
	for _, rm := range r.List() {
		if rm.Name == DefaultName || occupants(rm.Name) > 0 {
			continue
		}
		rm.History.Reset()
		delete(r.rooms, rm.Name)
		removed = append(removed, rm.Name)
	}
	return removed
}

// Len reports the number of active rooms.
func (r *Registry) Len() int {
	return len(r.rooms)
}

// Cap reports the registry capacity.
func (r *Registry) Cap() int {
	return r.capacity
}
