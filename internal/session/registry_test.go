package session_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/session"
)

type stubTransport struct{ addr string }

func (s stubTransport) WriteLine(string) error { return nil }
func (s stubTransport) Close() error           { return nil }
func (s stubTransport) RemoteAddr() string     { return s.addr }

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func register(t *testing.T, r *session.Registry, id string, at time.Time) *session.Session {
	t.Helper()
	s, err := r.Register(id, stubTransport{addr: "127.0.0.1:" + id}, at)
	require.NoError(t, err)
	return s
}

func TestRegistry_Register(t *testing.T) {
	r := session.NewRegistry(2)

	s := register(t, r, "1", epoch)
	assert.Equal(t, "1", s.ID)
	assert.Equal(t, "127.0.0.1:1", s.Addr)
	assert.Empty(t, s.Name)
	assert.Empty(t, s.Room)
	assert.False(t, s.Named())
	assert.Equal(t, epoch, s.LastActivity)
	assert.Same(t, s, r.Lookup("1"))

	_, err := r.Register("1", stubTransport{}, epoch)
	assert.ErrorIs(t, err, session.ErrDuplicateID)
}

func TestRegistry_RegisterCapacity(t *testing.T) {
	r := session.NewRegistry(2)
	register(t, r, "1", epoch)
	register(t, r, "2", epoch)

	_, err := r.Register("3", stubTransport{}, epoch)
	require.ErrorIs(t, err, session.ErrCapacityExceeded)
	assert.Nil(t, r.Lookup("3"))
	assert.Equal(t, 2, r.Len())

	r.Remove(r.Lookup("1"))
	register(t, r, "3", epoch)
}

func TestRegistry_SetNameTaken(t *testing.T) {
	r := session.NewRegistry(10)
	a := register(t, r, "a", epoch)
	b := register(t, r, "b", epoch)

	require.NoError(t, r.SetName(a, "Alice"))
	err := r.SetName(b, "Alice")

	assert.ErrorIs(t, err, session.ErrNameTaken)
	assert.Empty(t, b.Name, "requester must stay unnamed")
	assert.Same(t, a, r.LookupByName("Alice"))
}

func TestRegistry_NamesPairwiseDistinct(t *testing.T) {
	r := session.NewRegistry(20)
	names := []string{"Alice", "Bob", "Alice", "alice", "Bob", "Carol"}

	for i, name := range names {
		s := register(t, r, fmt.Sprint(i), epoch.Add(time.Duration(i)))
		_ = r.SetName(s, name)
	}

	seen := make(map[string]int)
	for _, s := range r.All() {
		if s.Named() {
			seen[s.Name]++
		}
	}
	for name, count := range seen {
		assert.Equal(t, 1, count, "name %q held by more than one session", name)
	}
	assert.Len(t, seen, 4)
}

func TestRegistry_SetNameValidation(t *testing.T) {
	r := session.NewRegistry(10)
	s := register(t, r, "a", epoch)

	for _, bad := range []string{"", strings.Repeat("x", session.MaxNameLen), "two words", "bell\a"} {
		err := r.SetName(s, bad)
		assert.ErrorIs(t, err, session.ErrInvalidName, "name %q", bad)
	}
	assert.Empty(t, s.Name)
	assert.NoError(t, r.SetName(s, strings.Repeat("x", session.MaxNameLen-1)))
}

func TestRegistry_RenameReleasesOldName(t *testing.T) {
	r := session.NewRegistry(10)
	a := register(t, r, "a", epoch)
	b := register(t, r, "b", epoch)

	require.NoError(t, r.SetName(a, "Alice"))
	require.NoError(t, r.SetName(a, "Alicia"))

	assert.Nil(t, r.LookupByName("Alice"))
	assert.Same(t, a, r.LookupByName("Alicia"))
	assert.NoError(t, r.SetName(b, "Alice"))
}

func TestRegistry_LookupByNameIsCaseSensitive(t *testing.T) {
	r := session.NewRegistry(10)
	a := register(t, r, "a", epoch)
	require.NoError(t, r.SetName(a, "Alice"))

	assert.Nil(t, r.LookupByName("alice"))
	assert.Same(t, a, r.LookupByName("Alice"))
}

func TestRegistry_Remove(t *testing.T) {
	r := session.NewRegistry(10)
	a := register(t, r, "a", epoch)
	require.NoError(t, r.SetName(a, "Alice"))
	a.Room = "lobby"

	assert.True(t, r.Remove(a))
	assert.False(t, r.Remove(a), "second remove is a no-op")
	assert.Nil(t, r.Lookup("a"))
	assert.Nil(t, r.LookupByName("Alice"))
	assert.Empty(t, a.Name)
	assert.Empty(t, a.Room)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RoomQueries(t *testing.T) {
	r := session.NewRegistry(10)
	a := register(t, r, "a", epoch)
	b := register(t, r, "b", epoch.Add(time.Second))
	c := register(t, r, "c", epoch.Add(2*time.Second))
	a.Room, b.Room, c.Room = "lobby", "tech", "lobby"

	assert.Equal(t, []*session.Session{a, c}, r.InRoom("lobby"))
	assert.Equal(t, 2, r.CountInRoom("lobby"))
	assert.Equal(t, 1, r.CountInRoom("tech"))
	assert.Equal(t, 0, r.CountInRoom("nowhere"))
}

func TestRegistry_TouchAndIdleSince(t *testing.T) {
	r := session.NewRegistry(10)
	a := register(t, r, "a", epoch)
	b := register(t, r, "b", epoch)

	r.Touch(b, epoch.Add(10*time.Minute))

	idle := r.IdleSince(epoch.Add(5 * time.Minute))
	assert.Equal(t, []*session.Session{a}, idle)
}
