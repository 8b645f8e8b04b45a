// Package chat turns client input lines into registry changes and outgoing
// lines: command parsing, the command handlers, room fan-out and session
// cleanup all live here.
package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/room"
	"github.com/Tyrowin/roomchat/internal/session"
)

// DefaultTypingCooldown is the minimum gap between two typing notices from
// the same session.
const DefaultTypingCooldown = 3 * time.Second

// CommandPrefix marks a line as a command rather than chat text.
const CommandPrefix = "/"

// Config tunes the dispatcher.
type Config struct {
	TypingCooldown time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

type commandFunc func(d *Dispatcher, s *session.Session, args string) error

// Dispatcher maps input lines to handlers operating on the session and room
// registries. It is not safe for concurrent use: the event loop owns it
// together with the registries it was built over.
type Dispatcher struct {
	sessions       *session.Registry
	rooms          *room.Registry
	delivery       *Delivery
	logger         *slog.Logger
	now            func() time.Time
	typingCooldown time.Duration
	commands       map[string]commandFunc
}

// NewDispatcher wires a dispatcher to the registries it mutates.
func NewDispatcher(sessions *session.Registry, rooms *room.Registry, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TypingCooldown <= 0 {
		cfg.TypingCooldown = DefaultTypingCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		sessions:       sessions,
		rooms:          rooms,
		delivery:       NewDelivery(sessions, logger),
		logger:         logger,
		now:            cfg.Now,
		typingCooldown: cfg.TypingCooldown,
		commands:       defaultCommands(),
	}
}

// Sessions exposes the session registry the dispatcher mutates.
func (d *Dispatcher) Sessions() *session.Registry {
	return d.sessions
}

// Rooms exposes the room registry the dispatcher mutates.
func (d *Dispatcher) Rooms() *room.Registry {
	return d.rooms
}

// Connect registers a new connection under id and greets it. When the
// session table is full the connection is told so, closed, and
// session.ErrCapacityExceeded is returned.
func (d *Dispatcher) Connect(id string, conn session.Transport) (*session.Session, error) {
	s, err := d.sessions.Register(id, conn, d.now())
	if err != nil {
		if errors.Is(err, session.ErrCapacityExceeded) {
			_ = conn.WriteLine("[ERROR] Server is full.")
		}
		if closeErr := conn.Close(); closeErr != nil {
			d.logger.Debug("close of rejected connection failed", "addr", conn.RemoteAddr(), "error", closeErr)
		}
		d.logger.Warn("connection rejected", "addr", conn.RemoteAddr(), "error", err)
		return nil, err
	}

	d.logger.Info("new connection",
		"session_id", s.ID,
		"addr", s.Addr,
		"sessions", d.sessions.Len())
	_ = d.delivery.Send(s, serverLine("Connected to chat server. Set your username with /name <username>"))
	return s, nil
}

// Dispatch handles one line of input from s. The trailing line terminator,
// if any, is stripped; blank lines are ignored.
func (d *Dispatcher) Dispatch(s *session.Session, line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	// Outgoing lines become WebSocket text frames, which must be valid UTF-8.
	line = strings.ToValidUTF8(line, "\uFFFD")
	if d.sessions.Lookup(s.ID) != s {
		return
	}
	d.sessions.Touch(s, d.now())

	var err error
	if strings.HasPrefix(line, CommandPrefix) {
		name, args := splitToken(strings.TrimPrefix(line, CommandPrefix))
		handler, ok := d.commands[name]
		if !ok {
			err = ErrUnknownCommand
		} else {
			err = handler(d, s, args)
		}
	} else {
		err = d.chat(s, line)
	}

	if err != nil {
		d.logger.Debug("command rejected",
			"session_id", s.ID,
			"user", s.Name,
			"input", line,
			"error", err)
		d.Notify(s, err)
	}
	d.DropFailed()
}

// Notify sends err to s as an [ERROR] line.
func (d *Dispatcher) Notify(s *session.Session, err error) {
	_ = d.delivery.Send(s, errorLine(err))
}

// Disconnect releases s: the session slot is freed, the transport closed,
// the room told if the session had an identity, and empty rooms collected.
// Calling it for an already released session does nothing.
func (d *Dispatcher) Disconnect(s *session.Session, reason string) {
	if d.sessions.Lookup(s.ID) != s {
		return
	}
	name, roomName := s.Name, s.Room
	d.sessions.Remove(s)
	if err := s.Conn().Close(); err != nil {
		d.logger.Debug("close failed", "session_id", s.ID, "error", err)
	}

	if name != "" {
		d.delivery.Broadcast(roomName, noticeLine(d.now(), name, "disconnected"), "")
	}
	d.logger.Info("connection closed",
		"session_id", s.ID,
		"addr", s.Addr,
		"user", name,
		"room", roomName,
		"reason", reason,
		"sessions", d.sessions.Len())
	d.CollectEmptyRooms()
}

// DropFailed disconnects every session a write has failed on, including
// those that fail while the departure notices go out.
func (d *Dispatcher) DropFailed() {
	for {
		failed := d.delivery.TakeFailed()
		if len(failed) == 0 {
			return
		}
		for _, s := range failed {
			d.Disconnect(s, "write failed")
		}
	}
}

// EvictIdle notifies and disconnects every session without activity since
// cutoff, and returns how many were evicted.
func (d *Dispatcher) EvictIdle(cutoff time.Time) int {
	idle := d.sessions.IdleSince(cutoff)
	for _, s := range idle {
		d.logger.Info("session timed out",
			"session_id", s.ID,
			"user", s.Name,
			"idle", d.now().Sub(s.LastActivity).Round(time.Second))
		_ = d.delivery.Send(s, serverLine("Disconnected due to inactivity."))
		d.Disconnect(s, "idle timeout")
	}
	d.DropFailed()
	return len(idle)
}

// CollectEmptyRooms removes every non-default room nobody is in.
func (d *Dispatcher) CollectEmptyRooms() {
	for _, name := range d.rooms.CollectEmpty(d.sessions.CountInRoom) {
		d.logger.Info("empty room removed", "room", name)
	}
}

// Shutdown tells every session the server is going away and closes them all.
func (d *Dispatcher) Shutdown() {
	for _, s := range d.sessions.All() {
		_ = d.delivery.Send(s, serverLine("Server is shutting down."))
		d.sessions.Remove(s)
		if err := s.Conn().Close(); err != nil {
			d.logger.Debug("close failed", "session_id", s.ID, "error", err)
		}
	}
	d.delivery.TakeFailed()
}

// RoomStats describes one active room.
type RoomStats struct {
	Name       string `json:"name"`
	Occupants  int    `json:"occupants"`
	HistoryLen int    `json:"history_len"`
}

// Stats is a point-in-time view of the registries.
type Stats struct {
	Sessions        int         `json:"sessions"`
	NamedSessions   int         `json:"named_sessions"`
	SessionCapacity int         `json:"session_capacity"`
	RoomCapacity    int         `json:"room_capacity"`
	Rooms           []RoomStats `json:"rooms"`
}

// Stats snapshots the registries.
func (d *Dispatcher) Stats() Stats {
	st := Stats{
		Sessions:        d.sessions.Len(),
		SessionCapacity: d.sessions.Cap(),
		RoomCapacity:    d.rooms.Cap(),
	}
	for _, s := range d.sessions.All() {
		if s.Named() {
			st.NamedSessions++
		}
	}
	for _, rm := range d.rooms.List() {
		st.Rooms = append(st.Rooms, RoomStats{
			Name:       rm.Name,
			Occupants:  d.sessions.CountInRoom(rm.Name),
			HistoryLen: rm.History.Len(),
		})
	}
	return st
}

// splitToken returns the first whitespace-delimited token of s and the rest
// of s with leading whitespace removed.
func splitToken(s string) (token, rest string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i+1:], " \t")
}

func (d *Dispatcher) replayHistory(s *session.Session, rm *room.Room) {
	lines := rm.History.Snapshot()
	if len(lines) == 0 {
		return
	}
	_ = d.delivery.Send(s, serverLine("--- Recent messages ---"))
	for _, line := range lines {
		_ = d.delivery.Send(s, line)
	}
	_ = d.delivery.Send(s, serverLine("--- End of history ---"))
}

func (d *Dispatcher) roomFor(s *session.Session) (*room.Room, error) {
	rm := d.rooms.Find(s.Room)
	if rm == nil {
		return nil, fmt.Errorf("room %q no longer exists", s.Room)
	}
	return rm, nil
}
