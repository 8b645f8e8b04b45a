package chat

import (
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/session"
)

// Delivery writes formatted lines to sessions. A failed write never aborts a
// fan-out; the recipient is queued and disconnected once the current event
// has been handled.
type Delivery struct {
	sessions *session.Registry
	logger   *slog.Logger
	failed   []*session.Session
}

// NewDelivery creates a Delivery over the given session registry.
func NewDelivery(sessions *session.Registry, logger *slog.Logger) *Delivery {
	return &Delivery{sessions: sessions, logger: logger}
}

// Send writes line to s and reports whether the whole line went out.
func (d *Delivery) Send(s *session.Session, line string) error {
	if err := s.Conn().WriteLine(line); err != nil {
		d.logger.Warn("write failed",
			"session_id", s.ID,
			"user", s.Name,
			"addr", s.Addr,
			"error", err)
		d.markFailed(s)
		return err
	}
	return nil
}

// Broadcast sends line to every live session in roomName except the one with
// handle excludeID, and returns how many writes succeeded.
func (d *Delivery) Broadcast(roomName, line, excludeID string) int {
	if roomName == "" {
		return 0
	}
	delivered := 0
	for _, s := range d.sessions.InRoom(roomName) {
		if s.ID == excludeID {
			continue
		}
		if d.Send(s, line) == nil {
			delivered++
		}
	}
	return delivered
}

// TakeFailed returns and clears the sessions whose writes failed.
func (d *Delivery) TakeFailed() []*session.Session {
	failed := d.failed
	d.failed = nil
	return failed
}

func (d *Delivery) markFailed(s *session.Session) {
	for _, f := range d.failed {
		if f == s {
			return
		}
	}
	d.failed = append(d.failed, s)
}
