// Package session tracks connected chat clients: their identity, current room
// and activity timestamps.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxNameLen is the exclusive upper bound on a display name in bytes.
const MaxNameLen = 32

// ErrInvalidName is returned for empty, oversized or malformed display names.
var ErrInvalidName = errors.New("invalid username")

// Transport is the write side of a client connection. Implementations must
// write the whole line or return an error.
type Transport interface {
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
}

// Session is the server-side record of one connected client. The zero Name
// means the client has not picked a display name yet.
type Session struct {
	ID           string
	Name         string
	Room         string
	Addr         string
	ConnectedAt  time.Time
	LastActivity time.Time
	LastTyping   time.Time

	conn Transport
}

// Conn returns the transport the session writes to.
func (s *Session) Conn() Transport {
	return s.conn
}

// Named reports whether the session has an identity.
func (s *Session) Named() bool {
	return s.Name != ""
}

// Label returns the display name, or the remote address for unnamed sessions.
func (s *Session) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Addr
}

// ValidateName checks a display name: non-empty, shorter than MaxNameLen
// bytes, valid UTF-8 and free of whitespace or control characters.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	case len(name) >= MaxNameLen:
		return fmt.Errorf("%w: name must be shorter than %d bytes", ErrInvalidName, MaxNameLen)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidName)
	case strings.IndexFunc(name, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0:
		return fmt.Errorf("%w: name contains whitespace or control characters", ErrInvalidName)
	}
	return nil
}
