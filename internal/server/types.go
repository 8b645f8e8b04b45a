// Package server defines the connection abstraction and event types that
// flow from connection goroutines into the hub.
package server

import (
	"errors"
	"strings"

	"github.com/Tyrowin/roomchat/internal/session"
)

var (
	// ErrLineTooLong is reported to a client whose line exceeded MaxLineBytes.
	ErrLineTooLong = errors.New("message too long")
	// ErrRateLimited is reported to a client sending lines faster than allowed.
	ErrRateLimited = errors.New("rate limit exceeded, message dropped")
	// ErrHubStopped is returned by hub queries once the event loop has exited.
	ErrHubStopped = errors.New("hub stopped")
)

// Conn is a client connection the hub can read lines from and write lines to.
// ReadLines blocks, handing every received line (or a per-line error such as
// ErrLineTooLong) to emit until emit returns false or the connection fails.
type Conn interface {
	session.Transport
	ReadLines(emit func(line string, err error) bool) error
}

// inbound is one read result travelling from a connection goroutine to the hub.
type inbound struct {
	id   string
	line string
	err  error
}

// pendingConn asks the hub to register a freshly accepted connection.
type pendingConn struct {
	id    string
	conn  Conn
	reply chan bool
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
