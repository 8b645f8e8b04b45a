// Package server adapts TCP and WebSocket connections to the line-oriented
// Conn interface the hub consumes.
package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// tcpConn carries newline-terminated lines over a stream socket.
type tcpConn struct {
	conn         net.Conn
	maxLine      int
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func newTCPConn(conn net.Conn, maxLine int, writeTimeout time.Duration) *tcpConn {
	return &tcpConn{conn: conn, maxLine: maxLine, writeTimeout: writeTimeout}
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// WriteLine writes line plus a newline, looping over short writes until the
// whole buffer is out or the write deadline expires.
func (c *tcpConn) WriteLine(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return writeFull(c.conn, []byte(line+"\n"))
}

func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		buf = buf[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// ReadLines reads newline-terminated lines of at most maxLine bytes. A longer
// line is discarded up to its newline and reported as ErrLineTooLong; an
// unterminated final chunk is delivered as a line before EOF is returned.
func (c *tcpConn) ReadLines(emit func(line string, err error) bool) error {
	reader := bufio.NewReaderSize(c.conn, c.maxLine)
	for {
		chunk, err := reader.ReadSlice('\n')
		switch {
		case err == nil:
			if !emit(string(chunk), nil) {
				return nil
			}

		case errors.Is(err, bufio.ErrBufferFull):
			if !emit("", ErrLineTooLong) {
				return nil
			}
			if err := discardLine(reader); err != nil {
				return err
			}

		default:
			if len(chunk) > 0 {
				emit(string(chunk), nil)
			}
			return err
		}
	}
}

// discardLine skips the remainder of an oversized line.
func discardLine(reader *bufio.Reader) error {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

// wsConn carries one line per WebSocket text frame.
type wsConn struct {
	conn         *websocket.Conn
	addr         string
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
	done         chan struct{}
}

func newWSConn(conn *websocket.Conn, addr string, maxLine int, writeTimeout time.Duration) *wsConn {
	conn.SetReadLimit(int64(maxLine))
	return &wsConn{
		conn:         conn,
		addr:         addr,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (c *wsConn) RemoteAddr() string {
	return c.addr
}

func (c *wsConn) WriteLine(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
			c.closeErr = err
		}
		if err := c.conn.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *wsConn) setupReadConnection() error {
	if err := c.conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	return nil
}

// keepAlive pings the peer until the connection is closed or stop fires.
// WriteControl may run concurrently with the hub's WriteMessage calls.
func (c *wsConn) keepAlive(stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
		case <-stop:
			return
		case <-c.done:
			return
		}
	}
}

// ReadLines splits every text frame on newlines and emits each non-empty
// line. Frames above the read limit end the connection with
// websocket.ErrReadLimit.
func (c *wsConn) ReadLines(emit func(line string, err error) bool) error {
	if err := c.setupReadConnection(); err != nil {
		return err
	}
	stop := make(chan struct{})
	defer close(stop)
	go c.keepAlive(stop)

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		for _, line := range bytes.Split(payload, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if !emit(string(line), nil) {
				return nil
			}
		}
	}
}
