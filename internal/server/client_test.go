package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readResult struct {
	line string
	err  error
}

// collectLines feeds payload into a tcpConn and returns everything ReadLines
// emitted plus its final error.
func collectLines(t *testing.T, maxLine int, payload string) ([]readResult, error) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	conn := newTCPConn(serverSide, maxLine, time.Second)

	go func() {
		_, _ = io.WriteString(clientSide, payload)
		_ = clientSide.Close()
	}()

	var got []readResult
	err := conn.ReadLines(func(line string, err error) bool {
		got = append(got, readResult{line: line, err: err})
		return true
	})
	_ = conn.Close()
	return got, err
}

func TestTCPConn_ReadLines(t *testing.T) {
	got, err := collectLines(t, 64, "hello\r\n/join tech\nunterminated")

	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []readResult{
		{line: "hello\r\n"},
		{line: "/join tech\n"},
		{line: "unterminated"},
	}, got)
}

func TestTCPConn_ReadLinesTooLong(t *testing.T) {
	long := strings.Repeat("x", 150)
	got, err := collectLines(t, 64, long+"\nok\n")

	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, got, 2)
	assert.ErrorIs(t, got[0].err, ErrLineTooLong)
	assert.Equal(t, readResult{line: "ok\n"}, got[1], "the connection recovers after the oversized line")
}

func TestTCPConn_ReadLinesStopsWhenEmitDeclines(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	conn := newTCPConn(serverSide, 64, time.Second)
	defer conn.Close()

	go func() { _, _ = io.WriteString(clientSide, "one\ntwo\n") }()

	var lines []string
	err := conn.ReadLines(func(line string, _ error) bool {
		lines = append(lines, line)
		return false
	})

	assert.NoError(t, err)
	assert.Equal(t, []string{"one\n"}, lines)
}

func TestTCPConn_WriteLine(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	conn := newTCPConn(serverSide, 64, time.Second)

	received := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(clientSide).ReadString('\n')
		received <- line
	}()

	require.NoError(t, conn.WriteLine("[SERVER] hello"))
	assert.Equal(t, "[SERVER] hello\n", <-received)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "close is idempotent")
	assert.Error(t, conn.WriteLine("late"))
}

func TestTCPConn_WriteLineTimesOut(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	conn := newTCPConn(serverSide, 64, 20*time.Millisecond)
	defer conn.Close()

	err := conn.WriteLine("nobody is reading")

	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

type trickleWriter struct {
	buf     bytes.Buffer
	perCall int
}

func (w *trickleWriter) Write(p []byte) (int, error) {
	if len(p) > w.perCall {
		p = p[:w.perCall]
	}
	return w.buf.Write(p)
}

func TestWriteFull(t *testing.T) {
	w := &trickleWriter{perCall: 3}
	require.NoError(t, writeFull(w, []byte("a longer line\n")))
	assert.Equal(t, "a longer line\n", w.buf.String())

	stuck := &trickleWriter{perCall: 0}
	assert.ErrorIs(t, writeFull(stuck, []byte("x")), io.ErrShortWrite)
}
