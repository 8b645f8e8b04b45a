// Package testhelpers provides common utilities and helper functions for testing the chat server.
//
// It starts real servers on loopback ports and offers small line-oriented
// clients for the TCP and WebSocket transports so integration tests read as
// a script of what each user sends and sees.
package testhelpers

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/server"
)

// TestOrigin is the Origin header sent by WebSocket test clients.
const TestOrigin = "http://localhost:8080"

// Greeting is the first line every accepted connection receives.
const Greeting = "[SERVER] Connected to chat server. Set your username with /name <username>"

// DefaultTimeout bounds every blocking read made by the helpers.
const DefaultTimeout = 2 * time.Second

// RunningServer is a chat server started for a single test.
type RunningServer struct {
	*server.Server
	cancel context.CancelFunc
	errCh  chan error
}

// StartServer starts a server on loopback ports chosen by the kernel. customize
// may adjust the configuration first. The server is stopped when the test ends.
func StartServer(t *testing.T, customize func(cfg *server.Config)) *RunningServer {
	t.Helper()

	cfg := server.NewConfig()
	cfg.Port = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.AllowedOrigins = []string{TestOrigin}
	if customize != nil {
		customize(cfg)
	}

	srv := server.New(*cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := srv.Listen(); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs := &RunningServer{Server: srv, cancel: cancel, errCh: make(chan error, 1)}
	go func() {
		rs.errCh <- srv.Run(ctx)
	}()

	t.Cleanup(func() {
		if err := rs.Stop(15 * time.Second); err != nil {
			t.Errorf("Server stop: %v", err)
		}
	})
	return rs
}

// Stop cancels the server and waits for Run to return. Calling it again is safe.
func (rs *RunningServer) Stop(timeout time.Duration) error {
	rs.cancel()
	select {
	case err, ok := <-rs.errCh:
		if ok {
			close(rs.errCh)
		}
		return err
	case <-time.After(timeout):
		return errors.New("server did not stop in time")
	}
}

// TCPAddr returns the chat listener address.
func (rs *RunningServer) TCPAddr() string {
	return rs.Addr().String()
}

// BaseURL returns the http:// URL of the auxiliary endpoint.
func (rs *RunningServer) BaseURL() string {
	return "http://" + rs.HTTPAddr().String()
}

// WebSocketURL returns the ws:// URL of the WebSocket endpoint.
func (rs *RunningServer) WebSocketURL() string {
	return "ws://" + rs.HTTPAddr().String() + "/ws"
}

// LineClient is a TCP chat client that reads and writes whole lines.
type LineClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// DialTCP connects to addr and consumes the connection greeting.
func DialTCP(t *testing.T, addr string) *LineClient {
	t.Helper()
	c := DialTCPRaw(t, addr)
	c.Expect(Greeting)
	return c
}

// DialTCPRaw connects to addr without reading anything.
func DialTCPRaw(t *testing.T, addr string) *LineClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &LineClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

// Login connects and sets the username, consuming the welcome line and any
// lobby history replay.
func Login(t *testing.T, addr, name string) *LineClient {
	t.Helper()
	c := DialTCP(t, addr)
	c.Send("/name " + name)
	c.ExpectPrefix("[SERVER] Welcome, " + name + "!")
	c.SkipHistory()
	return c
}

// Send writes line followed by a newline.
func (c *LineClient) Send(line string) {
	c.t.Helper()
	c.SendRaw(line + "\n")
}

// SendRaw writes data as is.
func (c *LineClient) SendRaw(data string) {
	c.t.Helper()
	if err := c.conn.SetWriteDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		c.t.Fatalf("Failed to set write deadline: %v", err)
	}
	if _, err := io.WriteString(c.conn, data); err != nil {
		c.t.Fatalf("Failed to send %q: %v", data, err)
	}
}

// ReadLine returns the next line without its terminator.
func (c *LineClient) ReadLine(timeout time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return line, err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Next returns the next line, failing the test on timeout.
func (c *LineClient) Next() string {
	c.t.Helper()
	line, err := c.ReadLine(DefaultTimeout)
	if err != nil {
		c.t.Fatalf("Failed to read line: %v", err)
	}
	return line
}

// Expect reads the next line and checks it equals want.
func (c *LineClient) Expect(want string) {
	c.t.Helper()
	if got := c.Next(); got != want {
		c.t.Errorf("Expected line %q, got %q", want, got)
	}
}

// ExpectPrefix reads the next line and checks it starts with prefix.
func (c *LineClient) ExpectPrefix(prefix string) string {
	c.t.Helper()
	got := c.Next()
	if !strings.HasPrefix(got, prefix) {
		c.t.Errorf("Expected line starting with %q, got %q", prefix, got)
	}
	return got
}

// ExpectContains reads the next line and checks it contains substr.
func (c *LineClient) ExpectContains(substr string) string {
	c.t.Helper()
	got := c.Next()
	if !strings.Contains(got, substr) {
		c.t.Errorf("Expected line containing %q, got %q", substr, got)
	}
	return got
}

// ExpectNothing checks no line arrives within wait.
func (c *LineClient) ExpectNothing(wait time.Duration) {
	c.t.Helper()
	line, err := c.ReadLine(wait)
	if err == nil {
		c.t.Errorf("Expected no message, got %q", line)
		return
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		c.t.Errorf("Expected read timeout, got %v", err)
	}
}

// ExpectClosed reads until the server closes the connection.
func (c *LineClient) ExpectClosed() {
	c.t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		_, err := c.ReadLine(time.Until(deadline))
		if errors.Is(err, io.EOF) || isReset(err) {
			return
		}
		if err != nil {
			c.t.Fatalf("Expected connection close, got %v", err)
		}
	}
	c.t.Fatal("Connection was not closed by the server")
}

// SkipHistory consumes a history replay block if one is waiting.
func (c *LineClient) SkipHistory() {
	c.t.Helper()
	line, err := c.ReadLine(200 * time.Millisecond)
	if err != nil {
		return
	}
	if line != "[SERVER] --- Recent messages ---" {
		c.t.Fatalf("Unexpected line after welcome: %q", line)
	}
	for {
		if c.Next() == "[SERVER] --- End of history ---" {
			return
		}
	}
}

// Close closes the client side of the connection.
func (c *LineClient) Close() {
	_ = c.conn.Close()
}

func isReset(err error) bool {
	return err != nil && strings.Contains(err.Error(), "connection reset by peer")
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// ConnectWebSocket creates a WebSocket connection to url with the given Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// ReceiveLine reads one text frame from a WebSocket connection.
func ReceiveLine(conn *websocket.Conn, timeout time.Duration) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	_, payload, err := conn.ReadMessage()
	return string(payload), err
}

// SendLine writes one text frame to a WebSocket connection.
func SendLine(conn *websocket.Conn, line string) error {
	return conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
