package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const testOrigin = "http://localhost:8080"

// newRunningServer returns a Server whose hub is running and an httptest
// server exposing its routes.
func newRunningServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(cfg, discardLogger())
	go srv.Hub().Run(context.Background())

	ts := httptest.NewServer(SetupRoutes(srv))
	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(2 * time.Second)
		ts.Close()
	})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWS(t *testing.T, ts *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	return dialer.Dial(wsURL(ts), header)
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	return string(payload)
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Chat server is running!", rec.Body.String())
}

func TestSetupRoutes_MethodValidation(t *testing.T) {
	_, ts := newRunningServer(t, Config{})

	for _, path := range []string{"/ws", "/stats"} {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			req, err := http.NewRequest(method, ts.URL+path, http.NoBody)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, "%s %s", method, path)
		}
	}
}

func TestStatsHandler(t *testing.T) {
	_, ts := newRunningServer(t, Config{MaxSessions: 7, AllowedOrigins: []string{testOrigin}})

	conn, resp, err := dialWS(t, ts, testOrigin)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer conn.Close()
	assert.Equal(t, greeting, readFrame(t, conn))

	resp, err = http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var stats chat.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, 0, stats.NamedSessions)
	assert.Equal(t, 7, stats.SessionCapacity)
	require.Len(t, stats.Rooms, 1)
	assert.Equal(t, "lobby", stats.Rooms[0].Name)
}

func TestStatsHandler_HubStopped(t *testing.T) {
	srv := New(Config{}, discardLogger())
	go srv.Hub().Run(context.Background())
	require.NoError(t, srv.Hub().Shutdown(2*time.Second))

	rec := httptest.NewRecorder()
	srv.StatsHandler(rec, httptest.NewRequest(http.MethodGet, "/stats", http.NoBody))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebSocketHandler_ChatRoundTrip(t *testing.T) {
	_, ts := newRunningServer(t, Config{AllowedOrigins: []string{testOrigin}})

	alice, resp, err := dialWS(t, ts, testOrigin)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer alice.Close()
	assert.Equal(t, greeting, readFrame(t, alice))

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("/name Alice")))
	assert.Equal(t, "[SERVER] Welcome, Alice! You are in 'lobby'. Type /help for commands.", readFrame(t, alice))

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("hello there\n\n/ping")))
	assert.Contains(t, readFrame(t, alice), "Alice: hello there")
	assert.Contains(t, readFrame(t, alice), "[SERVER] PONG [")
}

func TestWebSocketHandler_RejectsDisallowedOrigin(t *testing.T) {
	_, ts := newRunningServer(t, Config{AllowedOrigins: []string{testOrigin}})

	for _, origin := range []string{"", "http://evil.example"} {
		conn, resp, err := dialWS(t, ts, origin)
		if conn != nil {
			_ = conn.Close()
		}
		require.Error(t, err, "origin %q", origin)
		require.NotNil(t, resp)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "origin %q: %s", origin, body)
	}
}

func TestWebSocketHandler_PlainGETIsNotUpgraded(t *testing.T) {
	_, ts := newRunningServer(t, Config{AllowedOrigins: []string{testOrigin}})

	resp, err := http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
