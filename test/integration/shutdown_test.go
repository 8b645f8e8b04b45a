package integration

import (
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/test/testhelpers"
)

// TestGracefulShutdown verifies that the server stops cleanly with no clients.
func TestGracefulShutdown(t *testing.T) {
	srv := testhelpers.StartServer(t, nil)

	if err := srv.Stop(5 * time.Second); err != nil {
		t.Errorf("Server shutdown failed: %v", err)
	}
}

// TestGracefulShutdownWithClients verifies that every TCP and WebSocket client
// is told about the shutdown and then disconnected.
func TestGracefulShutdownWithClients(t *testing.T) {
	srv := testhelpers.StartServer(t, nil)

	const numTCP = 3
	tcpClients := make([]*testhelpers.LineClient, numTCP)
	for i := range tcpClients {
		tcpClients[i] = testhelpers.DialTCP(t, srv.TCPAddr())
	}

	wsClient, _, err := testhelpers.ConnectWebSocket(srv.WebSocketURL(), testhelpers.TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket client: %v", err)
	}
	defer wsClient.Close()
	if line, err := testhelpers.ReceiveLine(wsClient, testhelpers.DefaultTimeout); err != nil || line != testhelpers.Greeting {
		t.Fatalf("Expected greeting, got %q (%v)", line, err)
	}

	if err := srv.Stop(10 * time.Second); err != nil {
		t.Fatalf("Server shutdown failed: %v", err)
	}

	for _, c := range tcpClients {
		c.Expect("[SERVER] Server is shutting down.")
		c.ExpectClosed()
	}

	line, err := testhelpers.ReceiveLine(wsClient, testhelpers.DefaultTimeout)
	if err != nil || line != "[SERVER] Server is shutting down." {
		t.Fatalf("Expected shutdown notice over WebSocket, got %q (%v)", line, err)
	}
	_, err = testhelpers.ReceiveLine(wsClient, testhelpers.DefaultTimeout)
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal close frame, got %v", err)
	}
}

// TestConcurrentShutdown verifies Stop can be called from several goroutines.
func TestConcurrentShutdown(t *testing.T) {
	srv := testhelpers.StartServer(t, nil)
	testhelpers.DialTCP(t, srv.TCPAddr())

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			errs <- srv.Hub().Shutdown(5 * time.Second)
		}()
	}
	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Concurrent hub shutdown %d failed: %v", i, err)
		}
	}
}

// TestNoNewConnectionsAfterShutdown verifies the listener is closed once the
// server stops.
func TestNoNewConnectionsAfterShutdown(t *testing.T) {
	srv := testhelpers.StartServer(t, nil)
	addr := srv.TCPAddr()

	if err := srv.Stop(5 * time.Second); err != nil {
		t.Fatalf("Server shutdown failed: %v", err)
	}

	c, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err == nil {
		_ = c.Close()
		t.Error("Expected dial to fail after shutdown")
	}
}
