// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the registry stats endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketHandler handles WebSocket upgrade requests and hands the upgraded
// connection to the hub, where it behaves exactly like a TCP client: every
// text frame carries one or more chat lines.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	s.hub.Start(newWSConn(conn, r.RemoteAddr, s.cfg.MaxLineBytes, s.cfg.WriteTimeout))
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat server is running!")
}

// StatsHandler reports session and room counts as JSON. The snapshot is
// taken on the hub goroutine.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	stats, err := s.hub.Stats(ctx)
	if err != nil {
		http.Error(w, "Stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.logger.Warn("writing stats response", "error", err)
	}
}
