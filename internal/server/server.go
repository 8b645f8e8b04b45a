// Package server constructs and starts the chat service: the TCP listener,
// the optional WebSocket/health HTTP endpoint, and the hub behind both.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Server owns the listeners and the hub.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	hub     *Hub
	origins *originPolicy

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
	httpLn   net.Listener
}

// New creates a Server from cfg. Unset config values take their defaults.
func New(cfg Config, logger *slog.Logger) *Server {
	cfg = sanitizeConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		hub:     NewHub(cfg, logger),
		origins: newOriginPolicy(cfg.AllowedOrigins, logger),
	}
}

// Hub returns the event loop behind the server.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Listen binds the TCP chat listener and, when configured, the HTTP
// listener. It is split from Serve so callers can learn the bound addresses.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Port, err)
	}

	var httpLn net.Listener
	if s.cfg.HTTPAddr != "" {
		httpLn, err = net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen on %s: %w", s.cfg.HTTPAddr, err)
		}
	}

	s.mu.Lock()
	s.listener = ln
	s.httpLn = httpLn
	if httpLn != nil {
		s.http = CreateServer(httpLn.Addr().String(), SetupRoutes(s))
	}
	s.mu.Unlock()
	return nil
}

// Addr returns the bound TCP chat address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the bound HTTP address, or nil when disabled.
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// Run listens (if Listen was not called yet) and serves until ctx is
// cancelled or the listener fails. Every connection and listener is closed
// before it returns.
func (s *Server) Run(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	ln, httpSrv, httpLn := s.listener, s.http, s.httpLn
	s.mu.Unlock()

	s.logger.Info("chat server listening", "addr", ln.Addr().String())

	go s.hub.Run(ctx)

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.acceptLoop(ctx, ln)
	}()
	if httpSrv != nil {
		go func() {
			s.logger.Info("http endpoint listening", "addr", httpLn.Addr().String())
			if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		if runErr != nil {
			s.logger.Error("listener failed, shutting down", "error", runErr)
		}
	}
	cancel()

	if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
		s.logger.Warn("closing chat listener", "error", err)
	}
	if httpSrv != nil {
		if err := ShutdownServer(httpSrv, 5*time.Second, s.logger); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
	}
	if err := s.hub.Shutdown(10 * time.Second); err != nil {
		s.logger.Warn("hub shutdown", "error", err)
	}
	s.logger.Info("chat server stopped")
	return runErr
}

// acceptLoop accepts TCP connections until the listener is closed. It returns
// nil on an orderly close and the accept error otherwise.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Warn("temporary accept error", "error", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.hub.Start(newTCPConn(conn, s.cfg.MaxLineBytes, s.cfg.WriteTimeout))
	}
}
