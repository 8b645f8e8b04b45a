// Package server coordinates connection registration, line dispatch, and
// periodic maintenance for the chat system via the Hub type.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/room"
	"github.com/Tyrowin/roomchat/internal/session"
)

// Hub is the chat event loop. A single goroutine (Run) owns the session and
// room registries and the dispatcher; connection goroutines only read bytes,
// split them into lines and hand them over through channels.
type Hub struct {
	cfg        Config
	dispatcher *chat.Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	register   chan pendingConn
	inbound    chan inbound
	unregister chan string
	queries    chan func(*chat.Dispatcher)

	ticks int

	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHub creates a hub with empty registries (plus the default room) sized
// from cfg. The returned Hub is ready to Run.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	return newHub(cfg, logger, time.Now)
}

func newHub(cfg Config, logger *slog.Logger, now func() time.Time) *Hub {
	cfg = sanitizeConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	sessions := session.NewRegistry(cfg.MaxSessions)
	rooms := room.NewRegistry(cfg.MaxRooms, cfg.HistorySize)
	dispatcher := chat.NewDispatcher(sessions, rooms, chat.Config{
		TypingCooldown: cfg.TypingCooldown,
		Now:            now,
	}, logger)

	return &Hub{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		now:        now,
		register:   make(chan pendingConn),
		inbound:    make(chan inbound),
		unregister: make(chan string),
		queries:    make(chan func(*chat.Dispatcher)),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run is the event loop. It returns once ctx is cancelled or Shutdown is
// called, after closing every session connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.cancel()

	ticker := time.NewTicker(h.cfg.TickInterval)
	defer ticker.Stop()

	h.logger.Info("hub started",
		"max_sessions", h.cfg.MaxSessions,
		"max_rooms", h.cfg.MaxRooms,
		"idle_timeout", h.cfg.IdleTimeout)

	for {
		select {
		case <-ctx.Done():
			h.stop()
			return
		case <-h.ctx.Done():
			h.stop()
			return

		case p := <-h.register:
			_, err := h.dispatcher.Connect(p.id, p.conn)
			p.reply <- err == nil

		case ev := <-h.inbound:
			h.handleInbound(ev)

		case id := <-h.unregister:
			if s := h.dispatcher.Sessions().Lookup(id); s != nil {
				h.dispatcher.Disconnect(s, "connection closed")
				h.dispatcher.DropFailed()
			}

		case query := <-h.queries:
			query(h.dispatcher)

		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Hub) handleInbound(ev inbound) {
	s := h.dispatcher.Sessions().Lookup(ev.id)
	if s == nil {
		// Line from a connection that was already released.
		return
	}
	if ev.err != nil {
		h.dispatcher.Notify(s, ev.err)
		h.dispatcher.DropFailed()
		return
	}
	h.dispatcher.Dispatch(s, ev.line)
}

// tick counts timer ticks and runs maintenance every MaintenanceEvery ticks.
func (h *Hub) tick() {
	h.ticks++
	if h.ticks < h.cfg.MaintenanceEvery {
		return
	}
	h.ticks = 0
	h.maintain()
}

// maintain evicts idle sessions and collects empty rooms.
func (h *Hub) maintain() {
	evicted := h.dispatcher.EvictIdle(h.now().Add(-h.cfg.IdleTimeout))
	h.dispatcher.CollectEmptyRooms()
	if evicted > 0 {
		h.logger.Info("maintenance pass", "evicted", evicted, "sessions", h.dispatcher.Sessions().Len())
	}
}

func (h *Hub) stop() {
	h.mu.Lock()
	h.stopping = true
	h.mu.Unlock()

	n := h.dispatcher.Sessions().Len()
	h.logger.Info("shutting down all client connections", "sessions", n)
	h.dispatcher.Shutdown()
}

// Start serves conn on its own goroutine: the connection is registered with
// the event loop and its lines are fed in until it closes. It returns false,
// closing conn, when the hub is stopping.
func (h *Hub) Start(conn Conn) bool {
	h.mu.Lock()
	if h.stopping || h.ctx.Err() != nil {
		h.mu.Unlock()
		h.closeConn(conn)
		return false
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		h.serve(conn)
	}()
	return true
}

func (h *Hub) serve(conn Conn) {
	id := uuid.NewString()
	if !h.attach(id, conn) {
		return
	}

	limiter := newRateLimiter(h.cfg.RateLimit, nil)
	err := conn.ReadLines(func(line string, lineErr error) bool {
		if lineErr == nil && !limiter.allow() {
			h.logger.Warn("rate limit exceeded; discarding line",
				"session_id", id,
				"addr", conn.RemoteAddr(),
				"burst", h.cfg.RateLimit.Burst,
				"interval", h.cfg.RateLimit.RefillInterval)
			lineErr = ErrRateLimited
		}
		return h.deliver(inbound{id: id, line: line, err: lineErr})
	})
	h.logReadError(id, conn, err)

	select {
	case h.unregister <- id:
	case <-h.ctx.Done():
	}
}

// attach hands a new connection to the loop and waits for the verdict.
func (h *Hub) attach(id string, conn Conn) bool {
	reply := make(chan bool, 1)
	select {
	case h.register <- pendingConn{id: id, conn: conn, reply: reply}:
	case <-h.ctx.Done():
		h.closeConn(conn)
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-h.ctx.Done():
		h.closeConn(conn)
		return false
	}
}

func (h *Hub) deliver(ev inbound) bool {
	select {
	case h.inbound <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) logReadError(id string, conn Conn, err error) {
	switch {
	case err == nil:
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		h.logger.Debug("connection read finished", "session_id", id, "addr", conn.RemoteAddr(), "error", err)
	default:
		h.logger.Warn("connection read error", "session_id", id, "addr", conn.RemoteAddr(), "error", err)
	}
}

func (h *Hub) closeConn(conn Conn) {
	if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
		h.logger.Debug("close failed", "addr", conn.RemoteAddr(), "error", err)
	}
}

// Stats asks the event loop for a snapshot of the registries.
func (h *Hub) Stats(ctx context.Context) (chat.Stats, error) {
	reply := make(chan chat.Stats, 1)
	query := func(d *chat.Dispatcher) { reply <- d.Stats() }

	select {
	case h.queries <- query:
	case <-ctx.Done():
		return chat.Stats{}, ctx.Err()
	case <-h.ctx.Done():
		return chat.Stats{}, ErrHubStopped
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return chat.Stats{}, ctx.Err()
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Shutdown stops the event loop and waits for every connection goroutine to
// finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.mu.Lock()
	h.stopping = true
	h.mu.Unlock()
	h.cancel()

	deadline := time.After(timeout)
	select {
	case <-h.done:
	case <-deadline:
		h.logger.Warn("hub shutdown timeout reached before the event loop exited")
		return context.DeadlineExceeded
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-deadline:
		h.logger.Warn("hub shutdown timeout reached, some connection goroutines may still be running")
		return context.DeadlineExceeded
	}
}
