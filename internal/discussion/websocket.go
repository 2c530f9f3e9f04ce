package discussion

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/classroom-labs/internal/domain"
	"github.com/ashureev/classroom-labs/internal/identity"
)

const (
	writeTimeout = 10 * time.Second
	// humanQueue is how many human messages may wait for the human's turn.
	humanQueue = 8
)

// errClientExit ends a connection that asked to terminate while idle.
var errClientExit = errors.New("discussion: client exit")

// WebSocketHandler serves discussions over WebSocket. Each connection can run
// one discussion at a time, and the [SessionManager] admits one across the
// whole server.
type WebSocketHandler struct {
	driver        *Driver
	sm            *SessionManager
	roster        *domain.Roster
	kickoff       string
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a handler. kickoff opens discussions started
// without text of their own.
func NewWebSocketHandler(driver *Driver, sm *SessionManager, roster *domain.Roster, kickoff, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		driver:        driver,
		sm:            sm,
		roster:        roster,
		kickoff:       kickoff,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "client_id", clientID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "client_id", clientID)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &connection{h: h, ws: ws, clientID: clientID}
	if err := c.Emit(ctx, SystemMessage(GreetingNotice)); err != nil {
		slog.Debug("Failed to send greeting", "error", err, "client_id", clientID)
		_ = ws.CloseNow()
		return
	}

	commands := make(chan Command)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.readLoop(gctx, commands)
	})

	g.Go(func() error {
		err := c.serve(gctx, commands)
		reason := "discussion closed"
		switch {
		case errors.Is(err, ErrDiscussionActive):
			reason, err = "discussion in progress", nil
		case errors.Is(err, errClientExit):
			err = nil
		}
		if closeErr := ws.Close(websocket.StatusNormalClosure, reason); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "client_id", clientID)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Warn("WebSocket session ended with error", "error", err, "client_id", clientID)
		return
	}
	slog.Info("WebSocket session ended", "client_id", clientID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// connection is the per-socket state. Only serve touches run.
type connection struct {
	h        *WebSocketHandler
	ws       *websocket.Conn
	clientID string

	writeMu sync.Mutex
	run     *activeRun
}

type activeRun struct {
	session *Session
	human   chan string
	done    chan struct{}
}

// Emit writes one event as a JSON text frame. It is safe for concurrent use.
func (c *connection) Emit(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *connection) send(ctx context.Context, e Event) {
	if err := c.Emit(ctx, e); err != nil {
		slog.Debug("Failed to send event", "type", e.Type, "error", err, "client_id", c.clientID)
	}
}

func (c *connection) readLoop(ctx context.Context, commands chan<- Command) error {
	defer close(commands)
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed", "client_id", c.clientID)
			} else {
				slog.Debug("WebSocket read ended", "error", err, "client_id", c.clientID)
			}
			return nil
		}

		cmd := DecodeCommand(data)
		select {
		case commands <- cmd:
		case <-ctx.Done():
			return nil
		}
	}
}

// serve dispatches commands until the client leaves. A running discussion
// is always stopped and its slot released before serve returns.
func (c *connection) serve(ctx context.Context, commands <-chan Command) error {
	defer c.stop(ErrConnectionClosed)

	for {
		var done <-chan struct{}
		if c.run != nil {
			done = c.run.done
		}

		select {
		case <-ctx.Done():
			return nil
		case <-done:
			c.run = nil
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, cmd); err != nil {
				return err
			}
		}
	}
}

func (c *connection) handle(ctx context.Context, cmd Command) error {
	c.reap()

	switch cmd.Kind {
	case CommandPing:
		return nil

	case CommandStart:
		if c.run != nil {
			c.send(ctx, SystemMessage(BusyNotice))
			return nil
		}
		return c.begin(ctx, cmd.Text)

	case CommandUtterance:
		if c.run == nil {
			return c.begin(ctx, cmd.Text)
		}
		select {
		case c.run.human <- cmd.Text:
		default:
			slog.Warn("Dropping human message, queue full", "session_id", c.run.session.ID)
		}
		return nil

	case CommandRestart:
		c.stop(ErrRestartRequested)
		c.send(ctx, SystemMessage(RestartedNotice))
		return c.begin(ctx, "")

	case CommandTerminate:
		if c.run == nil {
			return errClientExit
		}
		c.run.session.Cancel(ErrTerminated)
		return nil
	}
	return nil
}

// begin claims the slot and starts the driver. A refused claim is returned
// so the caller closes the connection.
func (c *connection) begin(ctx context.Context, text string) error {
	kickoff := strings.TrimSpace(text)
	if kickoff == "" || strings.EqualFold(kickoff, startWord) {
		kickoff = c.h.kickoff
	}

	s := NewSession(c.clientID, kickoff, c.h.roster)
	if err := c.h.sm.Claim(ctx, s); err != nil {
		c.send(ctx, SystemMessage(BusyNotice))
		return err
	}

	runCtx := s.Bind(ctx)
	run := &activeRun{
		session: s,
		human:   make(chan string, humanQueue),
		done:    make(chan struct{}),
	}
	c.run = run
	c.send(ctx, SystemMessage(StartedNotice))

	go func() {
		defer close(run.done)
		defer c.h.sm.Release(context.WithoutCancel(runCtx), s)
		defer s.Cancel(context.Canceled)

		if _, err := c.h.driver.Run(runCtx, s, run.human, c); err != nil {
			slog.Warn("Discussion failed", "session_id", s.ID, "error", err)
		}
	}()
	return nil
}

// reap forgets a run whose session has ended, waiting for the driver to
// finish archiving and release the slot.
func (c *connection) reap() {
	if c.run == nil {
		return
	}
	select {
	case <-c.run.session.Ended():
	case <-c.run.done:
	default:
		return
	}
	<-c.run.done
	c.run = nil
}

// stop cancels the running discussion with cause and waits for it.
func (c *connection) stop(cause error) {
	if c.run == nil {
		return
	}
	c.run.session.Cancel(cause)
	<-c.run.done
	c.run = nil
}
