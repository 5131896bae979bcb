package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// Options tunes heartbeat, buffering and frame limits
type Options struct {
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	EventTimeout     time.Duration
	SendBuffer       int
	MaxMessageSize   int64
	CheckOrigin      func(r *http.Request) bool
}

// DefaultOptions returns the production heartbeat settings
func DefaultOptions() Options {
	return Options{
		PingInterval:     30 * time.Second,
		PongTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		EventTimeout:     10 * time.Second,
		SendBuffer:       100,
		MaxMessageSize:   64 * 1024,
	}
}

// ConnectionRecorder observes connection lifecycle
type ConnectionRecorder interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Handler upgrades HTTP requests and pumps frames into the event router
type Handler struct {
	registry *Registry
	router   interfaces.EventRouter
	opts     Options
	upgrader websocket.Upgrader
	recorder ConnectionRecorder
}

// NewHandler creates a handler that registers connections in registry and
// dispatches their events to router
func NewHandler(registry *Registry, router interfaces.EventRouter, opts Options) *Handler {
	defaults := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaults.PongTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = defaults.EventTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}

	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Handler{
		registry: registry,
		router:   router,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:      checkOrigin,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

// SetRecorder attaches a lifecycle recorder. Call before serving.
func (h *Handler) SetRecorder(recorder ConnectionRecorder) {
	h.recorder = recorder
}

// ServeHTTP upgrades the request. Identity is established later by the
// login event, so no query parameters are required.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConnection(ws, uuid.NewString(), h.opts.SendBuffer, h.opts.WriteTimeout)
	if err := h.registry.Register(conn); err != nil {
		slog.Error("failed to register connection", "conn", conn.ID(), "error", err)
		_ = conn.Close()
		return
	}
	if h.recorder != nil {
		h.recorder.ConnectionOpened()
	}
	slog.Debug("websocket connected", "conn", conn.ID(), "remote", r.RemoteAddr)

	go h.handleConnection(conn)
}

// handleConnection runs the heartbeat and read pump until the socket closes
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.EventTimeout)
		h.router.HandleDisconnect(ctx, conn.ID())
		cancel()

		h.registry.Unregister(conn.ID())
		_ = conn.Close()
		if h.recorder != nil {
			h.recorder.ConnectionClosed()
		}
		slog.Debug("websocket disconnected", "conn", conn.ID())
	}()

	ws := conn.conn
	ws.SetReadLimit(h.opts.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.PongTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	})

	go h.heartbeat(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read ended", "conn", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var envelope types.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Event == "" {
			slog.Debug("dropping undecodable frame", "conn", conn.ID(), "size", len(data))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.opts.EventTimeout)
		// Failures are reported to the client and logged by the router
		_ = h.router.HandleEvent(ctx, conn.ID(), &envelope)
		cancel()
	}
}

func (h *Handler) heartbeat(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}
