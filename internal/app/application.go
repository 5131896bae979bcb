package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"counselchat/internal/api"
	"counselchat/internal/config"
	"counselchat/internal/coordinator"
	"counselchat/internal/database"
	"counselchat/internal/directory"
	"counselchat/internal/hub"
	"counselchat/internal/identity"
	"counselchat/internal/messages"
	"counselchat/internal/metrics"
	"counselchat/internal/roster"
	"counselchat/internal/session"
	"counselchat/internal/websocket"
	"counselchat/pkg/interfaces"
)

// Application coordinates all system components
type Application struct {
	config     *config.Config
	dbManager  interfaces.DatabaseManager
	registry   *websocket.Registry
	rosterHub  *hub.Hub
	limiter    *coordinator.RateLimiter
	gatherer   *prometheus.Registry
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
	cancelHub  context.CancelFunc
}

// NewApplication builds every component in dependency order:
// storage → identity → directory → messages → sessions → roster → transport → coordinator → HTTP
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: storage
	dbManager, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	// STEP 2: domain components
	counseling := cfg.Counseling
	resolver := identity.NewResolver(counseling.CounselorID, counseling.AnonymousPrefix)
	rooms := directory.NewDirectory(dbManager, directory.NewPrefixCodec(counseling.RoomPrefix), resolver.CounselorID())
	store := messages.NewStore(dbManager)
	sessions := session.NewRegistry(rooms)
	projector := roster.NewProjector(rooms, store, resolver)

	// STEP 3: metrics on a private registry
	gatherer := prometheus.NewRegistry()
	gatherer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(gatherer)

	// STEP 4: transport, roster hub and coordinator
	registry := websocket.NewRegistry()
	rosterHub := hub.NewHub(projector, registry, counseling.CounselorGroup, counseling.RosterTimeout)
	rosterHub.SetRecorder(m)

	limiter := coordinator.NewRateLimiter(counseling.MessagesPerSecond, counseling.MessageBurst)
	events := coordinator.New(resolver, rooms, store, sessions, rosterHub, registry, coordinator.Options{
		CounselorGroup:   counseling.CounselorGroup,
		MaxMessageLength: counseling.MaxMessageLength,
		RateLimiter:      limiter,
		Recorder:         m,
	})

	wsHandler := websocket.NewHandler(registry, events, websocket.Options{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongTimeout:    cfg.WebSocket.PongTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		EventTimeout:   cfg.WebSocket.EventTimeout,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		CheckOrigin:    cfg.CheckOrigin(),
	})
	wsHandler.SetRecorder(m)

	// STEP 5: HTTP surface
	apiOpts := api.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		WebSocketPath:  cfg.WebSocket.Path,
		WebSocket:      wsHandler,
	}
	if cfg.Monitoring.MetricsEnabled {
		apiOpts.MetricsPath = cfg.Monitoring.MetricsEndpoint
		apiOpts.Gatherer = gatherer
		apiOpts.Middleware = append(apiOpts.Middleware, m.Middleware)
	}
	apiServer := api.NewServer(dbManager, projector, sessions, registry, apiOpts)

	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           apiServer,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		registry:   registry,
		rosterHub:  rosterHub,
		limiter:    limiter,
		gatherer:   gatherer,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start launches the roster hub and begins accepting connections.
// It returns once the listener is bound.
func (app *Application) Start(ctx context.Context) error {
	// STEP 1: roster hub, detached from the startup context
	hubCtx, cancel := context.WithCancel(context.Background())
	if err := app.rosterHub.Start(hubCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start roster hub: %w", err)
	}
	app.cancelHub = cancel

	// STEP 2: listener
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", app.httpServer.Addr)
	if err != nil {
		app.stopHub()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "error", err)
		}
	}()

	slog.Info("counselchat started",
		"addr", listener.Addr().String(),
		"driver", app.config.Database.Driver,
		"counselor", app.config.Counseling.CounselorID)
	return nil
}

// Stop shuts down in reverse dependency order: HTTP → connections → hub → storage
func (app *Application) Stop(ctx context.Context) error {
	slog.Info("shutting down counselchat")

	// STEP 1: stop accepting new requests
	if err := app.httpServer.Shutdown(ctx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}

	// STEP 2: close live websockets and let their teardown finish
	app.registry.CloseAll()
	app.waitForConnections(ctx)

	// STEP 3: background workers
	app.stopHub()
	app.limiter.Stop()

	// STEP 4: storage
	if err := app.dbManager.Close(); err != nil {
		return fmt.Errorf("closing storage: %w", err)
	}

	slog.Info("counselchat shutdown complete")
	return nil
}

// Addr returns the bound listener address, or the configured one before Start
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Gatherer exposes the private metrics registry
func (app *Application) Gatherer() prometheus.Gatherer {
	return app.gatherer
}

// Handler exposes the HTTP handler for in-process testing
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

func (app *Application) stopHub() {
	if err := app.rosterHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		slog.Warn("roster hub shutdown error", "error", err)
	}
	if app.cancelHub != nil {
		app.cancelHub()
	}
}

func (app *Application) waitForConnections(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for app.registry.Count() > 0 {
		select {
		case <-ctx.Done():
			slog.Warn("connections still open at shutdown", "count", app.registry.Count())
			return
		case <-ticker.C:
		}
	}
}
