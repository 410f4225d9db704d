package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classhub/internal/api"
	"classhub/internal/chat"
	"classhub/internal/config"
	"classhub/internal/database"
	"classhub/internal/hub"
	"classhub/internal/room"
	"classhub/internal/router"
	"classhub/internal/sandbox"
	"classhub/internal/session"
	"classhub/internal/signal"
	"classhub/internal/websocket"
	pkgdatabase "classhub/pkg/database"
)

// Application wires all components and owns their lifecycle. Construction
// follows dependency order: database, session records, connection layer,
// rooms and relays, router, hub, HTTP surface.
type Application struct {
	config         *config.Config
	dbManager      *database.Manager
	sessionManager *session.Manager
	registry       *websocket.Registry
	rooms          *room.Manager
	sandboxClient  *sandbox.Client
	messageRouter  *router.Router
	messageHub     *hub.Hub
	apiServer      *api.Server
	httpServer     *http.Server
	cancelBg       context.CancelFunc
}

// NewApplication builds the component graph from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB(), dbConfig.MigrationsPath)
	if err := migrationManager.ApplyMigrations(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("Database migrations applied")

	sessionManager := session.NewManager(dbManager)
	if err := sessionManager.LoadActiveSessions(context.Background()); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}

	registry := websocket.NewRegistry()
	broadcaster := websocket.NewBroadcaster(registry)

	rooms := room.NewManager(broadcaster, cfg.Room.EmptyTimeout)
	sandboxClient := sandbox.NewClient(cfg.Sandbox.URL, rooms)
	chatRelay := chat.NewRelay(dbManager, broadcaster)
	signalRelay := signal.NewRelay(broadcaster)

	// Reclaimed rooms drop their sibling state everywhere.
	rooms.AddReaper(chatRelay.RemoveSession)
	rooms.AddReaper(signalRelay.RemoveSession)
	rooms.AddReaper(sandboxClient.CloseSession)

	messageRouter := router.NewRouter(rooms, chatRelay, signalRelay, sandboxClient, dbManager, broadcaster)
	messageHub := hub.NewHub(registry, messageRouter, rooms, signalRelay)
	apiServer := api.NewServer(sessionManager, dbManager, registry, rooms)
	wsHandler := websocket.NewHandler(messageHub, sessionManager, rooms)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:         cfg,
		dbManager:      dbManager,
		sessionManager: sessionManager,
		registry:       registry,
		rooms:          rooms,
		sandboxClient:  sandboxClient,
		messageRouter:  messageRouter,
		messageHub:     messageHub,
		apiServer:      apiServer,
		httpServer:     httpServer,
	}, nil
}

// Start launches background processing, then the HTTP server.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting classhub on %s", app.httpServer.Addr)

	bgCtx, cancel := context.WithCancel(ctx)
	app.cancelBg = cancel

	if err := app.messageHub.Start(bgCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start hub: %w", err)
	}
	app.rooms.Start(bgCtx)
	app.messageRouter.Start(bgCtx)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.messageHub.Stop()
		cancel()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("classhub started")
		return nil
	case <-ctx.Done():
		app.messageHub.Stop()
		cancel()
		return ctx.Err()
	}
}

// Stop shuts everything down in reverse dependency order.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down classhub")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.messageHub.Stop(); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}

	if app.cancelBg != nil {
		app.cancelBg()
	}
	app.rooms.Stop()
	app.sandboxClient.Close()

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("classhub shutdown complete")
	return nil
}

// GetAddr returns the server address.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
