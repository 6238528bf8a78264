package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"classboard/internal/api"
	"classboard/internal/auth"
	"classboard/internal/catalog"
	"classboard/internal/config"
	"classboard/internal/engagement"
	"classboard/internal/gateway"
	"classboard/internal/question"
	"classboard/internal/room"
	"classboard/internal/router"
	"classboard/internal/scoring"
	"classboard/internal/signal"
	"classboard/internal/store"
	"classboard/pkg/database"
)

// Application wires the components together and owns their lifecycles.
// Initialization follows dependency order: store, then catalog, then the
// registries, then relay, scheduler, and engine, then router, API, and
// the HTTP server last. Shutdown walks the same order in reverse.
type Application struct {
	config *config.Config

	store        *store.Manager
	catalog      *catalog.Catalog
	connRegistry *gateway.Registry
	roomRegistry *room.Registry
	scheduler    *engagement.Scheduler
	engine       *question.Engine
	eventRouter  *router.Router
	apiServer    *api.Server
	httpServer   *http.Server

	done chan struct{}
	log  *logrus.Entry
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &database.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}
	eventStore, err := store.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}

	questionCatalog, err := catalog.NewCatalog(eventStore)
	if err != nil {
		eventStore.Close()
		return nil, fmt.Errorf("failed to initialize question catalog: %w", err)
	}

	connRegistry := gateway.NewRegistry()
	roomRegistry := room.NewRegistry()

	relay := signal.NewRelay(connRegistry, roomRegistry)
	scheduler := engagement.NewScheduler(
		roomRegistry, roomRegistry, eventStore,
		cfg.Engagement.MinDelay, cfg.Engagement.MaxDelay, cfg.Engagement.ResponseDeadline,
	)
	engine := question.NewEngine(
		roomRegistry, roomRegistry, eventStore, questionCatalog,
		cfg.Question.Deadline, cfg.Question.PointsPerCorrect,
	)

	// An emptied room tears down its popup loop. In-flight question
	// broadcasts run to their own deadline; results still persist even when
	// nobody is left to receive them.
	roomRegistry.OnEmpty(scheduler.Stop)

	eventRouter := router.NewRouter(roomRegistry, relay, scheduler, engine, eventStore)

	verifier := auth.NewVerifier(cfg.Auth.Secret)
	aggregator := scoring.NewAggregator(eventStore)
	apiServer := api.NewServer(questionCatalog, engine, aggregator, verifier, eventStore, connRegistry, roomRegistry)

	wsHandler := gateway.NewHandler(
		connRegistry, verifier, eventRouter,
		cfg.WebSocket.PingInterval, cfg.WebSocket.ReadTimeout, cfg.WebSocket.BufferSize,
	)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:       cfg,
		store:        eventStore,
		catalog:      questionCatalog,
		connRegistry: connRegistry,
		roomRegistry: roomRegistry,
		scheduler:    scheduler,
		engine:       engine,
		eventRouter:  eventRouter,
		apiServer:    apiServer,
		httpServer:   httpServer,
		done:         make(chan struct{}),
		log:          logrus.WithField("component", "app"),
	}, nil
}

// Start launches background loops and the HTTP server, returning once the
// server is accepting connections.
func (app *Application) Start(ctx context.Context) error {
	app.log.WithField("addr", app.httpServer.Addr).Info("starting classboard")

	app.eventRouter.StartCleanup(app.done)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info("classboard started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP first so no new events
// arrive, then background loops, then the store.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("shutting down classboard")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.WithError(err).Warn("HTTP server shutdown error")
	}

	close(app.done)

	if err := app.store.Close(); err != nil {
		app.log.WithError(err).Warn("store shutdown error")
	}

	app.log.Info("classboard shutdown complete")
	return nil
}

// Addr returns the server address for external connections.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
