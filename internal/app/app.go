package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/kidsight/internal/config"
	httpcontroller "github.com/vadim/kidsight/internal/controller/http"
	"github.com/vadim/kidsight/internal/database"
	"github.com/vadim/kidsight/internal/domain/sync/dao"
	"github.com/vadim/kidsight/internal/domain/sync/entity"
	"github.com/vadim/kidsight/internal/domain/sync/policy"
	"github.com/vadim/kidsight/internal/domain/sync/scheduler"
	"github.com/vadim/kidsight/internal/domain/sync/service"
	"github.com/vadim/kidsight/internal/httpx/retry"
	"github.com/vadim/kidsight/internal/httpx/upstream/identity"
	"github.com/vadim/kidsight/internal/httpx/upstream/provider"
	"github.com/vadim/kidsight/internal/storage"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	pool       *pgxpool.Pool

	syncPolicy *policy.Policy
	scheduler  *scheduler.Scheduler
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(60 * time.Second))

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}

	if err := app.initInfrastructure(ctx); err != nil {
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	if err := app.initDomains(ctx); err != nil {
		return nil, fmt.Errorf("initializing domains: %w", err)
	}

	app.registerRoutes()

	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

// initInfrastructure connects to the database and applies pending migrations
func (a *App) initInfrastructure(ctx context.Context) error {
	pool, err := database.NewPostgresPool(ctx, database.PoolConfig{
		DSN:          a.cfg.Database.PostgresDSN,
		MaxConns:     a.cfg.Database.MaxConns,
		MinConns:     a.cfg.Database.MinConns,
		ConnLifetime: a.cfg.Database.ConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	a.pool = pool

	result, err := database.Migrate(pool)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	if result.Changed {
		a.logger.Info("database migrated", "version", result.Version)
	}

	return nil
}

// initDomains initializes domain layers (DAO, Service, Policy)
func (a *App) initDomains(ctx context.Context) error {
	providerClient := provider.New(
		provider.WithBaseURL(a.cfg.Provider.BaseURL),
		provider.WithRetryPolicy(retry.Default(a.cfg.Sync.MaxRetries)),
	)

	identityClient := identity.New(a.cfg.Identity.BaseURL, a.cfg.Identity.CacheTTL)

	convRepo := dao.NewConversationPostgres(a.pool)
	msgRepo := dao.NewMessagePostgres(a.pool)
	credRepo := dao.NewCredentialPostgres(a.pool)
	ownerRepo := dao.NewOwnershipPostgres(a.pool)
	runRepo := dao.NewRunStatusPostgres(a.pool)

	var opts []service.Option
	if a.cfg.S3.Enabled() {
		archive, err := storage.NewMediaArchive(storage.S3Config{
			Endpoint:        a.cfg.S3.Endpoint,
			AccessKeyID:     a.cfg.S3.AccessKeyID,
			SecretAccessKey: a.cfg.S3.SecretAccessKey,
			Bucket:          a.cfg.S3.Bucket,
			Region:          a.cfg.S3.Region,
			PublicURL:       a.cfg.S3.PublicURL,
		})
		if err != nil {
			return fmt.Errorf("initializing media archive: %w", err)
		}
		opts = append(opts, service.WithArchiver(archive))
	}

	syncService := service.New(
		providerClient,
		convRepo,
		msgRepo,
		runRepo,
		service.Config{
			Budget:           a.cfg.Sync.Budget,
			MaxConversations: a.cfg.Sync.MaxConversations,
			HistoryCount:     a.cfg.Sync.HistoryCount,
			MaxMediaLookups:  a.cfg.Sync.MaxMediaLookups,
		},
		a.logger,
		opts...,
	)

	a.syncPolicy = policy.New(
		&identityAdapter{identityClient},
		ownerRepo,
		credRepo,
		syncService,
		policy.FallbackCredential{
			InstanceID: a.cfg.Provider.FallbackInstanceID,
			Token:      a.cfg.Provider.FallbackToken,
		},
		a.logger,
	)

	if a.cfg.Scheduler.Enabled {
		a.scheduler = scheduler.New(a.syncPolicy, runRepo, scheduler.Config{
			Interval:  a.cfg.Scheduler.Interval,
			SyncAge:   a.cfg.Scheduler.SyncAge,
			BatchSize: a.cfg.Scheduler.BatchSize,
		}, a.logger)
	}

	return nil
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() {
	// Health check
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)

	// API v1
	a.router.Route("/api/v1", func(r chi.Router) {
		syncHandler := httpcontroller.NewSyncHandler(a.syncPolicy)
		syncHandler.RegisterRoutes(r)
	})
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler handles readiness check requests
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.pool.Ping(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"database unavailable"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	if a.pool != nil {
		a.pool.Close()
	}

	a.logger.Info("shutdown complete")
	return nil
}

// identityAdapter maps identity client errors onto domain errors so handlers
// can translate them to status codes without knowing the client.
type identityAdapter struct {
	client *identity.Client
}

func (a *identityAdapter) Verify(ctx context.Context, token string) (string, error) {
	principalID, err := a.client.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return "", entity.ErrUnauthorized
		}
		return "", err
	}
	return principalID, nil
}
