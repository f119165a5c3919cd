// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tmttn/wishbubble-sub001/internal/config"
	"github.com/tmttn/wishbubble-sub001/internal/mailqueue"
	mailqueuepostgres "github.com/tmttn/wishbubble-sub001/internal/mailqueue/postgres"
	"github.com/tmttn/wishbubble-sub001/internal/mailqueue/postmark"
	"github.com/tmttn/wishbubble-sub001/internal/migrations"
	"github.com/tmttn/wishbubble-sub001/internal/pkg/ctxlog"
	"github.com/tmttn/wishbubble-sub001/internal/pkg/httputil"
	"github.com/tmttn/wishbubble-sub001/internal/pkg/metrics"
	"github.com/tmttn/wishbubble-sub001/internal/pkg/postgres"
	"github.com/tmttn/wishbubble-sub001/internal/version"
	"golang.org/x/time/rate"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	workerCancel  context.CancelFunc
	queueWorker   *mailqueue.Worker
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := migrations.Up(cfg.Database.URL); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())

	app := &App{
		config:       cfg,
		logger:       logger,
		db:           db,
		workerCancel: workerCancel,
	}

	go app.collectDBMetrics(workerCtx)

	router, worker, err := app.setupRouter(workerCtx)
	if err != nil {
		db.Close()
		workerCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.queueWorker = worker

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Stop the queue worker before cancelling its context so an in-flight
	// batch runs to completion instead of stranding claimed items.
	if a.queueWorker != nil {
		a.queueWorker.Stop()
	}
	a.workerCancel()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// QueueWorker returns the queue worker instance. Used in tests to
// access worker state.
func (a *App) QueueWorker() *mailqueue.Worker {
	return a.queueWorker
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, *mailqueue.Worker, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	provider, err := a.buildProvider()
	if err != nil {
		return nil, nil, err
	}

	renderer, err := mailqueue.NewRenderer()
	if err != nil {
		return nil, nil, fmt.Errorf("create renderer: %w", err)
	}

	repo := mailqueuepostgres.NewRepository(a.db)
	dispatcher := mailqueue.NewDispatcher(renderer, provider)

	processor := mailqueue.NewProcessor(mailqueue.ProcessorConfig{
		BatchSize: a.config.Queue.BatchSize,
		SendRate:  rate.Limit(a.config.Queue.SendRatePerSec),
	}, repo, dispatcher)

	worker := mailqueue.NewWorker(mailqueue.WorkerConfig{
		PollInterval:    a.config.Queue.PollInterval,
		CleanupInterval: a.config.Queue.CleanupInterval,
		StatsInterval:   a.config.Queue.StatsInterval,
	}, repo, processor)
	worker.Start(ctx)

	handler := mailqueue.NewHandler(repo, processor)

	r.Route("/api/v1", func(r chi.Router) {
		handler.RegisterRoutes(r)
	})

	return r, worker, nil
}

// buildProvider picks the Postmark provider when a server token is
// configured, otherwise the logging provider for local development.
func (a *App) buildProvider() (mailqueue.Provider, error) {
	if a.config.Email.PostmarkServerToken == "" {
		slog.Warn("no postmark server token configured: emails will be logged, not sent")
		return mailqueue.LogProvider{}, nil
	}

	provider, err := postmark.NewProvider(postmark.Config{
		ServerToken:  a.config.Email.PostmarkServerToken,
		AccountToken: a.config.Email.PostmarkAccountToken,
		FromAddress:  a.config.Email.FromAddress,
		ReplyTo:      a.config.Email.ReplyTo,
	})
	if err != nil {
		return nil, fmt.Errorf("create postmark provider: %w", err)
	}
	return provider, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
