package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver

	"github.com/taskwell/assignd/internal/assign"
	"github.com/taskwell/assignd/internal/cache"
	"github.com/taskwell/assignd/internal/config"
	"github.com/taskwell/assignd/internal/platform/postgres"
	platformredis "github.com/taskwell/assignd/internal/platform/redis"
	"github.com/taskwell/assignd/internal/task"
)

// application holds the wired components and owns their lifecycle.
type application struct {
	config       *config.Config
	logger       *slog.Logger
	db           *sql.DB
	cache        cache.Cache
	orchestrator *assign.Orchestrator
	runner       *task.Runner

	sweepCancel context.CancelFunc
}

// newApplication wires the engine: database, cache backend, fact store,
// filter pipeline, orchestrator and the background runner.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := setupDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := postgres.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	appCache := setupCache(cfg, logger)
	facts := postgres.NewFactStore(db, logger)

	pipeline := assign.NewPipeline(
		facts,
		appCache,
		time.Duration(cfg.Cache.ActiveCountTTLSeconds)*time.Second,
		logger,
	)

	queueLogger := logger.With(slog.String("queue", cfg.Assignment.QueueName))
	queue := task.NewQueue(cfg.Assignment.QueueSize, queueLogger)
	runner := task.NewRunner(postgres.NewJobStore(db), queue, task.RunnerConfig{
		WorkerCount: cfg.Assignment.WorkerCount,
		QueueSize:   cfg.Assignment.QueueSize,
		StuckJobAge: 30 * time.Minute,
	}, queueLogger)

	orchestrator := assign.NewOrchestrator(facts, appCache, pipeline, runner, assign.Config{
		EligibleUsersTTL:    time.Duration(cfg.Cache.EligibleUsersTTLSeconds) * time.Second,
		SyncFallbackTimeout: time.Duration(cfg.Assignment.SyncFallbackTimeoutMs) * time.Millisecond,
		RetryMaxAttempts:    cfg.Assignment.RetryMaxAttempts,
		RetryBaseDelay:      time.Duration(cfg.Assignment.RetryBaseDelaySeconds) * time.Second,
		SweepInterval:       time.Duration(cfg.Assignment.SweepIntervalSeconds) * time.Second,
	}, logger)

	runner.RegisterFactory(task.TypeAssignTask, orchestrator.JobFactory())

	return &application{
		config:       cfg,
		logger:       logger,
		db:           db,
		cache:        appCache,
		orchestrator: orchestrator,
		runner:       runner,
	}, nil
}

// run starts the background runner, the retry sweep and the HTTP server,
// blocking until shutdown completes.
func (app *application) run() error {
	if err := app.runner.Start(); err != nil {
		return fmt.Errorf("starting job runner: %w", err)
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	app.sweepCancel = cancel
	app.orchestrator.StartSweeper(sweepCtx)

	return app.startHTTPServer(app.setupRouter())
}

// cleanup releases resources in reverse dependency order. The runner stops
// first so no worker touches a closed database handle.
func (app *application) cleanup() {
	if app.sweepCancel != nil {
		app.sweepCancel()
	}
	app.runner.Stop()
	if err := app.db.Close(); err != nil {
		app.logger.Error("Failed to close database connection", "error", err)
	}
	app.logger.Info("Application cleanup completed")
}

// setupDatabase opens the connection pool against the CRUD layer's
// PostgreSQL database and verifies connectivity.
func setupDatabase(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

// setupCache selects the cache backend: Redis when configured, otherwise
// the in-process cache. Both are fail-open, so this choice never affects
// correctness, only sharing across instances.
func setupCache(cfg *config.Config, logger *slog.Logger) cache.Cache {
	if cfg.Redis.Addr == "" {
		logger.Warn("No Redis address configured, using in-process cache")
		return cache.NewMemory()
	}
	client := platformredis.NewClient(cfg.Redis.Addr)
	logger.Info("Redis cache configured", "addr", cfg.Redis.Addr)
	return platformredis.NewCache(client, logger)
}
