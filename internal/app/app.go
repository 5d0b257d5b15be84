// Package app assembles the services shared by the API server and the
// background worker from a loaded Config.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-registration/internal/config"
	"github.com/iliyamo/camp-registration/internal/database"
	"github.com/iliyamo/camp-registration/internal/metrics"
	"github.com/iliyamo/camp-registration/internal/queue"
	"github.com/iliyamo/camp-registration/internal/service"
	"github.com/iliyamo/camp-registration/internal/storage"
)

// App holds the wired dependencies of one process.
type App struct {
	Config   config.Config
	Log      zerolog.Logger
	DB       *sql.DB
	Redis    *redis.Client // nil when Redis is unreachable
	Store    storage.Gateway
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Progress  queue.ProgressStore
	Runner    *queue.Runner
	Publisher *queue.Publisher // nil without RABBITMQ_URL
	Inline    *queue.Inline    // set when Publisher is nil
	Jobs      service.Enqueuer

	Ledger        *service.Ledger
	Registrations *service.Registrations
	Finalizer     *service.Finalizer
	Cleaner       *service.Cleaner
	Sweeper       *service.Sweeper
}

// New connects to MySQL, Redis and object storage and builds the services.
// Jobs go to RabbitMQ when a broker URL is configured and run in-process
// otherwise.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	store, err := newStore(ctx, cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		Config:   cfg,
		Log:      log,
		DB:       db,
		Redis:    config.NewRedisClient(log),
		Store:    store,
		Registry: reg,
		Metrics:  metrics.New(reg),
	}
	a.wire()
	return a, nil
}

func newStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (storage.Gateway, error) {
	switch cfg.StorageDriver {
	case "memory":
		log.Warn().Msg("using in-memory object storage; files are lost on restart")
		return storage.NewMemoryGateway(), nil
	case "minio", "s3", "":
		return storage.NewMinioGateway(ctx, storage.MinioConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		}, log)
	}
	return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
}

// wire builds the job plumbing and the services.  The runner's handler
// table is filled after the services exist because the services enqueue
// through the same dispatcher the runner serves.
func (a *App) wire() {
	cfg, log := a.Config, a.Log

	if a.Redis != nil {
		a.Progress = queue.NewRedisProgress(a.Redis)
	} else {
		a.Progress = queue.NewMemoryProgress()
	}
	handlers := queue.Handlers{}
	a.Runner = queue.NewRunner(handlers, a.Progress, queue.RunnerConfig{
		MaxAttempts: cfg.JobMaxAttempts,
		Backoff:     cfg.JobBackoff,
	}, a.Metrics, log)
	if cfg.RabbitURL != "" {
		a.Publisher = queue.NewPublisher(cfg.RabbitURL, cfg.JobQueue, a.Progress, log)
		a.Jobs = a.Publisher
	} else {
		log.Warn().Msg("RABBITMQ_URL not set; jobs run in-process")
		a.Inline = queue.NewInline(a.Runner)
		a.Jobs = a.Inline
	}

	repos := service.NewRepos(a.DB)
	var lease service.Lease
	if a.Redis != nil {
		lease = service.NewRedisLease(a.Redis)
	}
	a.Ledger = service.NewLedger(a.DB, repos, cfg.ReservationTTL, a.Metrics, log)
	a.Registrations = service.NewRegistrations(a.DB, repos, a.Ledger, a.Store, a.Jobs, service.RegistrationConfig{
		Pricing:              service.Pricing{ParticipantFee: cfg.ParticipantFee, CompanionFee: cfg.CompanionFee},
		ReviewTTL:            cfg.ReviewTTL,
		SpreadsheetTxTimeout: cfg.SpreadsheetTxTimeout,
		SignedURLTTL:         cfg.SignedURLTTL,
	}, log)
	a.Finalizer = service.NewFinalizer(a.DB, repos, a.Store, a.Jobs, service.FinalizerConfig{TxTimeout: cfg.ConfirmTxTimeout}, a.Metrics, log)
	a.Cleaner = service.NewCleaner(a.DB, repos, a.Ledger, a.Store, a.Jobs, a.Metrics, log)
	a.Sweeper = service.NewSweeper(a.DB, repos, lease, a.Metrics, log)

	for name, h := range (queue.Services{
		Sweeper:       a.Sweeper,
		Cleaner:       a.Cleaner,
		Finalizer:     a.Finalizer,
		Registrations: a.Registrations,
		Notifications: queue.NewNotificationLog(cfg.NotificationLog),
		DraftMaxAge:   cfg.DraftMaxAge,
	}).Handlers() {
		handlers[name] = h
	}
}

// Close waits for in-process jobs and releases connections.
func (a *App) Close() {
	if a.Inline != nil {
		a.Inline.Wait()
	}
	if a.Publisher != nil {
		_ = a.Publisher.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	_ = a.DB.Close()
}
