// Package server builds the service's dependency graph from configuration and
// runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-visibility-crawler/internal/api"
	"github.com/JakeFAU/serp-visibility-crawler/internal/clock/system"
	"github.com/JakeFAU/serp-visibility-crawler/internal/config"
	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
	headlessfetcher "github.com/JakeFAU/serp-visibility-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/serp-visibility-crawler/internal/hash/sha256"
	"github.com/JakeFAU/serp-visibility-crawler/internal/id/uuid"
	"github.com/JakeFAU/serp-visibility-crawler/internal/logging"
	"github.com/JakeFAU/serp-visibility-crawler/internal/metrics"
	"github.com/JakeFAU/serp-visibility-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/serp-visibility-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/serp-visibility-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/serp-visibility-crawler/internal/scheduler"
	"github.com/JakeFAU/serp-visibility-crawler/internal/serp"
	gcsstorage "github.com/JakeFAU/serp-visibility-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/serp-visibility-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/serp-visibility-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/serp-visibility-crawler/internal/storage/postgres"
	"github.com/JakeFAU/serp-visibility-crawler/internal/telemetry"
)

// Version is stamped into trace resources.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	entities     crawler.EntityStore
	pgStore      *pgstore.EntityStore
	gcsStore     *gcsstorage.BlobStore
	pubsub       *gcppublisher.Publisher
	orchestrator *crawler.Orchestrator
	scheduler    *scheduler.Scheduler
	tracer       *sdktrace.TracerProvider
}

// Build creates the application's dependencies. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(ctx)
		}
	}()

	app.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		ProjectID:   cfg.Telemetry.TraceProject,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	metrics.Init()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.TopicName != ""),
	)

	if err = app.setupEntityStore(ctx); err != nil {
		return nil, err
	}
	snapshots, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err = app.setupCrawler(snapshots); err != nil {
		return nil, err
	}

	app.scheduler, err = scheduler.New(
		scheduler.Config{
			JitterMin:     config.Millis(cfg.Scheduler.JitterMinMs),
			JitterMax:     config.Millis(cfg.Scheduler.JitterMaxMs),
			BlockCooldown: config.Seconds(cfg.Scheduler.BlockCooldownSec),
			Topic:         cfg.PubSub.TopicName,
		},
		app.entities,
		app.orchestrator,
		memorystorage.NewResultStore(),
		publisher,
		system.New(),
		system.New(),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}
	return app, nil
}

func (a *App) setupEntityStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, entities are kept in memory")
		a.entities = memorystorage.NewEntityStore()
		return nil
	}
	store, err := pgstore.NewEntityStore(ctx, pgstore.EntityStoreConfig{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
		MinConns: a.cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("entity store init failed: %w", err)
	}
	a.pgStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("entity store init failed: %w", err)
	}
	a.entities = store
	a.logger.Info("postgres entity store initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcsStore = store
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return store, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	publisher, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = publisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

func (a *App) setupCrawler(snapshots crawler.BlobStore) error {
	clock := system.New()
	fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		EngineURL:         a.cfg.Search.EngineURL,
		Language:          a.cfg.Search.Language,
		ResultsPerPage:    a.cfg.Search.ResultsPerPage,
		AcceptLanguages:   a.cfg.Search.AcceptLanguages,
		NavigationTimeout: config.Seconds(a.cfg.Headless.NavTimeoutSec),
		SelectorTimeout:   config.Seconds(a.cfg.Headless.SelectorTimeoutSec),
		HumanDelayMin:     config.Millis(a.cfg.Headless.HumanDelayMinMs),
		HumanDelayMax:     config.Millis(a.cfg.Headless.HumanDelayMaxMs),
		ExecPath:          a.cfg.Headless.ExecPath,
		NoSandbox:         a.cfg.Headless.NoSandbox,
	}, clock, a.logger.Named("fetcher"))
	if err != nil {
		return fmt.Errorf("headless fetcher init failed: %w", err)
	}

	gate := ratelimit.New(ratelimit.Config{MinInterval: config.Seconds(a.cfg.RateLimit.MinIntervalSec)}, a.logger.Named("ratelimit"))
	retry, err := crawler.NewRetryPolicy(crawler.RetryConfig{
		MaxAttempts:     a.cfg.Retry.MaxAttempts,
		CaptchaCooldown: config.Seconds(a.cfg.Retry.CaptchaCooldownSec),
		EmptyCooldown:   config.Seconds(a.cfg.Retry.EmptyCooldownSec),
		BackoffStep:     config.Seconds(a.cfg.Retry.BackoffStepSec),
	}, clock, a.logger.Named("retry"))
	if err != nil {
		return fmt.Errorf("retry policy init failed: %w", err)
	}

	a.orchestrator, err = crawler.NewOrchestrator(
		crawler.OrchestratorConfig{Region: a.cfg.Search.Region, SnapshotPrefix: a.cfg.Storage.Prefix},
		fetcher,
		serp.NewExtractor(),
		gate,
		retry,
		clock,
		uuid.New(),
		snapshots,
		sha256.New(),
		a.logger.Named("crawler"),
	)
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}
	a.logger.Info("crawl pipeline ready",
		zap.String("region", a.cfg.Search.Region),
		zap.Duration("min_interval", gate.Interval()),
		zap.Int("max_attempts", retry.MaxAttempts()),
	)
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Crawl runs one on-demand search for entityID. The run is not cached.
func (a *App) Crawl(ctx context.Context, entityID int64) (crawler.CrawlRun, error) {
	entity, err := a.entities.GetEntity(ctx, entityID)
	if err != nil {
		return crawler.CrawlRun{}, fmt.Errorf("get entity: %w", err)
	}
	owned, err := a.entities.ListOwnedDomains(ctx, entityID)
	if err != nil {
		return crawler.CrawlRun{}, fmt.Errorf("list owned domains: %w", err)
	}
	return a.orchestrator.Run(ctx, crawler.TrackedEntity{ID: entity.ID, Name: entity.Name, OwnedDomains: owned})
}

// RunPass executes a single batch pass over every entity.
func (a *App) RunPass(ctx context.Context) (scheduler.PassSummary, error) {
	summary, err := a.scheduler.RunBatchPass(ctx)
	if err != nil {
		return summary, fmt.Errorf("batch pass: %w", err)
	}
	return summary, nil
}

// Run serves the HTTP API and blocks until ctx is canceled or SIGINT/SIGTERM
// arrives. The scheduler starts immediately when autostart is set.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewServer(a.entities, a.orchestrator, a.scheduler, api.Options{
		AuthEnabled:     a.cfg.Auth.Enabled,
		APIKey:          a.cfg.Auth.APIKey,
		DefaultInterval: a.cfg.SchedulerInterval(),
		BaseContext:     ctx,
		Ready:           a.ready,
	}, a.logger)

	if a.cfg.Scheduler.Autostart {
		if _, err := a.scheduler.Start(ctx, a.cfg.SchedulerInterval()); err != nil {
			return fmt.Errorf("scheduler autostart: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.scheduler.Stop()
	a.scheduler.Wait()
	return a.Close(shutdownCtx)
}

func (a *App) ready(ctx context.Context) error {
	if a.pgStore == nil {
		return nil
	}
	if err := a.pgStore.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
