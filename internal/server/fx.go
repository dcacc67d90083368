// Package server builds the application's dependency graph and runs the HTTP
// service until it is told to stop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/artifact-loader/internal/api"
	"github.com/JakeFAU/artifact-loader/internal/clock/system"
	"github.com/JakeFAU/artifact-loader/internal/config"
	"github.com/JakeFAU/artifact-loader/internal/discovery"
	"github.com/JakeFAU/artifact-loader/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/artifact-loader/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/artifact-loader/internal/fetcher/headless"
	"github.com/JakeFAU/artifact-loader/internal/hash/sha256"
	"github.com/JakeFAU/artifact-loader/internal/headless/detector"
	"github.com/JakeFAU/artifact-loader/internal/id/uuid"
	"github.com/JakeFAU/artifact-loader/internal/loader"
	"github.com/JakeFAU/artifact-loader/internal/metrics"
	"github.com/JakeFAU/artifact-loader/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/artifact-loader/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/artifact-loader/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/artifact-loader/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/artifact-loader/internal/storage/gcs"
	localstorage "github.com/JakeFAU/artifact-loader/internal/storage/local"
	memoryStorage "github.com/JakeFAU/artifact-loader/internal/storage/memory"
	pgstore "github.com/JakeFAU/artifact-loader/internal/storage/postgres"
	"github.com/JakeFAU/artifact-loader/internal/telemetry"
	"github.com/JakeFAU/artifact-loader/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	dispatch       *dispatcher.Dispatcher
	queue          *queueMemory.Queue
	fetchers       *Fetchers
	pubsubClient   *pubsub.Client
	publisher      *gcppublisher.Publisher
	storage        *storage.Client
	pool           *pgxpool.Pool
	recordStore    discovery.RecordStore
	tracerShutdown telemetry.ShutdownFunc
}

// Fetchers bundles the loader with the fetchers backing it so the headless
// browser can be released on shutdown.
type Fetchers struct {
	Loader   *loader.Loader
	headless *headlessfetcher.Fetcher
}

// Close releases the headless browser, if one was started.
func (f *Fetchers) Close() {
	if f != nil && f.headless != nil {
		f.headless.Close()
	}
}

// NewFetchers builds the static fetcher, the optional headless promotion
// path, and the loader on top of them.
func NewFetchers(cfg config.Config, logger *zap.Logger) (*Fetchers, error) {
	var limiter collyfetcher.Limiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.RequestsPerSecond,
			DefaultBurst: cfg.RateLimit.Burst,
		})
		logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("default_burst", cfg.RateLimit.Burst),
		)
	}
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: !cfg.Fetch.IgnoreRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodyBytes:  cfg.Fetch.MaxBodyBytes,
		Limiter:       limiter,
	}, logger.Named("colly"))
	logger.Info("using colly fetcher", zap.String("user_agent", cfg.Fetch.UserAgent))

	out := &Fetchers{}
	var docs loader.DocumentFetcher = static
	if cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Headless.SettleMillis) * time.Millisecond,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed, using static documents only", zap.Error(err))
		} else {
			out.headless = renderer
			docs = headlessfetcher.NewPromoting(
				static,
				renderer,
				detector.NewHeuristic(cfg.Headless.PromotionThresh),
				logger.Named("promoting"),
			)
			logger.Info("using headless promotion", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	out.Loader = loader.New(static, docs, loader.Options{LenientJSON: cfg.Fetch.LenientJSON}, logger.Named("loader"))
	return out, nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
			app = nil
		}
	}()

	metrics.Init()
	app.tracerShutdown, err = telemetry.InitTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return app, fmt.Errorf("tracer init failed: %w", err)
	}

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Int("workers", cfg.Jobs.Workers),
	)
	app.fetchers, err = NewFetchers(cfg, logger)
	if err != nil {
		return app, err
	}

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return app, err
	}
	flags, err := setupDatabase(ctx, app)
	if err != nil {
		return app, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return app, err
	}

	jobStore := memoryStorage.NewJobStore()
	idGen := uuid.New()
	clock := system.New()
	app.queue = queueMemory.NewQueue(cfg.Jobs.QueueDepth)
	app.dispatch = setupDispatcher(app, jobStore, blobStore, publisher, idGen, clock)

	app.apiServer = api.NewServer(
		jobStore,
		app.dispatch,
		app.fetchers.Loader,
		flags,
		idGen,
		clock,
		cfg,
		logger.Named("api"),
	)
	if app.pool != nil {
		app.apiServer.AddReadinessCheck("postgres", app.pool.Ping)
	}
	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before shutdown deadline")
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	var err error
	if a.tracerShutdown != nil {
		if shutdownErr := a.tracerShutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("tracer shutdown: %w", shutdownErr)
		}
	}
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
}

func (a *App) closeInfrastructure() {
	a.fetchers.Close()
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.recordStore != nil {
		a.recordStore.Close()
	} else if a.pool != nil {
		a.pool.Close()
	}
}

func setupStorage(ctx context.Context, app *App) (discovery.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", cfg.GCSBucket))
		client, err := gcsstorage.NewClient(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.StorageLocal:
		app.logger.Info("using local storage backend", zap.String("path", cfg.LocalDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) (discovery.KeyValueStore, error) {
	cfg := app.cfg.DB
	if cfg.DSN == "" {
		app.logger.Warn("no DSN specified for database, keeping records and flags in memory")
		return memoryStorage.NewFlagStore(), nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.PoolConfig{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: time.Duration(cfg.MaxConnLifetimeSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	app.pool = pool
	records, err := pgstore.NewRecordStore(pool, cfg.RecordTable)
	if err != nil {
		return nil, fmt.Errorf("record store init failed: %w", err)
	}
	app.recordStore = records
	flags, err := pgstore.NewFlagStore(pool, cfg.FlagTable)
	if err != nil {
		return nil, fmt.Errorf("flag store init failed: %w", err)
	}
	app.logger.Info("postgres stores initialized",
		zap.String("record_table", cfg.RecordTable),
		zap.String("flag_table", cfg.FlagTable),
	)
	return flags, nil
}

func setupPublisher(ctx context.Context, app *App) (discovery.Publisher, error) {
	cfg := app.cfg.PubSub
	if cfg.TopicName == "" || cfg.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.publisher = gcppublisher.New(client)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return app.publisher, nil
}

func setupDispatcher(
	app *App,
	jobStore discovery.JobStore,
	blobStore discovery.BlobStore,
	publisher discovery.Publisher,
	idGen discovery.IDGenerator,
	clock discovery.Clock,
) *dispatcher.Dispatcher {
	hasher := sha256.New()
	workerCfg := worker.Config{
		BlobPrefix: app.cfg.Storage.Prefix,
		Topic:      app.cfg.PubSub.TopicName,
	}
	app.logger.Info("worker config",
		zap.String("blob_prefix", workerCfg.BlobPrefix),
		zap.String("topic", workerCfg.Topic),
	)

	runners := make([]dispatcher.Runner, 0, app.cfg.Jobs.Workers)
	for i := 0; i < app.cfg.Jobs.Workers; i++ {
		runners = append(runners, worker.New(
			app.queue,
			jobStore,
			blobStore,
			app.recordStore,
			publisher,
			hasher,
			clock,
			idGen,
			app.fetchers.Loader,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, runners)
}
