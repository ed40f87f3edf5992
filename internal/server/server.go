// Package server builds the application's dependency graph from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vinay10110/FinCompilance/internal/api"
	"github.com/vinay10110/FinCompilance/internal/clock/system"
	"github.com/vinay10110/FinCompilance/internal/config"
	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/discovery"
	"github.com/vinay10110/FinCompilance/internal/dispatcher"
	"github.com/vinay10110/FinCompilance/internal/embedding/openai"
	pdfextract "github.com/vinay10110/FinCompilance/internal/extract/pdf"
	collyfetcher "github.com/vinay10110/FinCompilance/internal/fetcher/colly"
	"github.com/vinay10110/FinCompilance/internal/id/uuid"
	"github.com/vinay10110/FinCompilance/internal/ingest"
	"github.com/vinay10110/FinCompilance/internal/logging"
	"github.com/vinay10110/FinCompilance/internal/metrics"
	"github.com/vinay10110/FinCompilance/internal/notify"
	slacknotify "github.com/vinay10110/FinCompilance/internal/notify/slack"
	"github.com/vinay10110/FinCompilance/internal/policy/ratelimit"
	gcppublisher "github.com/vinay10110/FinCompilance/internal/publisher/pubsub"
	queueMemory "github.com/vinay10110/FinCompilance/internal/queue/memory"
	"github.com/vinay10110/FinCompilance/internal/scheduler"
	gcsstorage "github.com/vinay10110/FinCompilance/internal/storage/gcs"
	localstorage "github.com/vinay10110/FinCompilance/internal/storage/local"
	memoryStorage "github.com/vinay10110/FinCompilance/internal/storage/memory"
	pgstore "github.com/vinay10110/FinCompilance/internal/storage/postgres"
	sqlitestore "github.com/vinay10110/FinCompilance/internal/storage/sqlite"
	"github.com/vinay10110/FinCompilance/internal/telemetry"
	"github.com/vinay10110/FinCompilance/internal/worker"
)

// ErrIngestionUnavailable is returned when no embedding client is configured.
var ErrIngestionUnavailable = errors.New("ingestion is unavailable: embedding.api_key is not set")

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  crawler.Clock

	runner    *discovery.Runner
	pipeline  *ingest.Pipeline
	scheduler *scheduler.Scheduler
	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
	checks    []api.ReadinessCheck

	pool            *pgxpool.Pool
	sqlite          *sqlitestore.DocumentStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	tracer          *sdktrace.TracerProvider

	closeOnce sync.Once
}

// stores groups the persistence backends chosen by configuration.
type stores struct {
	documents crawler.DocumentStore
	vectors   crawler.VectorStore
	blobs     crawler.BlobStore
}

// Build creates the application's dependencies. A failed build releases whatever it opened.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()
	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies",
		zap.Int("server_port", a.cfg.Server.Port),
		zap.String("db_driver", a.cfg.DB.Driver),
		zap.String("vector_driver", a.cfg.Vector.Driver),
		zap.String("storage_driver", a.cfg.Storage.Driver),
	)

	if a.cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: a.cfg.Tracing.ServiceName,
			SampleRatio: a.cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.tracer = tp
	}

	st, err := a.setupStores(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	notifier, err := a.setupNotifier(publisher)
	if err != nil {
		return err
	}

	normalizer, err := crawler.NewNormalizer(a.cfg.Source.BaseURL, a.cfg.Source.ScriptRoot)
	if err != nil {
		return fmt.Errorf("link normalizer init failed: %w", err)
	}
	fetcher := a.setupFetcher()

	a.runner = discovery.NewRunner(
		st.documents,
		fetcher,
		normalizer,
		a.cfg.Source.Categories,
		notifier,
		nil,
		uuid.New(),
		a.clock,
		discovery.Config{
			PressReleaseURL: a.cfg.Source.PressReleaseURL,
			CircularURL:     a.cfg.Source.CircularURL,
			CategoryDelay:   a.cfg.CategoryDelay(),
		},
		a.logger.Named("discovery"),
	)

	if err := a.setupPipeline(fetcher, st); err != nil {
		return err
	}
	a.setupDispatcher(publisher)

	if a.cfg.Schedule.Enabled {
		a.scheduler, err = scheduler.New(a.runner, scheduler.Config{
			Spec:         a.cfg.Schedule.Spec,
			RunOnStart:   a.cfg.Schedule.RunOnStart,
			CycleTimeout: config.Seconds(a.cfg.Schedule.CycleTimeoutSeconds),
		}, a.logger.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	var (
		ingester api.Ingester
		enqueuer api.Enqueuer
	)
	if a.pipeline != nil {
		ingester = a.pipeline
		enqueuer = a.dispatch
	}
	a.apiServer = api.NewServer(a.runner, ingester, enqueuer, uuid.New(), *a.cfg, a.logger.Named("api"), a.checks...)
	return nil
}

func (a *App) setupFetcher() *collyfetcher.Fetcher {
	initial, maxDelay := a.cfg.BackoffBounds()
	retry := crawler.NewExponentialRetryPolicy(a.cfg.HTTP.MaxRetries, initial, maxDelay)
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.HTTP.RateLimitRPS,
		DefaultBurst: a.cfg.HTTP.RateLimitBurst,
	})
	a.logger.Info("using colly fetcher",
		zap.Duration("timeout", a.cfg.FetchTimeout()),
		zap.Int("max_retries", a.cfg.HTTP.MaxRetries),
		zap.Float64("rate_limit_rps", a.cfg.HTTP.RateLimitRPS),
	)
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.HTTP.UserAgent,
		Referer:      a.cfg.Source.BaseURL,
		Timeout:      a.cfg.FetchTimeout(),
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	}, retry, limiter, a.logger.Named("fetcher"))
}

func (a *App) setupStores(ctx context.Context) (stores, error) {
	var st stores
	if a.cfg.DB.Driver == config.DriverPostgres || a.cfg.Vector.Driver == config.DriverPostgres {
		pool, err := pgstore.Open(ctx, pgstore.Config{
			DSN:      a.cfg.DB.DSN,
			MaxConns: a.cfg.DB.MaxConns,
			MinConns: a.cfg.DB.MinConns,
			Migrate:  a.cfg.DB.Migrate,
		})
		if err != nil {
			return st, fmt.Errorf("postgres init failed: %w", err)
		}
		a.pool = pool
		a.checks = append(a.checks, api.ReadinessCheck{Name: "postgres", Check: pool.Ping})
		a.logger.Info("postgres pool initialized")
	}

	switch a.cfg.DB.Driver {
	case config.DriverPostgres:
		docs, err := pgstore.NewDocumentStore(a.pool)
		if err != nil {
			return st, fmt.Errorf("postgres document store init failed: %w", err)
		}
		st.documents = docs
	case config.DriverSQLite:
		docs, err := sqlitestore.Open(a.cfg.DB.SQLitePath)
		if err != nil {
			return st, fmt.Errorf("sqlite document store init failed: %w", err)
		}
		a.sqlite = docs
		a.checks = append(a.checks, api.ReadinessCheck{Name: "sqlite", Check: docs.Ping})
		a.logger.Info("using sqlite document store", zap.String("path", docs.Path()))
		st.documents = docs
	default:
		a.logger.Warn("using in-memory document store; discovered documents are lost on restart")
		st.documents = memoryStorage.NewDocumentStore()
	}

	switch a.cfg.Vector.Driver {
	case config.DriverPostgres:
		vectors, err := pgstore.NewVectorStore(a.pool)
		if err != nil {
			return st, fmt.Errorf("postgres vector store init failed: %w", err)
		}
		st.vectors = vectors
	default:
		st.vectors = memoryStorage.NewVectorStore(a.cfg.Vector.Dimensions)
	}

	blobs, err := a.setupBlobStore(ctx)
	if err != nil {
		return st, err
	}
	st.blobs = blobs
	return st, nil
}

func (a *App) setupBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Driver {
	case config.DriverGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS archive", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case config.DriverLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local archive", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	case config.DriverMemory:
		return memoryStorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub project configured, events are not published")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
		zap.String("ingest_topic", a.cfg.PubSub.IngestTopic),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupNotifier(publisher crawler.Publisher) (crawler.Notifier, error) {
	var multi notify.Multi
	if a.cfg.Notify.Log {
		multi = append(multi, notify.NewLogNotifier(a.logger.Named("notify")))
	}
	if a.cfg.Notify.SlackWebhookURL != "" {
		slackNotifier, err := slacknotify.New(slacknotify.Config{WebhookURL: a.cfg.Notify.SlackWebhookURL})
		if err != nil {
			return nil, fmt.Errorf("slack notifier init failed: %w", err)
		}
		multi = append(multi, slackNotifier)
		a.logger.Info("slack notifications enabled")
	}
	if publisher != nil && a.cfg.PubSub.TopicName != "" {
		multi = append(multi, notify.NewPublisherNotifier(publisher, a.cfg.PubSub.TopicName, a.clock, a.logger.Named("notify")))
	}
	if len(multi) == 0 {
		return nil, nil
	}
	return multi, nil
}

func (a *App) setupPipeline(fetcher crawler.Fetcher, st stores) error {
	if a.cfg.Embedding.APIKey == "" {
		a.logger.Warn("embedding.api_key not set; document ingestion is disabled")
		return nil
	}
	embedder, err := openai.New(openai.Config{
		APIKey:     a.cfg.Embedding.APIKey,
		BaseURL:    a.cfg.Embedding.BaseURL,
		Model:      a.cfg.Embedding.Model,
		Dimensions: a.cfg.Embedding.Dimensions,
		Timeout:    config.Seconds(a.cfg.Embedding.TimeoutSeconds),
		MaxRetries: a.cfg.Embedding.MaxRetries,
	}, a.logger.Named("embedding"))
	if err != nil {
		return fmt.Errorf("embedding client init failed: %w", err)
	}
	a.pipeline = ingest.New(
		fetcher,
		pdfextract.New(pdfextract.Config{}, a.logger.Named("pdf")),
		embedder,
		st.vectors,
		st.documents,
		st.blobs,
		ingest.Config{
			ChunkSize:        a.cfg.Ingest.ChunkSize,
			ChunkOverlap:     a.cfg.Ingest.ChunkOverlap,
			EmbedBatchSize:   a.cfg.Ingest.EmbedBatchSize,
			EmbedConcurrency: a.cfg.Ingest.EmbedConcurrency,
			ArchiveDocuments: a.cfg.Ingest.Archive && st.blobs != nil,
			ArchivePrefix:    a.cfg.Ingest.ArchivePrefix,
			Timeout:          config.Seconds(a.cfg.Crawler.IngestTimeoutSeconds),
		},
		a.logger.Named("ingest"),
	)
	a.logger.Info("ingestion pipeline ready",
		zap.String("model", embedder.Model()),
		zap.Int("chunk_size", a.cfg.Ingest.ChunkSize),
		zap.Int("chunk_overlap", a.cfg.Ingest.ChunkOverlap),
	)
	return nil
}

func (a *App) setupDispatcher(publisher crawler.Publisher) {
	a.queue = queueMemory.NewQueue(a.cfg.Crawler.QueueDepth)
	var workers []*worker.Worker
	if a.pipeline != nil {
		workerCfg := worker.Config{
			Timeout: config.Seconds(a.cfg.Crawler.IngestTimeoutSeconds),
			Topic:   a.cfg.PubSub.IngestTopic,
		}
		if publisher == nil {
			workerCfg.Topic = ""
		}
		for i := range a.cfg.Crawler.Concurrency {
			workers = append(workers, worker.New(i, a.queue, a.pipeline, publisher, a.clock, workerCfg, a.logger.Named("worker")))
		}
	}
	a.dispatch = dispatcher.New(a.queue, workers, a.clock)
	a.logger.Info("worker pool configured",
		zap.Int("workers", len(workers)),
		zap.Int("queue_depth", a.cfg.Crawler.QueueDepth),
	)
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunCycle runs one crawl cycle for class.
func (a *App) RunCycle(ctx context.Context, class crawler.DocumentClass) (crawler.CycleResult, error) {
	return a.runner.RunCycle(ctx, class)
}

// Ingester returns the ingestion pipeline, or ErrIngestionUnavailable without an embedder.
func (a *App) Ingester() (api.Ingester, error) {
	if a.pipeline == nil {
		return nil, ErrIngestionUnavailable
	}
	return a.pipeline, nil
}

// Run starts the worker pool, the scheduler and the HTTP server, and blocks until ctx is
// canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(gctx)
		return nil
	})
	if a.scheduler != nil {
		g.Go(func() error {
			a.logger.Info("scheduler started", zap.String("spec", a.cfg.Schedule.Spec))
			a.scheduler.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(a.cfg.Server.ShutdownTimeoutSeconds))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		a.queue.Close()
		return nil
	})

	err := g.Wait()
	a.Close()
	return err
}

// Close releases every client the App opened and flushes the logger. Later calls are no-ops.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Close()
		}
		a.closeInfrastructure()
		a.logger.Info("shutdown complete")
		_ = a.logger.Sync()
	})
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
		a.sqlite = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
}
