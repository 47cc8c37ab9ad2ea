package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/zahidkhandev/flopods-sub000/internal/adapters/driven/ai"
	"github.com/zahidkhandev/flopods-sub000/internal/adapters/driven/extract"
	"github.com/zahidkhandev/flopods-sub000/internal/adapters/driven/postgres"
	postgresqueue "github.com/zahidkhandev/flopods-sub000/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/zahidkhandev/flopods-sub000/internal/adapters/driven/queue/redis"
	redisadapter "github.com/zahidkhandev/flopods-sub000/internal/adapters/driven/redis"
	"github.com/zahidkhandev/flopods-sub000/internal/adapters/driven/storage"
	"github.com/zahidkhandev/flopods-sub000/internal/billing"
	"github.com/zahidkhandev/flopods-sub000/internal/chunker"
	"github.com/zahidkhandev/flopods-sub000/internal/config"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driving"
	"github.com/zahidkhandev/flopods-sub000/internal/core/services"
	"github.com/zahidkhandev/flopods-sub000/internal/extractors"
	"github.com/zahidkhandev/flopods-sub000/internal/ratelimit"
	"github.com/zahidkhandev/flopods-sub000/internal/runtime"
)

// app holds the wired adapters and services of one process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *postgres.DB
	redisClient *redis.Client

	taskQueue       driven.TaskQueue
	lock            driven.DistributedLock
	documentStorage driven.ObjectStorage
	vectorStorage   driven.ObjectStorage

	runtime     *runtime.Services
	estimator   *billing.Estimator
	keys        *services.KeyResolver
	documents   driving.DocumentService
	search      driving.SearchService
	ingestion   *services.IngestionService
	pipeline    *services.EmbeddingPipeline
	maintenance *services.MaintenanceService
	scheduler   *services.Scheduler
}

// newApp connects to every backend and builds the services.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ready := false
	defer func() {
		if !ready {
			_ = a.Close()
		}
	}()

	var err error

	logger.Info("connecting to postgres")
	a.db, err = postgres.Connect(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		a.redisClient = redis.NewClient(opts)
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	// Task queue and lock: Redis when available, otherwise PostgreSQL
	if a.redisClient != nil {
		hostname, _ := os.Hostname()
		a.taskQueue, err = redisqueue.NewQueue(ctx, a.redisClient, redisqueue.Config{
			ConsumerName: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create task queue: %w", err)
		}
		a.lock = redisadapter.NewLock(a.redisClient)
	} else {
		a.taskQueue = postgresqueue.NewQueue(a.db.DB)
		a.lock = postgres.NewAdvisoryLock(a.db)
	}
	logger.Info("queue backend selected", "backend", cfg.QueueBackend())

	a.documentStorage, err = newObjectStorage(ctx, cfg.Storage, cfg.Storage.DocumentsBucket)
	if err != nil {
		return nil, fmt.Errorf("documents bucket: %w", err)
	}
	a.vectorStorage, err = newObjectStorage(ctx, cfg.Storage, cfg.Storage.VectorsBucket)
	if err != nil {
		return nil, fmt.Errorf("vectors bucket: %w", err)
	}

	a.runtime = runtime.NewServices()
	embedding, err := ai.NewEmbeddingProvider(ai.ProviderConfig(cfg.Embedding))
	if err != nil {
		return nil, err
	}
	if embedding != nil {
		a.runtime.SetEmbeddingProvider(embedding, cfg.Embedding.Model)
	}
	vision, err := ai.NewVisionProvider(ai.ProviderConfig(cfg.Vision))
	if err != nil {
		return nil, err
	}
	if vision != nil {
		a.runtime.SetVisionProvider(vision, cfg.Vision.Model)
	}

	a.estimator, err = billing.NewEstimator(cfg.Billing)
	if err != nil {
		return nil, err
	}
	chunks, err := chunker.New(cfg.Chunking, chunker.NewEstimateTokenizer())
	if err != nil {
		return nil, err
	}

	var providerKeys driven.ProviderKeyStore
	if cfg.ProviderKeySecret != "" {
		encryptor, err := postgres.NewSecretEncryptorFromSecret(cfg.ProviderKeySecret)
		if err != nil {
			return nil, err
		}
		providerKeys = postgres.NewProviderKeyStore(a.db, encryptor)
	} else {
		logger.Warn("PROVIDER_KEY_SECRET not set, workspace keys disabled; platform keys only")
	}
	creditStore := postgres.NewCreditStore(a.db)
	a.keys = services.NewKeyResolver(providerKeys, creditStore, cfg.PlatformKeys)

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.FreeRequestsPerMinute = cfg.FreeRequestsPerMinute
	limiterCfg.PaidRequestsPerMinute = cfg.PaidRequestsPerMinute
	limiterCfg.Logger = logger
	limiter := ratelimit.New(limiterCfg)

	documentStore := postgres.NewDocumentStore(a.db)
	embeddingStore := postgres.NewEmbeddingStore(a.db)
	costStore := postgres.NewCostStore(a.db)
	ledger := services.NewCreditLedger(creditStore, logger)

	registry := extractors.DefaultRegistry()
	registry.Register(extract.NewDocconvExtractor(true))

	a.ingestion = services.NewIngestionService(services.IngestionServiceConfig{
		Documents:     documentStore,
		Storage:       a.documentStorage,
		Queue:         a.taskQueue,
		Extractors:    registry,
		Transcripts:   extract.NewYouTubeTranscripts(extract.YouTubeConfig{}),
		Scraper:       extract.NewWebScraper(extract.WebScraperConfig{UseReadability: true}),
		Services:      a.runtime,
		Keys:          a.keys,
		Ledger:        ledger,
		Estimator:     a.estimator,
		Costs:         costStore,
		VisionTimeout: cfg.Pipeline.VisionTimeout,
		Logger:        logger,
	})

	a.pipeline = services.NewEmbeddingPipeline(services.EmbeddingPipelineConfig{
		Documents:        documentStore,
		Embeddings:       embeddingStore,
		Costs:            costStore,
		DocumentStorage:  a.documentStorage,
		VectorStorage:    a.vectorStorage,
		Queue:            a.taskQueue,
		Lock:             a.lock,
		Keys:             a.keys,
		Ledger:           ledger,
		Estimator:        a.estimator,
		Chunker:          chunks,
		Services:         a.runtime,
		Limiter:          limiter,
		MaxRetryCycles:   cfg.Pipeline.MaxRetryCycles,
		RequeueBaseDelay: cfg.Pipeline.RequeueBaseDelay,
		RequeueMaxDelay:  cfg.Pipeline.RequeueMaxDelay,
		LockTTL:          cfg.Pipeline.LockTTL,
		Logger:           logger,
	})

	a.maintenance = services.NewMaintenanceService(services.MaintenanceServiceConfig{
		Documents:     documentStore,
		Queue:         a.taskQueue,
		Lock:          a.lock,
		StaleAfter:    cfg.Pipeline.StaleAfter,
		TaskRetention: cfg.Pipeline.TaskRetention,
		Logger:        logger,
	})

	a.scheduler = services.NewScheduler(services.SchedulerConfig{
		Store:        postgres.NewSchedulerStore(a.db),
		TaskQueue:    a.taskQueue,
		Lock:         a.lock,
		Logger:       logger,
		PollInterval: cfg.Worker.SchedulerPoll,
	})

	a.documents = services.NewDocumentService(documentStore, a.documentStorage, a.taskQueue, costStore)
	a.search = services.NewSearchService(services.SearchServiceConfig{
		Embeddings: embeddingStore,
		Services:   a.runtime,
		Keys:       a.keys,
		Limiter:    limiter,
		Logger:     logger,
	})

	ready = true
	return a, nil
}

func newObjectStorage(ctx context.Context, cfg config.StorageConfig, bucket string) (driven.ObjectStorage, error) {
	switch cfg.Backend {
	case config.StorageMinio:
		s, err := storage.NewMinioStorage(storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    bucket,
			UseSSL:    cfg.UseSSL,
			Region:    cfg.Region,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return storage.NewS3Storage(ctx, storage.S3Config{
			Region:       cfg.Region,
			Bucket:       bucket,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
		})
	}
}

// migrate creates the schema and, for the postgres backend, the tasks table.
func (a *app) migrate(ctx context.Context) error {
	if err := a.db.InitSchema(ctx); err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx, postgresqueue.CreateTasksTableSQL); err != nil {
		return fmt.Errorf("failed to create tasks table: %w", err)
	}
	return nil
}

// Close releases every connection; safe on a partially built app.
func (a *app) Close() error {
	var errs []error
	if a.ingestion != nil {
		a.ingestion.Wait()
	}
	if a.taskQueue != nil {
		errs = append(errs, a.taskQueue.Close())
	}
	if a.runtime != nil {
		errs = append(errs, a.runtime.Close())
	}
	if a.redisClient != nil {
		errs = append(errs, a.redisClient.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
