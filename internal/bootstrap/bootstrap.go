// Package bootstrap provides dependency initialization for the render service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/maauso/reelsmith/internal/asset"
	"github.com/maauso/reelsmith/internal/config"
	"github.com/maauso/reelsmith/internal/job"
	"github.com/maauso/reelsmith/internal/media"
	"github.com/maauso/reelsmith/internal/metrics"
	"github.com/maauso/reelsmith/internal/render"
	"github.com/maauso/reelsmith/internal/server"
	"github.com/maauso/reelsmith/internal/storage"
)

// staleWorkspaceAge is how old a leftover workspace must be before startup
// removes it.
const staleWorkspaceAge = time.Hour

// publisher is the storage surface bootstrap needs beyond storage.Storage.
type publisher interface {
	storage.Storage
	SweepWorkspaces(olderThan time.Duration) (int, error)
}

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Router  http.Handler
	Queue   *job.Queue
	Cache   *asset.Cache
	Metrics *metrics.Collector

	cfg     *config.Config
	store   publisher
	closers []func() error
	logger  *slog.Logger
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{cfg: cfg, logger: logger}

	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.store = store

	// Initialize metrics; queue depth is read lazily once the queue exists
	var queue *job.Queue
	collector := metrics.NewCollector(func() int {
		if queue == nil {
			return 0
		}
		return queue.Depth()
	})
	deps.Metrics = collector

	// Initialize asset fetching and the background cache
	fetcher := asset.NewFetcher(
		asset.WithHTTPClient(&http.Client{Timeout: cfg.DownloadTimeout}),
		asset.WithMaxRetries(cfg.DownloadRetries),
		asset.WithLocalSources(cfg.AllowLocalSources),
		asset.WithFetchLogger(logger),
	)
	cache, err := asset.NewCache(cfg.CacheDir, fetcher,
		asset.WithTTL(cfg.CacheTTL),
		asset.WithMaxBytes(cfg.CacheMaxBytes),
		asset.WithFreeSpaceFloor(cfg.CacheMinFreeRatio),
		asset.WithCacheLogger(logger),
		asset.WithCacheObserver(collector),
	)
	if err != nil {
		return nil, fmt.Errorf("create background cache: %w", err)
	}
	deps.Cache = cache

	presets, err := cfg.LoadPresets()
	if err != nil {
		return nil, fmt.Errorf("load caption presets: %w", err)
	}
	bundle := asset.NewBundle(cfg.AssetsDir)

	// Initialize the render engine
	engine := media.NewEngine(cfg.FFmpegPath,
		media.WithTimeout(cfg.EngineTimeout),
		media.WithLogger(logger),
		media.WithObserver(collector.EngineRun),
	)
	prober := media.NewProber(cfg.FFprobePath)

	svc := render.NewService(store, engine, prober,
		render.WithDownloader(fetcher),
		render.WithBackgroundCache(cache),
		render.WithBundle(bundle),
		render.WithPresets(presets),
		render.WithEncodeOptions(cfg.EncodeOptions()),
		render.WithServiceLogger(logger),
	)

	// Initialize job repository
	repo, err := deps.initRepository()
	if err != nil {
		return nil, err
	}

	queue = job.NewQueue(repo, svc, cfg.QueueOptions(),
		job.WithLogger(logger),
		job.WithObserver(collector),
	)
	svc.Attach(queue)
	deps.Queue = queue

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(svc, queue, logger,
		server.WithWaitTimeout(cfg.SyncWaitTimeout),
		server.WithQueueDepth(queue.Depth),
		server.WithAssetLister(bundle.List),
		server.WithLocalSources(cfg.AllowLocalSources),
	)
	deps.Router = server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:        collector.Handler(),
	})

	return deps, nil
}

// Start removes stale workspaces, then launches the cache maintenance loop
// and the job queue workers.
func (d *Dependencies) Start(ctx context.Context) error {
	if n, err := d.store.SweepWorkspaces(staleWorkspaceAge); err != nil {
		d.logger.Warn("failed to sweep stale workspaces", slog.String("error", err.Error()))
	} else if n > 0 {
		d.logger.Info("removed stale workspaces", slog.Int("count", n))
	}

	go d.Cache.Run(ctx, d.cfg.CachePruneInterval)

	if err := d.Queue.Start(ctx); err != nil {
		return fmt.Errorf("start job queue: %w", err)
	}
	return nil
}

// Close stops the queue and releases the job store.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	if err := d.Queue.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop job queue: %w", err))
	}
	for _, c := range d.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initRepository opens the SQLite job store when configured, otherwise jobs
// live in memory.
func (d *Dependencies) initRepository() (job.Repository, error) {
	if d.cfg.JobDBPath == "" {
		d.logger.Info("in-memory job store configured")
		return job.NewMemoryRepository(), nil
	}

	repo, err := job.OpenSQLite(d.cfg.JobDBPath)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	d.closers = append(d.closers, repo.Close)
	d.logger.Info("SQLite job store configured",
		slog.String("path", repo.Path()),
	)
	return repo, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (publisher, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			PublicBaseURL:   cfg.PublicBaseURL,
		}
		s3Store, err := storage.NewS3Storage(cfg.WorkDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.WorkDir, cfg.OutputDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("work_dir", cfg.WorkDir),
		slog.String("output_dir", cfg.OutputDir),
	)
	return localStore, nil
}
