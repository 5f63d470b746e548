// Package app assembles the render service from configuration. Both the
// slidecast-api binary and `slidecast serve` run through it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"slidecast/internal/cache"
	"slidecast/internal/config"
	"slidecast/internal/httpapi"
	"slidecast/internal/httpapi/handlers"
	"slidecast/internal/httpkit"
	"slidecast/internal/metrics"
	"slidecast/internal/pkg/logger"
	"slidecast/internal/pkg/shutdown"
	"slidecast/internal/repositories"
	"slidecast/internal/worker"
	"slidecast/internal/worker/processor"
	"slidecast/internal/worker/renderer"
)

// Version is reported in logs and the fetch User-Agent.
const Version = "0.3.0"

const connectTimeout = 5 * time.Second

type App struct {
	Config    config.Config
	Log       *logger.Logger
	Engine    *renderer.FFmpeg
	Processor *processor.Processor
	Pool      *worker.Pool
	Metrics   *metrics.Metrics
	Limits    processor.Limits
	Shutdown  *shutdown.Manager

	checks []handlers.Check
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.Config, service string) *logger.Logger {
	return logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		AddSource:   cfg.LogSource,
		ServiceName: service,
	})
}

// New wires every component. Redis and Postgres are optional: each is only
// connected when its address is configured. Cleanup for everything opened
// here is registered on the returned App's shutdown manager.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Log:      log,
		Metrics:  metrics.New(),
		Limits:   processor.Limits{MaxSlides: cfg.MaxSlides},
		Shutdown: shutdown.NewManager(log, cfg.ShutdownTimeout),
	}

	engine, err := renderer.NewFFmpeg(cfg.FFmpegCommand, cfg.OverlayFont)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	a.Engine = engine
	a.checks = append(a.checks, handlers.Check{Name: "engine", Ping: func(ctx context.Context) error {
		_, err := engine.Version(ctx)
		return err
	}})

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("work dir: %w", err)
	}

	observers := processor.Observers{a.Metrics}

	var assetCache processor.AssetCache
	if cfg.RedisAddr != "" {
		c, err := a.connectRedis(ctx)
		if err != nil {
			return nil, err
		}
		assetCache = c
	}

	if cfg.DatabaseURL != "" {
		repo, err := a.connectPostgres(ctx)
		if err != nil {
			a.Shutdown.Shutdown()
			return nil, err
		}
		observers = append(observers, repositories.NewAuditObserver(repo, log))
	}

	a.Processor = processor.New(processor.Deps{
		Renderer:          engine,
		Workspaces:        processor.NewWorkspaces(cfg.WorkDir, log),
		HTTPClient:        newFetchClient(cfg.FetchTimeout),
		Cache:             assetCache,
		Observer:          observers,
		Log:               log,
		FetchTimeout:      cfg.FetchTimeout,
		FetchMaxBytes:     cfg.FetchMaxBytes,
		EncodeConcurrency: cfg.EncodeConcurrency,
		EncodeTimeout:     cfg.EncodeTimeout,
		ConcatTimeout:     cfg.ConcatTimeout,
	})

	a.Pool = worker.NewPool(cfg.MaxJobs, cfg.QueueTimeout, log)
	a.Shutdown.Register("render-pool", a.Pool.Drain)

	return a, nil
}

// connectRedis opens the asset cache. An unreachable Redis is logged and
// kept: cache failures never fail a render, and the client reconnects.
func (a *App) connectRedis(ctx context.Context) (*cache.AssetCache, error) {
	a.Log.Info("connecting to Redis", "addr", a.Config.RedisAddr)
	rdb := redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
	a.Shutdown.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})

	c := cache.NewAssetCache(rdb, a.Config.AssetCacheTTL, a.Config.FetchMaxBytes)
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		a.Log.Warn("Redis unreachable, asset cache degraded", "error", err.Error())
	} else {
		a.Log.Info("Redis connected")
	}

	a.checks = append(a.checks, handlers.Check{Name: "redis", Ping: c.Ping})
	return c, nil
}

// connectPostgres opens the audit store and creates its table. Unlike the
// cache, a configured but unreachable database is a startup error.
func (a *App) connectPostgres(ctx context.Context) (*repositories.RenderJobRepository, error) {
	a.Log.Info("connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, a.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.Shutdown.Register("postgres", func(ctx context.Context) error {
		pool.Close()
		return nil
	})

	repo := repositories.NewRenderJobRepository(pool)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := repo.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := repo.EnsureSchema(pingCtx); err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	a.Log.Info("PostgreSQL connected")

	a.checks = append(a.checks, handlers.Check{Name: "postgres", Ping: repo.Ping})
	return repo, nil
}

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler {
	return httpapi.NewRouter(httpapi.Deps{
		Handlers: handlers.Deps{
			Renderer: a.Processor,
			Pool:     a.Pool,
			Limits:   a.Limits,
			Checks:   a.checks,
			Log:      a.Log,
		},
		Metrics:     a.Metrics,
		CORSOrigins: httpkit.SplitList(a.Config.CORSOrigins),
		Log:         a.Log,
	})
}

// Serve listens on Config.Port until ctx ends or a shutdown signal arrives,
// then runs every registered cleanup.
func (a *App) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              "0.0.0.0:" + a.Config.Port,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: a render response lasts as long as the render.
	}

	a.Shutdown.Register("http-server", func(ctx context.Context) error {
		a.Log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("HTTP server listening",
			"addr", server.Addr,
			"max_jobs", a.Pool.Size(),
			"work_dir", a.Config.WorkDir,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case err := <-errCh:
			errCh <- err
			cancel()
		case <-waitCtx.Done():
		}
	}()

	a.Shutdown.Wait(waitCtx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
