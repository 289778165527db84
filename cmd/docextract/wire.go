package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docextract/internal/batch"
	"github.com/joseph-ayodele/docextract/internal/cache"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/convert"
	"github.com/joseph-ayodele/docextract/internal/export"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/llm/gemini"
	"github.com/joseph-ayodele/docextract/internal/llm/openai"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	repo "github.com/joseph-ayodele/docextract/internal/repository"
	"github.com/joseph-ayodele/docextract/internal/session"
)

const inMemoryDSN = "file:docextract-mem?mode=memory&cache=shared"

// app is the fully wired object graph shared by every command.
type app struct {
	cfg       *common.Config
	logger    *slog.Logger
	db        *repo.DB
	cache     *cache.ResultCache
	scheduler *batch.Scheduler
	sessions  *session.Manager
	svc       *pipeline.Service
	exporter  *export.Service
	closers   []func() error
}

type wireOptions struct {
	requireLLM bool
	inMemory   bool
}

func newApp(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts wireOptions) (*app, error) {
	if opts.inMemory {
		cfg.Database.Driver = repo.DriverSQLite
		cfg.Database.DSN = inMemoryDSN
	}
	validate := cfg.ValidateOffline
	if opts.requireLLM {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	db, err := repo.Open(ctx, repo.ConfigFrom(cfg.Database), logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() error { db.Close(); return nil })

	if err := db.HealthCheck(ctx, 5*time.Second); err != nil {
		a.close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	repos := repo.NewRepositories(db, logger)

	registry, err := llm.LoadRegistry(cfg.Schemas.Path)
	if err != nil {
		a.close()
		return nil, err
	}

	cacheOpts := []cache.Option{cache.WithTTL(cfg.Cache.TTL)}
	if cfg.Cache.Persist {
		cacheOpts = append(cacheOpts, cache.WithStore(repos.Cache))
	}
	a.cache, err = cache.New(cfg.Cache.MaxEntries, logger, cacheOpts...)
	if err != nil {
		a.close()
		return nil, err
	}

	extractor, err := a.buildExtractor(ctx, registry)
	if err != nil {
		a.close()
		return nil, err
	}

	a.scheduler = batch.NewFromConfig(cfg.Scheduler, extractor, a.cache, cfg.Cache.TTL, logger)
	a.sessions = session.NewManager(repos, session.ConfigFrom(cfg.Session), logger,
		session.WithSweepHook(func(ctx context.Context) {
			if n, err := a.cache.Sweep(ctx); err != nil {
				logger.Error("cache.sweep.failed", "error", err)
			} else if n > 0 {
				logger.Info("cache.sweep.ok", "removed", n)
			}
		}),
	)
	a.svc = pipeline.NewService(a.sessions, a.scheduler, convert.New(cfg.Convert, logger), registry, logger,
		pipeline.WithDefaultModel(cfg.LLM.Model),
		pipeline.WithConvertWorkers(cfg.Convert.Workers),
		pipeline.WithCache(a.cache),
	)
	a.exporter = export.NewService(a.svc, logger)
	return a, nil
}

// buildExtractor routes gemini-* models to Gemini and everything else to the
// OpenAI-compatible client. Without keys the router rejects every model.
func (a *app) buildExtractor(ctx context.Context, registry *llm.Registry) (llm.BatchExtractor, error) {
	var fallback llm.BatchExtractor
	if a.cfg.LLM.APIKey != "" {
		fallback = openai.NewClient(openai.Config{
			APIKey:          a.cfg.LLM.APIKey,
			BaseURL:         a.cfg.LLM.BaseURL,
			Temperature:     a.cfg.LLM.Temperature,
			Timeout:         a.cfg.LLM.Timeout,
			LenientOptional: a.cfg.LLM.LenientOptional,
		}, registry, a.logger)
	}
	router := llm.NewRouter(fallback)
	if a.cfg.LLM.GeminiAPIKey != "" {
		gc, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:          a.cfg.LLM.GeminiAPIKey,
			Temperature:     a.cfg.LLM.Temperature,
			Timeout:         a.cfg.LLM.Timeout,
			LenientOptional: a.cfg.LLM.LenientOptional,
		}, registry, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gc.Close)
		router.Route("gemini", gc)
	}
	return router, nil
}

// close stops the scheduler and releases clients and the database, in reverse
// order of construction.
func (a *app) close() {
	if a.scheduler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		a.scheduler.Shutdown(ctx)
		cancel()
	}
	if a.cache != nil {
		a.cache.Flush()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}
