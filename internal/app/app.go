// Package app wires configuration into the services shared by the API
// server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/timmy/slidefix/internal/api"
	"github.com/timmy/slidefix/internal/api/handler"
	"github.com/timmy/slidefix/internal/config"
	"github.com/timmy/slidefix/internal/logger"
	"github.com/timmy/slidefix/internal/metrics"
	"github.com/timmy/slidefix/internal/repository"
	"github.com/timmy/slidefix/internal/service"
	"github.com/timmy/slidefix/internal/storage"
	"gorm.io/gorm"
)

// App holds the long-lived components.
type App struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          *gorm.DB
	Cache       *repository.CacheRepository
	Runs        *repository.RunRepository
	Validator   *service.URLValidator
	Suggestions *service.SuggestionClient // nil when suggestions are disabled
	Pipeline    *service.Pipeline
	Exporter    *service.Exporter // nil without object storage
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
}

// New opens the database and builds every service from cfg.
// Parameters:
//   - ctx: bounds startup checks such as bucket creation.
//   - cfg: loaded configuration.
//   - log: application logger.
// Returns:
//   - *App: wired components; call Close when done.
//   - error: database or storage setup failure.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   log,
		DB:       db,
		Cache:    repository.NewCacheRepository(db, cfg.Cache.ScanPageSize),
		Runs:     repository.NewRunRepository(db),
		Registry: reg,
		Metrics:  m,
	}

	a.Validator = service.NewURLValidator(&service.ValidatorConfig{
		Timeout:       cfg.Validator.Timeout,
		MaxConcurrent: cfg.Validator.MaxConcurrent,
		MaxRedirects:  cfg.Validator.MaxRedirects,
		UserAgent:     cfg.Validator.UserAgent,
	}, m)

	var suggester service.Suggester
	switch {
	case !cfg.Suggestion.Enabled:
		log.Info("Image suggestions disabled")
	case cfg.LLM.APIKey == "":
		log.Warn("Image suggestions disabled: no LLM API key configured")
	default:
		llm := service.NewLLMService(&service.LLMConfig{
			Provider:    cfg.LLM.Provider,
			Model:       cfg.LLM.Model,
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
		a.Suggestions = service.NewSuggestionClient(llm, a.Validator, a.Cache, &service.SuggestionConfig{
			MaxAttempts:     cfg.Suggestion.MaxAttempts,
			RatePerSecond:   cfg.Suggestion.RatePerSecond,
			Burst:           cfg.Suggestion.Burst,
			BreakerFailures: cfg.Suggestion.BreakerFailures,
			BreakerDelay:    cfg.Suggestion.BreakerDelay,
		}, m)
		suggester = a.Suggestions
		log.WithFields(logger.Fields{
			"provider": cfg.LLM.Provider,
			"model":    llm.GetModel(),
		}).Info("Image suggestions enabled")
	}

	a.Pipeline, err = service.NewPipeline(a.Cache, a.Validator, suggester, a.Runs, log, &service.PipelineConfig{
		Workers:            cfg.Pipeline.Workers,
		DocumentTimeout:    cfg.Pipeline.DocumentTimeout,
		RevalidateCached:   cfg.Pipeline.RevalidateCached,
		MinConfidence:      cfg.Cache.MinConfidence,
		MaxImagesPerTopic:  cfg.Cache.MaxImagesPerTopic,
		SimilarityEnabled:  cfg.Similarity.Enabled,
		MinSimilarity:      cfg.Similarity.MinSimilarity,
		SimilarLimit:       cfg.Similarity.Limit,
		SuggestionAttempts: cfg.Suggestion.MaxAttempts,
	}, m)
	if err != nil {
		a.Close()
		return nil, err
	}

	objects, err := storage.FromConfig(&cfg.Storage)
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		log.Info("Object storage not configured, exports disabled")
	case err != nil:
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	default:
		if b, ok := objects.(storage.Bucketed); ok {
			bctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := b.EnsureBucket(bctx); err != nil {
				log.WithError(err).Warn("Failed to ensure export bucket")
			}
			cancel()
		}
		a.Exporter = service.NewExporter(objects, a.Cache, a.Runs, cfg.Storage.Prefix, log)
	}

	return a, nil
}

// Close releases the database connection.
func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// RouterDeps returns the API dependencies.
func (a *App) RouterDeps() api.Deps {
	deps := api.Deps{
		Processor: a.Pipeline,
		Cache:     a.Cache,
		Validator: a.Validator,
		DBPing:    a.Ping,
		CacheDefaults: handler.CacheDefaults{
			StatsWindowDays: a.Config.Cache.StatsWindowDays,
			RetentionDays:   a.Config.Cache.RetentionDays,
			UsageFloor:      a.Config.Cache.UsageFloor,
		},
		Gatherer: a.Registry,
		Metrics:  a.Metrics,
		Logger:   a.Logger,
	}
	// typed nils must not reach the interface fields
	if a.Exporter != nil {
		deps.Archiver = a.Exporter
	}
	if a.Suggestions != nil {
		deps.Strategies = a.Suggestions
	}
	return deps
}
