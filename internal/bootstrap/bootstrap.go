// Package bootstrap assembles the scoring engine from configuration for the API server and the
// scorectl tool.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/teaching-eval-scoring/internal/config"
	"github.com/noah-isme/teaching-eval-scoring/internal/database"
	"github.com/noah-isme/teaching-eval-scoring/internal/locator"
	"github.com/noah-isme/teaching-eval-scoring/internal/repository"
	"github.com/noah-isme/teaching-eval-scoring/internal/service"
	"github.com/noah-isme/teaching-eval-scoring/pkg/ai"
	"github.com/noah-isme/teaching-eval-scoring/pkg/docparse"
)

// ErrUnreachable marks a dependency that could not be contacted at startup.
var ErrUnreachable = errors.New("dependency unreachable")

// Runtime holds the live connections and services.
type Runtime struct {
	DB        *gorm.DB
	Redis     *redis.Client
	NATS      *nats.Conn
	Validator *validator.Validate

	Templates service.TemplateStore
	Scoring   service.ScoringService
	Records   service.ScoringRecordService
	Tasks     repository.EvaluationTaskRepository

	logger zerolog.Logger
}

// New connects to every configured dependency, migrates the schema, seeds default templates and
// builds the services. Optional dependencies (redis, nats) are skipped when their URL is empty.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{
		Validator: validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With().Str("component", "bootstrap").Logger(),
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	rt.DB = db
	if err := database.Migrate(db); err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.RedisURL != "" {
		client, err := database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		rt.Redis = client
	}

	if cfg.NATSURL != "" {
		conn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		rt.NATS = conn
	}

	templateRepo := repository.NewScoringTemplateRepository(db)
	recordRepo := repository.NewScoringRecordRepository(db)
	rt.Tasks = repository.NewEvaluationTaskRepository(db)
	callRepo := repository.NewLLMCallRepository(db)

	llm, err := ai.NewChatClient(ai.ChatConfig{
		APIKey:         cfg.LLM.APIKey,
		Endpoint:       cfg.LLM.Endpoint,
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
		RequestTimeout: cfg.RequestTimeout,
		RetryAttempts:  cfg.LLM.RetryAttempts,
		RetryBackoff:   cfg.LLM.RetryBackoff,
		JSONMode:       true,
		Recorder:       service.NewLLMCallRecorder(callRepo),
		Logger:         logger,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	rt.Templates = service.NewTemplateStore(templateRepo, rt.Validator, logger)
	seeded, err := rt.Templates.Seed(ctx)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("seed scoring templates: %w", err)
	}
	if seeded > 0 {
		rt.logger.Info().Int("templates", seeded).Msg("seeded default scoring templates")
	}

	registry := service.NewGormTaskRegistry(rt.Tasks)
	events := service.NewEventPublisher(rt.NATS, cfg.NATSSubject, logger)
	documents := service.NewDocumentLoader(
		locator.New(cfg.FileSearchRoots),
		docparse.New(cfg.MaxExtractedChars),
		service.NewParseCache(rt.Redis, cfg.ParseCacheTTL, logger),
		logger,
	)

	rt.Scoring = service.NewScoringService(service.ScoringDependencies{
		Templates: rt.Templates,
		Records:   recordRepo,
		Registry:  registry,
		Documents: documents,
		LLM:       llm,
		Events:    events,
		Validator: rt.Validator,
		Logger:    logger,
	}, service.ScoringConfig{
		TaskTimeout:      cfg.TaskTimeout,
		RequestTimeout:   cfg.RequestTimeout,
		MaxTokens:        cfg.LLM.MaxTokens,
		Temperature:      cfg.LLM.Temperature,
		BatchConcurrency: cfg.BatchConcurrency,
		LLMConcurrency:   cfg.LLMConcurrency,
		QueueDepth:       cfg.QueueDepth,
	})
	rt.Records = service.NewScoringRecordService(recordRepo, registry, events, logger)

	return rt, nil
}

// Probes returns health probes for the live dependencies.
func (rt *Runtime) Probes() map[string]func(context.Context) error {
	probes := map[string]func(context.Context) error{
		"database": func(ctx context.Context) error { return database.Ping(ctx, rt.DB) },
	}
	if rt.Redis != nil {
		probes["redis"] = func(ctx context.Context) error { return rt.Redis.Ping(ctx).Err() }
	}
	if rt.NATS != nil {
		probes["nats"] = func(context.Context) error {
			if !rt.NATS.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}
	}
	return probes
}

// Close releases every connection; safe on a partially built runtime.
func (rt *Runtime) Close() {
	if rt.NATS != nil {
		if err := rt.NATS.Drain(); err != nil {
			rt.logger.Warn().Err(err).Msg("failed to drain nats connection")
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if rt.DB != nil {
		if sqlDB, err := rt.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
