package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/teaching-eval-scoring/internal/bootstrap"
	"github.com/noah-isme/teaching-eval-scoring/internal/config"
	"github.com/noah-isme/teaching-eval-scoring/internal/handler"
	"github.com/noah-isme/teaching-eval-scoring/internal/middleware"
	"github.com/noah-isme/teaching-eval-scoring/internal/router"
)

const (
	exitFailure     = 1
	exitConfig      = 2
	exitUnreachable = 3
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load configuration")
		os.Exit(exitConfig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	rt, err := bootstrap.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("failed to start scoring engine")
		switch {
		case errors.Is(err, config.ErrInvalid):
			os.Exit(exitConfig)
		case errors.Is(err, bootstrap.ErrUnreachable):
			os.Exit(exitUnreachable)
		default:
			os.Exit(exitFailure)
		}
	}
	defer rt.Close()

	probes := make(map[string]handler.HealthProbe)
	for name, probe := range rt.Probes() {
		probes[name] = probe
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		// Single scoring calls wait on the LLM; leave room past the task timeout.
		WriteTimeout: cfg.TaskTimeout + 10*time.Second,
	})

	middleware.Register(app, middleware.Config{
		Logger:         &logger,
		AllowedOrigins: cfg.AllowedOrigins,
		AccessLog:      cfg.AppEnv == "development",
	})
	router.Register(app, cfg, router.Dependencies{
		ScoringHandler:       handler.NewScoringHandler(rt.Scoring, rt.Records, rt.Validator, logger),
		ArchivedScoreHandler: handler.NewArchivedScoreHandler(rt.Records, logger),
		TemplateHandler:      handler.NewTemplateHandler(rt.Templates, logger),
		JWTMiddleware:        middleware.JWTProtected(cfg.JWTSecret),
		HealthProbes:         probes,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Error().Err(err).Msg("failed to start server")
			os.Exit(exitFailure)
		}
	}()

	waitForShutdown(app, cfg, logger)
}

func waitForShutdown(app *fiber.App, cfg config.Config, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	// In-flight scoring calls are allowed to finish within one request timeout.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
