package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/teaching-eval-scoring/internal/config"
	"github.com/noah-isme/teaching-eval-scoring/internal/handler"
	"github.com/noah-isme/teaching-eval-scoring/internal/middleware"
	"github.com/noah-isme/teaching-eval-scoring/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ScoringHandler       *handler.ScoringHandler
	ArchivedScoreHandler *handler.ArchivedScoreHandler
	TemplateHandler      *handler.TemplateHandler
	JWTMiddleware        fiber.Handler
	HealthProbes         map[string]handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	adminOnly := middleware.RequireRole(middleware.AuthRoleAdmin)

	scoringGroup := api.Group("/scoring", jwtMiddleware)

	// Templates are readable by teachers, so they sit outside the admin guard.
	if deps.TemplateHandler != nil {
		deps.TemplateHandler.Register(scoringGroup.Group("/templates"), adminOnly)
	}

	if deps.ScoringHandler != nil {
		batchLimit := middleware.RateLimit("batch-score", cfg.BatchRateLimit, time.Minute)
		deps.ScoringHandler.Register(scoringGroup, adminOnly, batchLimit)
	}

	if deps.ArchivedScoreHandler != nil {
		archives := api.Group("/archived-scores", jwtMiddleware, adminOnly)
		deps.ArchivedScoreHandler.Register(archives)
	}
}
