package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/questionbank"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradingHandler  *handler.GradingHandler
	QuestionHandler *handler.QuestionHandler
	QuestionBank    *questionbank.Holder
	EmbeddingModel  string
	// JWTMiddleware authenticates question bank maintenance. Nil leaves it open.
	JWTMiddleware fiber.Handler
	// BatchLimiter throttles batch and upload runs. Nil disables throttling.
	BatchLimiter fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	health := handler.HealthCheck(cfg, deps.QuestionBank, deps.EmbeddingModel)
	app.Get("/health", health)
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", health)

	if deps.GradingHandler != nil {
		var batchMiddleware []fiber.Handler
		if deps.BatchLimiter != nil {
			batchMiddleware = append(batchMiddleware, deps.BatchLimiter)
		}
		deps.GradingHandler.Register(api.Group("/grading"), batchMiddleware...)
	}

	if deps.QuestionHandler != nil {
		var adminMiddleware []fiber.Handler
		if deps.JWTMiddleware != nil {
			adminMiddleware = append(adminMiddleware,
				deps.JWTMiddleware,
				middleware.RequireRole(middleware.RoleAdmin, middleware.RoleTeacher),
			)
		}
		deps.QuestionHandler.Register(api.Group("/questions"), adminMiddleware...)
	}
}
