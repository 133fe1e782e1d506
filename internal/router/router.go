package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/lms-gateway/internal/config"
	"github.com/noah-isme/lms-gateway/internal/handler"
	"github.com/noah-isme/lms-gateway/internal/middleware"
	"github.com/noah-isme/lms-gateway/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	EnrollmentHandler   *handler.EnrollmentHandler
	ReferralHandler     *handler.ReferralHandler
	NotificationHandler *handler.NotificationHandler
	PreferenceHandler   *handler.PreferenceHandler
	AssistantHandler    *handler.AssistantHandler
	JWTMiddleware       fiber.Handler
	OptionalJWT         fiber.Handler
	HealthChecks        map[string]handler.DependencyCheck
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthChecks))
	api.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middlewares, or a no-op if nil
	protected := deps.JWTMiddleware
	if protected == nil {
		protected = func(c *fiber.Ctx) error { return c.Next() }
	}
	optional := deps.OptionalJWT
	if optional == nil {
		optional = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.EnrollmentHandler != nil {
		deps.EnrollmentHandler.Register(api.Group("/enrollments", protected))
	}

	if deps.ReferralHandler != nil {
		referrals := api.Group("/referrals", optional, middleware.RateLimit("referrals", cfg.ReferralRateLimit, time.Minute))
		deps.ReferralHandler.Register(referrals)
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(api.Group("/notifications", protected))
	}

	if deps.PreferenceHandler != nil {
		deps.PreferenceHandler.Register(api.Group("/preferences", optional))
	}

	if deps.AssistantHandler != nil {
		assistant := api.Group("/assistant", optional, middleware.RateLimit("assistant", 30, time.Minute))
		deps.AssistantHandler.Register(assistant)
	}
}
