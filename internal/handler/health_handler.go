package handler

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/lms-gateway/internal/config"
	"github.com/noah-isme/lms-gateway/internal/utils"
)

const healthCheckTimeout = 2 * time.Second

// DependencyCheck reports whether a gateway dependency is reachable.
type DependencyCheck func(ctx context.Context) error

// DependencyStatus is the outcome of one dependency check.
type DependencyStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status       string             `json:"status"`
	Timestamp    time.Time          `json:"timestamp"`
	Service      string             `json:"service"`
	Environment  string             `json:"environment"`
	Dependencies []DependencyStatus `json:"dependencies,omitempty"`
}

// HealthCheck returns a handler that reports application health information.
// A failing dependency marks the gateway degraded; the endpoint itself still
// answers 200 because the gateway keeps serving without its caches and fan-out.
func HealthCheck(cfg config.Config, checks map[string]DependencyCheck) fiber.Handler {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		for _, name := range names {
			ctx, cancel := context.WithTimeout(requestContext(c), healthCheckTimeout)
			err := checks[name](ctx)
			cancel()

			status := DependencyStatus{Name: name, Status: "up"}
			if err != nil {
				status.Status = "down"
				status.Error = err.Error()
				payload.Status = "degraded"
			}
			payload.Dependencies = append(payload.Dependencies, status)
		}

		return utils.SendSuccess(c, "service "+payload.Status, payload)
	}
}
