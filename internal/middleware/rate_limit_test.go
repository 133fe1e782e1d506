package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-gateway/internal/middleware"
)

func TestRateLimitKeysByUser(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if user := c.Get("X-Test-User"); user != "" {
			c.Locals(middleware.LocalUserID, user)
		}
		return c.Next()
	})
	app.Get("/", middleware.RateLimit("test", 2, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	call := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusNoContent, call("u1"))
	require.Equal(t, fiber.StatusNoContent, call("u1"))
	require.Equal(t, fiber.StatusTooManyRequests, call("u1"))

	require.Equal(t, fiber.StatusNoContent, call("u2"))
	require.Equal(t, fiber.StatusNoContent, call(""))
}
