package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/lms-gateway/internal/backend"
	"github.com/noah-isme/lms-gateway/internal/middleware"
	"github.com/noah-isme/lms-gateway/internal/repository"
	"github.com/noah-isme/lms-gateway/internal/service"
	"github.com/noah-isme/lms-gateway/internal/utils"
)

func principalFromContext(c *fiber.Ctx) service.Principal {
	userID, _ := c.Locals(middleware.LocalUserID).(string)
	token, _ := c.Locals(middleware.LocalAccessToken).(string)
	return service.Principal{
		UserID: strings.TrimSpace(userID),
		Token:  token,
	}
}

// preferenceOwner scopes local preferences to the signed-in user, or to the
// anonymous browser session when nobody is signed in.
func preferenceOwner(c *fiber.Ctx, session string) string {
	if principal := principalFromContext(c); principal.UserID != "" {
		return principal.UserID
	}
	session = strings.TrimSpace(session)
	if session == "" {
		return ""
	}
	return "session:" + session
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

// sendServiceError maps service and backend failures onto gateway status codes.
func sendServiceError(c *fiber.Ctx, logger *zerolog.Logger, err error, fallback string) error {
	switch {
	case errors.Is(err, service.ErrPrincipalRequired), backend.IsUnauthorized(err):
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	case errors.Is(err, service.ErrInvalidPreferenceValue), errors.Is(err, service.ErrNotificationIDRequired):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrPreferenceNotFound), backend.IsNotFound(err):
		return utils.SendError(c, fiber.StatusNotFound, "not found")
	case backend.IsTimeout(err):
		logger.Warn().Err(err).Msg("backend timed out")
		return utils.SendError(c, fiber.StatusGatewayTimeout, "backend timed out")
	case backend.IsNetwork(err):
		logger.Error().Err(err).Msg("backend unreachable")
		return utils.SendError(c, fiber.StatusBadGateway, "backend unavailable")
	}

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		logger.Warn().Err(err).Int("backend_status", apiErr.StatusCode).Msg("backend rejected request")
		message := backend.ServerMessage(err)
		if message == "" {
			message = fallback
		}
		return utils.SendError(c, fiber.StatusBadGateway, message)
	}

	logger.Error().Err(err).Msg(fallback)
	return utils.SendError(c, fiber.StatusInternalServerError, fallback)
}

func validationDetails(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}
	details := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[strings.ToLower(fieldErr.Field())] = fieldErr.Tag()
	}
	return details
}
