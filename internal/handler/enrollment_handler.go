package handler

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/service"
	"github.com/noah-isme/lms-gateway/internal/utils"
)

// EnrollmentHandler serves the "My Courses" listing.
type EnrollmentHandler struct {
	service       service.EnrollmentService
	validator     *validator.Validate
	defaultLocale string
	logger        zerolog.Logger
}

// NewEnrollmentHandler constructs the handler. defaultLocale is used for title
// collation when the request names none.
func NewEnrollmentHandler(service service.EnrollmentService, validate *validator.Validate, defaultLocale string, logger zerolog.Logger) *EnrollmentHandler {
	return &EnrollmentHandler{
		service:       service,
		validator:     validate,
		defaultLocale: defaultLocale,
		logger:        logger.With().Str("component", "enrollment_handler").Logger(),
	}
}

// Register binds the enrollment routes.
func (h *EnrollmentHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
}

func (h *EnrollmentHandler) list(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	var criteria dto.EnrollmentCriteria
	if err := c.QueryParser(&criteria); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}
	if criteria.Locale == "" {
		criteria.Locale = h.defaultLocale
	}
	if err := h.validator.Struct(criteria); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	}

	ctx := requestContext(c)
	principal := principalFromContext(c)
	if c.QueryBool("refresh") && principal.UserID != "" {
		if err := h.service.Invalidate(ctx, principal.UserID); err != nil {
			logger.Warn().Err(err).Msg("failed to invalidate enrollment cache")
		}
	}

	response, err := h.service.List(ctx, principal, criteria)
	if err != nil {
		return sendServiceError(c, logger, err, "failed to load enrollments")
	}

	c.Set("X-Cache-Hit", strconv.FormatBool(response.CacheHit))
	return utils.OK(c, response, "enrollments", fiber.Map{
		"cache_hit": response.CacheHit,
	})
}
