package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/service"
	"github.com/noah-isme/lms-gateway/internal/utils"
)

// PreferenceHandler exposes local preferences owned by a user or an anonymous session.
// Anonymous callers identify themselves with the session query parameter.
type PreferenceHandler struct {
	service service.PreferenceService
	logger  zerolog.Logger
}

// NewPreferenceHandler constructs the handler.
func NewPreferenceHandler(service service.PreferenceService, logger zerolog.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		service: service,
		logger:  logger.With().Str("component", "preference_handler").Logger(),
	}
}

// Register binds the preference routes.
func (h *PreferenceHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Get("/:key", h.get)
	router.Put("/:key", h.put)
}

func (h *PreferenceHandler) list(c *fiber.Ctx) error {
	items, err := h.service.List(requestContext(c), preferenceOwner(c, c.Query("session")))
	if err != nil {
		return sendServiceError(c, requestLogger(h.logger, c), err, "failed to load preferences")
	}
	return utils.SendSuccess(c, "preferences", items)
}

func (h *PreferenceHandler) get(c *fiber.Ctx) error {
	item, err := h.service.Get(requestContext(c), preferenceOwner(c, c.Query("session")), c.Params("key"))
	if err != nil {
		return sendServiceError(c, requestLogger(h.logger, c), err, "failed to load preference")
	}
	return utils.SendSuccess(c, "preference", item)
}

func (h *PreferenceHandler) put(c *fiber.Ctx) error {
	var request dto.PreferenceUpdateRequest
	if err := c.BodyParser(&request); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	request.Key = c.Params("key")

	item, err := h.service.Put(requestContext(c), preferenceOwner(c, c.Query("session")), request)
	if err != nil {
		return sendServiceError(c, requestLogger(h.logger, c), err, "failed to store preference")
	}
	return utils.SendSuccess(c, "preference saved", item)
}
