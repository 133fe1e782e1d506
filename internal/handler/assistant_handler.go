package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/service"
	"github.com/noah-isme/lms-gateway/internal/utils"
)

// AssistantHandler answers messages typed into the help chat widget.
type AssistantHandler struct {
	service service.AssistantService
	logger  zerolog.Logger
}

// NewAssistantHandler constructs the handler.
func NewAssistantHandler(service service.AssistantService, logger zerolog.Logger) *AssistantHandler {
	return &AssistantHandler{
		service: service,
		logger:  logger.With().Str("component", "assistant_handler").Logger(),
	}
}

// Register binds the assistant routes.
func (h *AssistantHandler) Register(router fiber.Router) {
	router.Post("/messages", h.reply)
}

func (h *AssistantHandler) reply(c *fiber.Ctx) error {
	var request dto.AssistantMessageRequest
	if err := c.BodyParser(&request); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	reply, err := h.service.Reply(requestContext(c), request)
	if err != nil {
		return sendServiceError(c, requestLogger(h.logger, c), err, "failed to answer message")
	}

	return utils.SendSuccess(c, "assistant reply", reply)
}
