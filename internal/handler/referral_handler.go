package handler

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/internal/service"
	"github.com/noah-isme/lms-gateway/internal/utils"
)

// ReferralHandler validates referral codes typed into the signup form.
type ReferralHandler struct {
	service     service.ReferralService
	preferences service.PreferenceService
	validator   *validator.Validate
	debounce    time.Duration
	logger      zerolog.Logger
}

// NewReferralHandler constructs the handler. debounce is advertised to the browser
// so it can throttle keystroke-driven validation; preferences may be nil.
func NewReferralHandler(referrals service.ReferralService, preferences service.PreferenceService, validate *validator.Validate, debounce time.Duration, logger zerolog.Logger) *ReferralHandler {
	return &ReferralHandler{
		service:     referrals,
		preferences: preferences,
		validator:   validate,
		debounce:    debounce,
		logger:      logger.With().Str("component", "referral_handler").Logger(),
	}
}

// Register binds the referral routes.
func (h *ReferralHandler) Register(router fiber.Router) {
	router.Post("/validate", h.validate)
	router.Get("/validate", h.validateFromLink)
	router.Get("/state", h.state)
}

func (h *ReferralHandler) validate(c *fiber.Ctx) error {
	var request dto.ReferralValidateRequest
	if err := c.BodyParser(&request); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	return h.run(c, request, false)
}

// validateFromLink handles a signup link carrying ?ref=CODE. The code is also
// remembered so the form can be prefilled later.
func (h *ReferralHandler) validateFromLink(c *fiber.Ctx) error {
	var request dto.ReferralValidateRequest
	if err := c.QueryParser(&request); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}
	return h.run(c, request, true)
}

func (h *ReferralHandler) run(c *fiber.Ctx, request dto.ReferralValidateRequest, remember bool) error {
	logger := requestLogger(h.logger, c)

	request.Session = strings.TrimSpace(request.Session)
	if err := h.validator.Struct(request); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	}

	ctx := requestContext(c)
	if remember && h.preferences != nil {
		if err := h.preferences.RememberReferral(ctx, preferenceOwner(c, request.Session), request.Code); err != nil {
			logger.Warn().Err(err).Msg("failed to remember referral code")
		}
	}

	result := h.service.Validate(ctx, request.Session, request.Code)
	return utils.OK(c, result, result.Message, h.meta())
}

func (h *ReferralHandler) state(c *fiber.Ctx) error {
	session := strings.TrimSpace(c.Query("session"))
	if session == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "session is required")
	}
	return utils.OK(c, h.service.State(session), "referral state", h.meta())
}

func (h *ReferralHandler) meta() fiber.Map {
	return fiber.Map{"debounce_ms": h.debounce.Milliseconds()}
}
