package service

import (
	"context"
	"html"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/pkg/ai"
)

// AssistantService answers chat widget messages from a keyword rule set,
// deferring to an AI responder when configured and no rule matches.
type AssistantService interface {
	Reply(ctx context.Context, request dto.AssistantMessageRequest) (dto.AssistantReply, error)
}

type assistantService struct {
	rules     AssistantRules
	responder ai.Responder
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewAssistantService builds the assistant. A nil responder keeps replies rule-based.
func NewAssistantService(rules AssistantRules, responder ai.Responder, validate *validator.Validate, logger zerolog.Logger) AssistantService {
	return &assistantService{
		rules:     rules,
		responder: responder,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "assistant_service").Logger(),
	}
}

func (s *assistantService) Reply(ctx context.Context, request dto.AssistantMessageRequest) (dto.AssistantReply, error) {
	request.Message = s.plainText(request.Message)
	if err := s.validator.Struct(request); err != nil {
		return dto.AssistantReply{}, err
	}

	if rule, ok := s.rules.match(request.Message); ok {
		return dto.AssistantReply{Reply: rule.Reply, Source: dto.AssistantSourceRule, Rule: rule.Name}, nil
	}

	if s.responder != nil {
		reply, err := s.responder.Reply(ctx, ai.ReplyInput{Message: request.Message, Context: s.rules.Context})
		if err == nil {
			return dto.AssistantReply{Reply: s.plainText(reply), Source: dto.AssistantSourceAI}, nil
		}
		s.logger.Warn().Err(err).Msg("ai responder failed, using fallback reply")
	}

	return dto.AssistantReply{Reply: s.rules.Fallback, Source: dto.AssistantSourceFallback}, nil
}

// plainText strips markup and returns the text unescaped, so quotes and
// ampersands reach rule matching and the responder as typed.
func (s *assistantService) plainText(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(value)))
}
