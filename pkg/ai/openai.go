package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lms",
		Subsystem: "assistant",
		Name:      "ai_reply_duration_seconds",
		Help:      "Duration of AI assistant replies",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lms",
		Subsystem: "assistant",
		Name:      "ai_reply_failures_total",
		Help:      "Number of failed AI assistant replies",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI responder.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIResponder implements Responder against the OpenAI chat completion API.
type OpenAIResponder struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIResponder builds a responder using the provided configuration.
func NewOpenAIResponder(cfg OpenAIConfig) (*OpenAIResponder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 256
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIResponder{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/lms-gateway/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_responder").Logger(),
	}, nil
}

// Reply sends the question to OpenAI and returns the trimmed answer.
func (r *OpenAIResponder) Reply(parent context.Context, input ReplyInput) (string, error) {
	ctx, span := r.tracer.Start(parent, "openai.reply", trace.WithAttributes(
		attribute.String("model", r.cfg.Model),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       r.cfg.Model,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: assistantSystemPrompt(input.Context),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: input.Message,
			},
		},
	}

	resp, err := r.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(r.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", r.fail(span, fmt.Errorf("openai reply: %w", err))
	}

	if len(resp.Choices) == 0 {
		return "", r.fail(span, fmt.Errorf("no choices returned from openai"))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", r.fail(span, fmt.Errorf("empty reply returned from openai"))
	}

	r.logger.Debug().Int("total_tokens", resp.Usage.TotalTokens).Msg("assistant reply generated")
	return content, nil
}

func (r *OpenAIResponder) fail(span trace.Span, err error) error {
	aiFailures.WithLabelValues(r.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func assistantSystemPrompt(siteContext string) string {
	builder := strings.Builder{}
	builder.WriteString("You are the help assistant of an online learning platform. Answer in at most three short sentences. ")
	builder.WriteString("Only answer questions about courses, enrollments, payments, referrals and accounts; otherwise point the visitor to support.")
	if strings.TrimSpace(siteContext) != "" {
		builder.WriteString("\n\n## Platform facts\n")
		builder.WriteString(siteContext)
	}
	return builder.String()
}
