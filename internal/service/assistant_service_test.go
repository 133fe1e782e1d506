package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-gateway/internal/dto"
	"github.com/noah-isme/lms-gateway/pkg/ai"
)

type stubResponder struct {
	reply    string
	err      error
	calls    int
	received string
}

func (s *stubResponder) Reply(ctx context.Context, input ai.ReplyInput) (string, error) {
	s.calls++
	s.received = input.Message
	return s.reply, s.err
}

func TestAssistantServiceMatchesRules(t *testing.T) {
	responder := &stubResponder{reply: "ai"}
	svc := NewAssistantService(DefaultAssistantRules(), responder, validator.New(), zerolog.Nop())

	reply, err := svc.Reply(context.Background(), dto.AssistantMessageRequest{Message: "How does the REFERRAL discount work?"})
	require.NoError(t, err)
	require.Equal(t, dto.AssistantSourceRule, reply.Source)
	require.Equal(t, "referral", reply.Rule)
	require.Contains(t, reply.Reply, "10%")
	require.Zero(t, responder.calls)
}

func TestAssistantServiceFallsBackToResponderThenDefault(t *testing.T) {
	ctx := context.Background()
	request := dto.AssistantMessageRequest{Message: "What is the meaning of life?"}

	responder := &stubResponder{reply: "Ask support."}
	svc := NewAssistantService(DefaultAssistantRules(), responder, validator.New(), zerolog.Nop())
	reply, err := svc.Reply(ctx, request)
	require.NoError(t, err)
	require.Equal(t, dto.AssistantSourceAI, reply.Source)
	require.Equal(t, "Ask support.", reply.Reply)

	failing := &stubResponder{err: errors.New("quota")}
	svc = NewAssistantService(DefaultAssistantRules(), failing, validator.New(), zerolog.Nop())
	reply, err = svc.Reply(ctx, request)
	require.NoError(t, err)
	require.Equal(t, dto.AssistantSourceFallback, reply.Source)

	svc = NewAssistantService(DefaultAssistantRules(), nil, validator.New(), zerolog.Nop())
	reply, err = svc.Reply(ctx, request)
	require.NoError(t, err)
	require.Equal(t, DefaultAssistantRules().Fallback, reply.Reply)
}

func TestAssistantServiceRejectsEmptyMessages(t *testing.T) {
	svc := NewAssistantService(DefaultAssistantRules(), nil, validator.New(), zerolog.Nop())

	_, err := svc.Reply(context.Background(), dto.AssistantMessageRequest{Message: "<b></b>   "})
	require.Error(t, err)
}

func TestLoadAssistantRules(t *testing.T) {
	rules, err := LoadAssistantRules("")
	require.NoError(t, err)
	require.Equal(t, DefaultAssistantRules(), rules)

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fallback: "Try the help centre."
rules:
  - name: hours
    keywords: [open, hours]
    reply: "Support is open 9 to 5."
`), 0o600))

	rules, err = LoadAssistantRules(path)
	require.NoError(t, err)
	require.Equal(t, "Try the help centre.", rules.Fallback)
	require.Equal(t, DefaultAssistantRules().Context, rules.Context)
	require.Len(t, rules.Rules, 1)

	matched, ok := rules.match("When are you OPEN?")
	require.True(t, ok)
	require.Equal(t, "hours", matched.Name)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("rules:\n  - name: x\n    keywords: [a]\n"), 0o600))
	_, err = LoadAssistantRules(broken)
	require.Error(t, err)

	_, err = LoadAssistantRules(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestAssistantServicePassesPlainTextToResponder(t *testing.T) {
	responder := &stubResponder{reply: `<script>x()</script>Bring "notes" & snacks`}
	svc := NewAssistantService(AssistantRules{Fallback: "fallback"}, responder, validator.New(), zerolog.Nop())

	reply, err := svc.Reply(context.Background(), dto.AssistantMessageRequest{Message: `<i>What's "Q&A" day?</i>`})
	require.NoError(t, err)
	require.Equal(t, `What's "Q&A" day?`, responder.received)
	require.Equal(t, dto.AssistantSourceAI, reply.Source)
	require.Equal(t, `Bring "notes" & snacks`, reply.Reply)
}
