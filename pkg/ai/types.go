package ai

import "context"

// ReplyInput is a visitor question plus the site context the model should stay within.
type ReplyInput struct {
	Message string
	Context string
}

// Responder answers free-form questions the rule set could not match.
type Responder interface {
	Reply(ctx context.Context, input ReplyInput) (string, error)
}
