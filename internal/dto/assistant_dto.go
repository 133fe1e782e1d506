package dto

// Assistant reply sources.
const (
	AssistantSourceRule     = "rule"
	AssistantSourceAI       = "ai"
	AssistantSourceFallback = "fallback"
)

// AssistantMessageRequest is a message typed into the chat widget.
type AssistantMessageRequest struct {
	Message string `json:"message" validate:"required,min=1,max=1000"`
}

// AssistantReply is the widget's answer.
type AssistantReply struct {
	Reply  string `json:"reply"`
	Source string `json:"source"`
	Rule   string `json:"rule,omitempty"`
}
