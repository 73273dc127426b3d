// Package llm is the boundary to external chat-completion providers.
package llm

import "context"

// Role identifies the sender of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one (role, content) entry of the history sent to a provider.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Request is a single chat completion. System is prepended by each client in
// whatever form its provider expects.
type Request struct {
	Model            string
	System           string
	Messages         []Turn
	MaxTokens        int
	Temperature      float32
	PresencePenalty  float32
	FrequencyPenalty float32
}

type Response struct {
	Text       string
	Model      string
	StopReason string
	Usage      Usage
}

// Client completes a chat request against one provider. Implementations
// classify provider failures into the sentinel errors of this package.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
