// Package llm defines the completion backend the agent participants speak
// through.
//
// Implementations must be safe for concurrent use and must return promptly
// when the supplied context is cancelled.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    string
	Content string
	// Name optionally labels the author of a user or assistant message.
	Name string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
type CompletionRequest struct {
	// Messages is the ordered conversation. It must not be empty.
	Messages []Message
	// SystemPrompt is sent ahead of Messages with the system role.
	SystemPrompt string
	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64
	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
