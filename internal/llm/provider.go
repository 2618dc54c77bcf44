package llm

import (
	"context"

	"github.com/victorx64/biohack-debunker/internal/model"
)

// Provider defines the interface for chat-completion providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete sends one system/user prompt pair and returns the raw text
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest contains the input for one chat completion
type CompletionRequest struct {
	System      string
	User        string
	Model       string
	Temperature float32
	MaxTokens   int
}

// CompletionResponse contains the provider's raw output
type CompletionResponse struct {
	// Content is the assistant message text, possibly wrapped in prose or fences
	Content string

	// FinishReason as reported by the provider
	FinishReason string

	Usage model.Usage
}
