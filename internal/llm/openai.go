package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/victorx64/biohack-debunker/internal/model"
)

// OpenAIProvider implements the Provider interface for OpenAI-compatible
// chat-completion endpoints (OpenAI, OpenRouter)
type OpenAIProvider struct {
	client *openai.Client
	route  Route
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(route Route) (*OpenAIProvider, error) {
	if route.APIKey == "" {
		return nil, fmt.Errorf("API key is required for %s", route)
	}

	clientConfig := openai.DefaultConfig(route.APIKey)
	if route.BaseURL != "" {
		clientConfig.BaseURL = route.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		route:  route,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.route.Provider
}

// Complete calls the Chat Completions API
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = p.route.Model
	}

	chatReq := openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: req.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.User,
			},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", p.route.Provider, err)
	}

	out := &CompletionResponse{
		Usage: model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}

	// No choices is treated as empty content by the caller
	if len(resp.Choices) > 0 {
		out.Content = strings.TrimSpace(resp.Choices[0].Message.Content)
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}

	return out, nil
}
