package llm

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/victorx64/biohack-debunker/internal/model"
)

// NewProvider creates a provider for the route
func NewProvider(route Route) (Provider, error) {
	switch strings.ToLower(route.Provider) {
	case "openai", "openrouter":
		return NewOpenAIProvider(route)

	case "":
		return nil, ErrRouteNotConfigured

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, openrouter)", route.Provider)
	}
}

func supportedProvider(name string) bool {
	switch strings.ToLower(name) {
	case "openai", "openrouter":
		return true
	}
	return false
}

// OptionsFromConfig converts model.LLMConfig to client options
func OptionsFromConfig(cfg model.LLMConfig, logger *slog.Logger) Options {
	stages := make(map[Stage][]Route, len(cfg.Stages))
	for name, routes := range cfg.Stages {
		converted := make([]Route, 0, len(routes))
		for _, rc := range routes {
			converted = append(converted, RouteFromConfig(rc))
		}
		stages[Stage(strings.ToLower(name))] = converted
	}

	return Options{
		Default:              RouteFromConfig(cfg.Default),
		Stages:               stages,
		MaxFallbacksPerStage: cfg.MaxFallbacksPerStage,
		MaxRetries:           cfg.MaxRetries,
		Backoff:              cfg.Backoff,
		Temperature:          cfg.Temperature,
		MaxTokens:            cfg.MaxTokens,
		Timeout:              cfg.Timeout,
		Logger:               logger,
	}
}
