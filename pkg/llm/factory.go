package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/config"
)

// NewFromConfig builds the configured provider wrapped in a circuit breaker.
// The OpenAI-compatible client always backs embeddings, so an Anthropic
// deployment still gets vector retrieval when an OpenAI base URL is reachable.
func NewFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (LLMClient, error) {
	openaiClient, err := NewClient(&Config{
		Endpoint: config.ResolveURLForDocker(cfg.BaseURL),
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	var client LLMClient
	switch cfg.Provider {
	case "anthropic":
		client, err = NewAnthropicClient(cfg.APIKey, cfg.Model, openaiClient, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
	case "openai", "":
		client = openaiClient
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}

	return NewGuardedClient(client, DefaultCircuitBreakerConfig(), logger), nil
}
