package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/observability"
)

const anthropicMaxTokens = 4096

// AnthropicClient generates completions through the Anthropic Messages API.
// Anthropic has no embeddings endpoint; embedding calls are delegated to the
// optional embedder, and fail with ErrorTypeModel without one.
type AnthropicClient struct {
	client   *anthropic.Client
	model    string
	embedder LLMClient
	logger   *zap.Logger
}

// NewAnthropicClient creates a client for the given model. embedder may be nil.
func NewAnthropicClient(apiKey, model string, embedder LLMClient, logger *zap.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &AnthropicClient{
		client:   anthropic.NewClient(apiKey),
		model:    model,
		embedder: embedder,
		logger:   logger.Named("llm-anthropic"),
	}, nil
}

// GenerateResponse folds the system message into the user turn. Temperature is
// left at the provider default.
func (c *AnthropicClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	text := prompt
	if systemMessage != "" {
		text = systemMessage + "\n\n" + prompt
	}
	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &text},
			}},
		},
	})
	if err != nil {
		c.logger.Error("Anthropic request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, withContext(ClassifyError(err), c.model, "anthropic")
	}

	var sb strings.Builder
	for _, content := range resp.Content {
		if content.Type == "text" && content.Text != nil {
			sb.WriteString(*content.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, NewError(ErrorTypeUnknown, "no text content in response", true, nil)
	}

	observability.RecordLLMUsage("anthropic", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	c.logger.Info("Anthropic request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &GenerateResponseResult{
		Content:          sb.String(),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

func (c *AnthropicClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	if c.embedder == nil {
		return nil, NewError(ErrorTypeModel, "anthropic does not provide embeddings", false, nil)
	}
	return c.embedder.CreateEmbedding(ctx, input, model)
}

func (c *AnthropicClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	if c.embedder == nil {
		return nil, NewError(ErrorTypeModel, "anthropic does not provide embeddings", false, nil)
	}
	return c.embedder.CreateEmbeddings(ctx, inputs, model)
}

func (c *AnthropicClient) GetModel() string {
	return c.model
}

func (c *AnthropicClient) GetEndpoint() string {
	return "https://api.anthropic.com"
}
