// Package provider builds the inference backend named in configuration.
package provider

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/llm"
	"github.com/joseph-ayodele/plan-analyzer/internal/llm/ollama"
	"github.com/joseph-ayodele/plan-analyzer/internal/llm/openai"
	"github.com/joseph-ayodele/plan-analyzer/internal/llm/vertex"
)

// DefaultOpenAIModel is used with the DeepSeek-compatible default base URL.
const DefaultOpenAIModel = "deepseek-chat"

// New returns the configured client and a function releasing its resources.
func New(ctx context.Context, cfg common.LLMConfig, logger *slog.Logger) (llm.Client, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() {}
	switch cfg.Provider {
	case "", "openai":
		c := openai.NewClient(openai.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cmp.Or(cfg.Model, DefaultOpenAIModel),
			Timeout: cfg.Timeout,
		}, logger)
		return c, noop, nil
	case "vertex":
		c, err := vertex.NewClient(ctx, vertex.Config{
			ProjectID: cfg.VertexProject,
			Region:    cfg.VertexRegion,
			Model:     cfg.Model,
			Timeout:   cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		return c, func() {
			if err := c.Close(); err != nil {
				logger.Warn("llm.vertex.close_failed", "error", err)
			}
		}, nil
	case "ollama":
		return ollama.NewClient(ollama.Config{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
