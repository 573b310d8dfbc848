// Package ollama adapts a local Ollama server's /api/generate to llm.Client.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/plan-analyzer/internal/llm"
)

type Config struct {
	BaseURL string // default http://localhost:11434
	Model   string // default llama3:instruct
	Timeout time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

var _ llm.Client = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3:instruct"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: &http.Client{}, logger: logger}
}

func (c *Client) Name() string { return "ollama:" + c.cfg.Model }

func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	body := map[string]any{
		"model":   c.cfg.Model,
		"system":  req.System,
		"prompt":  req.User,
		"stream":  false,
		"options": options,
	}
	if req.JSON {
		body["format"] = "json"
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/generate"
	raw, err := llm.PostJSON(ctx, c.http, url, body, nil, c.logger)
	if err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}
