package llm

import (
	"context"
	"time"
)

// Request is one prompt/response exchange with the inference service.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
	JSON        bool          // ask the backend for a JSON object when it supports it
	Timeout     time.Duration // per call; zero means the client default
}

// Client is the interface the pipeline stages depend on. Implementations
// return the model's text as-is; callers strip wrappers and parse.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}
