package provider

import (
	"context"
	"testing"

	"github.com/joseph-ayodele/plan-analyzer/internal/common"
)

func TestNewSelectsBackend(t *testing.T) {
	cases := []struct {
		cfg  common.LLMConfig
		name string
	}{
		{common.LLMConfig{Provider: "openai", APIKey: "k"}, "openai:" + DefaultOpenAIModel},
		{common.LLMConfig{Provider: "openai", APIKey: "k", Model: "gpt-4o"}, "openai:gpt-4o"},
		{common.LLMConfig{Provider: "ollama"}, "ollama:llama3:instruct"},
	}
	for _, c := range cases {
		client, closeFn, err := New(context.Background(), c.cfg, nil)
		if err != nil {
			t.Fatalf("%s: %v", c.cfg.Provider, err)
		}
		if client.Name() != c.name {
			t.Errorf("name = %q, want %q", client.Name(), c.name)
		}
		closeFn()
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, _, err := New(context.Background(), common.LLMConfig{Provider: "bard"}, nil); err == nil {
		t.Error("expected error")
	}
}

func TestNewVertexNeedsProject(t *testing.T) {
	if _, _, err := New(context.Background(), common.LLMConfig{Provider: "vertex"}, nil); err == nil {
		t.Error("expected error without project")
	}
}
