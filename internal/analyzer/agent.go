// Package analyzer is the boundary to the vision model. It wraps an
// agent-api Ollama provider behind a token-stream interface so the rest of
// the pipeline never touches the provider directly.
package analyzer

import (
	"context"
	"log/slog"

	"github.com/agent-api/core"
	"github.com/agent-api/core/agent"
	"github.com/agent-api/core/agent/bootstrap"
	"github.com/agent-api/ollama"
	"github.com/go-logr/logr"
)

// systemPrompt fixes the response grammar the streaming parser expects.
const systemPrompt = `You are a screen-watching assistant. Describe what the user is doing and how to help.
Respond in exactly this format:
SUMMARY: <one line describing the screen>
APP: <application name>
- <suggested action, one per line>
ERRORS: <error text visible on screen, or None>
SHORTCUTS: <comma-separated keyboard shortcuts that would help, or None>`

// AgentConfig selects the local model endpoint.
type AgentConfig struct {
	BaseURL string
	Port    int
	Model   string
}

// DefaultAgentConfig targets a local Ollama with a vision-capable model.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		BaseURL: "http://localhost",
		Port:    11434,
		Model:   "llama3.2-vision:11b",
	}
}

// NewAgent initializes the vision agent against the configured provider.
func NewAgent(ctx context.Context, cfg AgentConfig, logger *slog.Logger) (*agent.DefaultAgent, error) {
	opts := &ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: cfg.BaseURL,
		Port:    cfg.Port,
	}
	provider := ollama.NewProvider(opts)

	model := &types.Model{
		ID: cfg.Model,
	}
	provider.UseModel(ctx, model)

	agentConf := &agent.NewAgentConfig{
		Provider:     provider,
		Logger:       logger,
		SystemPrompt: systemPrompt,
	}

	return agent.NewAgent(agentConf), nil
}
