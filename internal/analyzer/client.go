package analyzer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/agent-api/core/pkg/agent"
)

// DefaultPrompt is what the pipeline asks per frame.
const DefaultPrompt = "What is happening on this screen? Identify the application, any visible errors, and the most useful next action."

// StreamClient delivers a model completion as a token stream. The token
// channel closes when the stream ends; at most one error is sent on the
// error channel per attempt, and there is no automatic retry.
type StreamClient interface {
	StreamCompletion(ctx context.Context, imageData []byte, prompt string) (<-chan string, <-chan error)
}

// AgentClient adapts the agent-api vision agent to StreamClient. The
// provider's Run call is request/response, so the completed content is
// re-streamed token by token; downstream instant-signal latency is then
// bounded by the model round trip rather than improved by it, but the parser
// contract stays identical for providers that stream natively.
type AgentClient struct {
	agent *agent.DefaultAgent
}

func NewAgentClient(a *agent.DefaultAgent) *AgentClient {
	return &AgentClient{agent: a}
}

func (c *AgentClient) StreamCompletion(ctx context.Context, imageData []byte, prompt string) (<-chan string, <-chan error) {
	tokens := make(chan string, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errs)

		// The agent API takes an image path; stage the frame in a temp file.
		tmp, err := os.CreateTemp("", "glimpse-frame-*.jpg")
		if err != nil {
			errs <- fmt.Errorf("stage frame: %w", err)
			return
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(imageData); err != nil {
			tmp.Close()
			errs <- fmt.Errorf("stage frame: %w", err)
			return
		}
		tmp.Close()

		response, err := c.agent.Run(
			ctx,
			agent.WithInput(prompt),
			agent.WithImagePath(tmp.Name()),
		)
		if err != nil {
			errs <- err
			return
		}
		if len(response.Messages) == 0 {
			errs <- fmt.Errorf("no response messages received from model")
			return
		}
		content := response.Messages[len(response.Messages)-1].Content

		for _, tok := range tokenize(content) {
			select {
			case tokens <- tok:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return tokens, errs
}

// tokenize splits content into whitespace-preserving chunks so the parser
// sees the same shape a natively streaming provider would produce.
func tokenize(content string) []string {
	return strings.SplitAfter(content, " ")
}
