package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/ArtixJP/albert-api/internal/openai"
)

// Pipeline is the opaque multi-agent retrieval and answer-synthesis
// routine. Its reasoning is not this package's concern; only the call
// contract is. iteration and factBudget bound the recursion.
type Pipeline interface {
	Run(ctx context.Context, prompt string, docs, refs []string, iteration, factBudget int, history []openai.ChatMessage) (answer string, references string, err error)
}

const multiAgentsFactBudget = 3

// MultiAgents rewrites the prompt through the multi-agent pipeline and
// appends the formatted references it collected.
type MultiAgents struct {
	pipeline Pipeline
}

func NewMultiAgents(p Pipeline) *MultiAgents { return &MultiAgents{pipeline: p} }

func (t *MultiAgents) Name() string { return "MultiAgents" }

func (t *MultiAgents) GetPrompt(ctx context.Context, inv Invocation) (string, error) {
	prompt := inv.Prompt()

	var hist []openai.ChatMessage
	if len(inv.Request.Messages) > 1 {
		hist = inv.Request.Messages[1:]
	}

	answer, refs, err := t.pipeline.Run(ctx, prompt, nil, nil, 0, multiAgentsFactBudget, hist)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer + "\n\n" + refs), nil
}

// UnconfiguredPipeline satisfies Pipeline until a deployment wires in the
// real multi-agent service.
type UnconfiguredPipeline struct{}

func (UnconfiguredPipeline) Run(context.Context, string, []string, []string, int, int, []openai.ChatMessage) (string, string, error) {
	return "", "", errors.New("multi-agent pipeline not configured")
}
