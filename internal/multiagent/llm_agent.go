package multiagent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ayourtch/kimichat-go/internal/agent"
)

// LLMAgent is an Agent backed by a single LLMProvider completion per task.
// It is the building block for planner and specialist agents that don't
// need their own tool-call loop; agents that do wrap agent.AgenticLoop
// behind the same interface.
type LLMAgent struct {
	name         string
	description  string
	tools        []string
	provider     agent.LLMProvider
	model        string
	systemPrompt string
	maxTokens    int
}

// NewLLMAgent constructs an agent that answers each task with one
// completion against the given provider and model.
func NewLLMAgent(name, description string, provider agent.LLMProvider, model, systemPrompt string) *LLMAgent {
	return &LLMAgent{
		name:         name,
		description:  description,
		provider:     provider,
		model:        model,
		systemPrompt: systemPrompt,
	}
}

// WithTools records the tool names advertised to the planner. The names
// are informational for this agent type; loop-backed agents enforce them.
func (a *LLMAgent) WithTools(tools ...string) *LLMAgent {
	a.tools = tools
	return a
}

// Name implements Agent.
func (a *LLMAgent) Name() string { return a.name }

// Description implements Agent.
func (a *LLMAgent) Description() string { return a.description }

// Tools implements Agent.
func (a *LLMAgent) Tools() []string { return a.tools }

// Execute implements Agent: one completion, streamed chunks collected into
// the result content.
func (a *LLMAgent) Execute(ctx context.Context, task *Task, execCtx *ExecutionContext) (*AgentResult, error) {
	started := time.Now()

	req := &agent.CompletionRequest{
		Model:  a.model,
		System: a.systemPrompt,
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: task.Description},
		},
	}
	if a.maxTokens > 0 {
		req.MaxTokens = a.maxTokens
	}

	chunks, err := a.provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.name, err)
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, fmt.Errorf("agent %s: %w", a.name, chunk.Error)
		}
		b.WriteString(chunk.Text)
	}

	return &AgentResult{
		Success:         true,
		Content:         b.String(),
		TaskID:          task.ID,
		AgentName:       a.name,
		ExecutionTimeMS: time.Since(started).Milliseconds(),
	}, nil
}
