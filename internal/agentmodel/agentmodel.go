// Package agentmodel implements the L7 Agent Model: turning an Agent
// into a callable tool for a parent agent, and resolving an agent's tool
// list with agent-specific overrides.
package agentmodel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/magi-project/magi/internal/provider"
	"github.com/magi-project/magi/internal/runner"
	"github.com/magi-project/magi/internal/toolengine"
	"github.com/magi-project/magi/pkg/wire"
)

// defaultToolInput is the parameter schema asTool() uses unless a
// custom ParamsSchema overrides it (spec §4.7).
type defaultToolInput struct {
	Task         string `json:"task"`
	Context      string `json:"context,omitempty"`
	Warnings     string `json:"warnings,omitempty"`
	Goal         string `json:"goal,omitempty"`
	Intelligence string `json:"intelligence,omitempty"`
}

// ProcessParams lets a custom agent reshape the raw tool-call input
// before it becomes the sub-agent's prompt (spec §4.7's
// `params`/`processParams` override hook).
type ProcessParams func(raw json.RawMessage) (prompt string, hint runner.Intelligence, err error)

// Model wraps a runner.Agent with the asTool() materialization and
// per-invocation dispatch logic.
type Model struct {
	Agent         *runner.Agent
	Runner        *runner.Runner
	ParamsSchema  map[string]*wire.ToolParameterSchema // nil uses the default schema
	ProcessParams ProcessParams                        // nil uses the default task/context/goal/intelligence shape
}

// AsTool registers this agent as an invocable tool on reg, named after
// the agent. The registered function clones the agent per spec §9,
// applies the resolved intelligence hint to its modelClass, and
// dispatches via RunStreamedWithTools.
func (m *Model) AsTool(reg *toolengine.Registry) wire.ToolDefinition {
	def := wire.ToolDefinition{
		Name:        m.Agent.Name,
		Description: m.Agent.Description,
		Parameters:  m.schema(),
		Required:    []string{"task"},
	}

	reg.Register(def, func(ctx context.Context, input json.RawMessage) (string, error) {
		prompt, hint, err := m.buildPrompt(input)
		if err != nil {
			return "", fmt.Errorf("agentmodel: %s: %w", m.Agent.Name, err)
		}

		clone := m.Agent.Clone(uuid.NewString())

		result, err := m.Runner.RunStreamedWithTools(ctx, clone, provider.CompletionRequest{
			History: []wire.ConversationItem{wire.NewMessage(wire.RoleUser, prompt)},
		}, hint)
		if err != nil {
			return "", err
		}
		return result.FinalText, nil
	})

	return def
}

func (m *Model) schema() map[string]*wire.ToolParameterSchema {
	if m.ParamsSchema != nil {
		return m.ParamsSchema
	}
	return map[string]*wire.ToolParameterSchema{
		"task":         {Type: "string", Description: wire.DynamicString{Value: "The task for this agent to perform"}},
		"context":      {Type: "string", Description: wire.DynamicString{Value: "Additional context for the task"}},
		"warnings":     {Type: "string", Description: wire.DynamicString{Value: "Known pitfalls or constraints to respect"}},
		"goal":         {Type: "string", Description: wire.DynamicString{Value: "The desired end state"}},
		"intelligence": {Type: "string", Description: wire.DynamicString{Value: "Intelligence tier hint: low, standard, or high"}, Enum: wire.DynamicStringSlice{Value: []string{"low", "standard", "high"}}},
	}
}

func (m *Model) buildPrompt(raw json.RawMessage) (string, runner.Intelligence, error) {
	if m.ProcessParams != nil {
		return m.ProcessParams(raw)
	}

	var in defaultToolInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", "", fmt.Errorf("invalid tool input: %w", err)
	}
	if in.Task == "" {
		return "", "", fmt.Errorf("task is required")
	}

	prompt := in.Task
	if in.Context != "" {
		prompt += "\n\nContext: " + in.Context
	}
	if in.Goal != "" {
		prompt += "\n\nGoal: " + in.Goal
	}
	if in.Warnings != "" {
		prompt += "\n\nWarnings: " + in.Warnings
	}

	return prompt, runner.Intelligence(in.Intelligence), nil
}

// ResolveTools merges a static tool set with an agent's own tool
// overrides, deduplicating by name with the agent-specific entry
// winning (spec §4.7's getTools()).
func ResolveTools(static []wire.ToolDefinition, agentSpecific []wire.ToolDefinition) []wire.ToolDefinition {
	byName := make(map[string]wire.ToolDefinition, len(static)+len(agentSpecific))
	var order []string

	for _, t := range static {
		if _, exists := byName[t.Name]; !exists {
			order = append(order, t.Name)
		}
		byName[t.Name] = t
	}
	for _, t := range agentSpecific {
		if _, exists := byName[t.Name]; !exists {
			order = append(order, t.Name)
		}
		byName[t.Name] = t
	}

	out := make([]wire.ToolDefinition, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}
