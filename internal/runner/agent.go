// Package runner implements the L4 Runner: the streaming single-turn
// driver that resolves a model, forwards provider events, dispatches tool
// calls through the Tool Call Engine, and reinvokes itself for follow-up
// turns until the model stops calling tools.
package runner

import (
	"github.com/magi-project/magi/internal/provider"
	"github.com/magi-project/magi/internal/toolengine"
	"github.com/magi-project/magi/pkg/wire"
)

// ModelSettings carries generation parameters independent of model choice.
type ModelSettings struct {
	Temperature float64
	MaxTokens   int
	Thinking    bool
}

// Hooks are the lifecycle callbacks an Agent may set (spec §3's
// onToolCall/onToolResult/onRequest/onResponse).
type Hooks struct {
	OnRequest    func(req provider.CompletionRequest)
	OnResponse   func(content string)
	OnToolCall   func(call wire.ToolCall)
	OnToolResult func(result toolengine.Result)
	OnEvent      func(event wire.Event)
	OnComplete   func(finalText string)
}

// Agent is the canonical spec §3 Agent record: a named configuration of
// model, tools, and hooks. Workers (sub-agents) are folded into Tools via
// AsTool at construction time — see internal/agentmodel.
type Agent struct {
	AgentID      string
	Name         string
	Description  string
	Instructions string

	Model      string
	ModelClass string

	Tools         []string
	ModelSettings ModelSettings

	MaxToolCalls             int
	MaxToolCallRoundsPerTurn int

	JSONSchema []byte

	ParentID string
	Hooks    Hooks
}

// Clone performs the per-invocation clone spec §9 requires: function
// references (Hooks) are shared, not deep-copied; slice fields are
// shallow-copied so the clone can grow its own Tools list independently;
// a fresh AgentID makes the clone traceable on its own.
func (a *Agent) Clone(newAgentID string) *Agent {
	clone := *a
	clone.AgentID = newAgentID
	clone.Tools = append([]string(nil), a.Tools...)
	return &clone
}
