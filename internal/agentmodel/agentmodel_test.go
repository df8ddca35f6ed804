package agentmodel

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/magi-project/magi/internal/provider"
	"github.com/magi-project/magi/internal/runner"
	"github.com/magi-project/magi/internal/toolengine"
	"github.com/magi-project/magi/pkg/wire"
)

type echoProvider struct{}

func (echoProvider) Name() string               { return "echo" }
func (echoProvider) SupportsModel(string) bool   { return true }
func (echoProvider) SupportsTools() bool         { return true }
func (echoProvider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan wire.Event, error) {
	var last string
	for _, item := range req.History {
		if item.Kind == wire.ItemMessage {
			last = item.Content
		}
	}
	ch := make(chan wire.Event, 1)
	ch <- wire.Event{Type: wire.EventMessageComplete, MessageComplete: &wire.MessageCompletePayload{Content: "handled: " + last}}
	close(ch)
	return ch, nil
}

func TestAsToolDispatchesClonedAgent(t *testing.T) {
	reg := toolengine.NewRegistry()
	eng := toolengine.NewEngine(reg, toolengine.DefaultEngineConfig())
	rnr := runner.New(map[string]provider.Provider{"echo": echoProvider{}}, runner.ClassCatalog{}, reg, eng)

	sub := &runner.Agent{AgentID: "sub", Name: "researcher", Description: "researches things", Model: "m1"}
	model := &Model{Agent: sub, Runner: rnr}
	def := model.AsTool(reg)
	require.Equal(t, "researcher", def.Name)

	entry, ok := reg.Lookup("researcher")
	require.True(t, ok)

	input, _ := json.Marshal(map[string]string{"task": "find the bug", "goal": "fix it"})
	out, err := entry.Function(context.Background(), input)
	require.NoError(t, err)
	require.Contains(t, out, "find the bug")
	require.Contains(t, out, "fix it")

	require.Equal(t, "sub", sub.AgentID) // original untouched by clone
}

func TestAsToolRejectsMissingTask(t *testing.T) {
	reg := toolengine.NewRegistry()
	eng := toolengine.NewEngine(reg, toolengine.DefaultEngineConfig())
	rnr := runner.New(map[string]provider.Provider{"echo": echoProvider{}}, runner.ClassCatalog{}, reg, eng)

	sub := &runner.Agent{AgentID: "sub", Name: "researcher", Model: "m1"}
	model := &Model{Agent: sub, Runner: rnr}
	model.AsTool(reg)

	entry, _ := reg.Lookup("researcher")
	_, err := entry.Function(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestResolveToolsAgentSpecificWins(t *testing.T) {
	static := []wire.ToolDefinition{{Name: "search", Description: "generic search"}}
	agentSpecific := []wire.ToolDefinition{{Name: "search", Description: "specialized search"}, {Name: "extra", Description: "extra"}}

	resolved := ResolveTools(static, agentSpecific)
	require.Len(t, resolved, 2)

	byName := map[string]wire.ToolDefinition{}
	for _, t := range resolved {
		byName[t.Name] = t
	}
	require.Equal(t, "specialized search", byName["search"].Description)
	require.Equal(t, "extra", byName["extra"].Description)
}
