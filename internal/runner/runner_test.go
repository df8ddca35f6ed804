package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/magi-project/magi/internal/provider"
	"github.com/magi-project/magi/internal/toolengine"
	"github.com/magi-project/magi/pkg/wire"
)

type scriptedProvider struct {
	name   string
	models map[string]bool
	events [][]wire.Event
	calls  int
	err    error
}

func (p *scriptedProvider) Name() string                   { return p.name }
func (p *scriptedProvider) SupportsModel(m string) bool     { return p.models[m] }
func (p *scriptedProvider) SupportsTools() bool             { return true }
func (p *scriptedProvider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan wire.Event, error) {
	if p.err != nil {
		return nil, p.err
	}
	idx := p.calls
	if idx >= len(p.events) {
		idx = len(p.events) - 1
	}
	p.calls++
	ch := make(chan wire.Event, len(p.events[idx]))
	for _, e := range p.events[idx] {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func TestRunStreamedWithToolsSingleRound(t *testing.T) {
	p := &scriptedProvider{
		name:   "fake",
		models: map[string]bool{"m1": true},
		events: [][]wire.Event{{
			{Type: wire.EventMessageComplete, MessageComplete: &wire.MessageCompletePayload{Content: "hello"}},
		}},
	}

	reg := toolengine.NewRegistry()
	eng := toolengine.NewEngine(reg, toolengine.DefaultEngineConfig())
	r := New(map[string]provider.Provider{"fake": p}, ClassCatalog{}, reg, eng)

	agent := &Agent{AgentID: "a1", Name: "test", Model: "m1"}
	result, err := r.RunStreamedWithTools(context.Background(), agent, provider.CompletionRequest{}, "")
	require.NoError(t, err)
	require.Equal(t, "hello", result.FinalText)
	require.Equal(t, 1, result.Rounds)
}

func TestRunStreamedWithToolsFollowUpRound(t *testing.T) {
	p := &scriptedProvider{
		name:   "fake",
		models: map[string]bool{"m1": true},
		events: [][]wire.Event{
			{
				{Type: wire.EventToolStart, ToolStart: &wire.ToolStartPayload{ToolCalls: []wire.ToolCall{{ID: "c1", Function: wire.ToolCallFunc{Name: "echo", Arguments: `{}`}}}}},
			},
			{
				{Type: wire.EventMessageComplete, MessageComplete: &wire.MessageCompletePayload{Content: "done"}},
			},
		},
	}

	reg := toolengine.NewRegistry()
	reg.Register(wire.ToolDefinition{Name: "echo"}, func(ctx context.Context, input json.RawMessage) (string, error) {
		return "ok", nil
	})
	eng := toolengine.NewEngine(reg, toolengine.DefaultEngineConfig())
	r := New(map[string]provider.Provider{"fake": p}, ClassCatalog{}, reg, eng)

	agent := &Agent{AgentID: "a1", Name: "test", Model: "m1"}
	result, err := r.RunStreamedWithTools(context.Background(), agent, provider.CompletionRequest{}, "")
	require.NoError(t, err)
	require.Equal(t, "done", result.FinalText)
	require.Equal(t, 2, result.Rounds)
	require.Equal(t, 1, result.ToolCalls)

	var foundCall, foundOutput bool
	for _, item := range result.History {
		if item.Kind == wire.ItemFunctionCall && item.CallID == "c1" {
			foundCall = true
		}
		if item.Kind == wire.ItemFunctionCallOut && item.CallID == "c1" {
			foundOutput = true
			require.Equal(t, "ok", item.Output)
		}
	}
	require.True(t, foundCall)
	require.True(t, foundOutput)
}

func TestRunStreamedWithToolsRespectsMaxToolCalls(t *testing.T) {
	p := &scriptedProvider{
		name:   "fake",
		models: map[string]bool{"m1": true},
		events: [][]wire.Event{{
			{Type: wire.EventToolStart, ToolStart: &wire.ToolStartPayload{ToolCalls: []wire.ToolCall{
				{ID: "c1", Function: wire.ToolCallFunc{Name: "echo"}},
				{ID: "c2", Function: wire.ToolCallFunc{Name: "echo"}},
			}}},
		}},
	}

	reg := toolengine.NewRegistry()
	reg.Register(wire.ToolDefinition{Name: "echo"}, func(ctx context.Context, input json.RawMessage) (string, error) { return "ok", nil })
	eng := toolengine.NewEngine(reg, toolengine.DefaultEngineConfig())
	r := New(map[string]provider.Provider{"fake": p}, ClassCatalog{}, reg, eng)

	agent := &Agent{AgentID: "a1", Name: "test", Model: "m1", MaxToolCalls: 1}
	_, err := r.RunStreamedWithTools(context.Background(), agent, provider.CompletionRequest{}, "")
	require.ErrorIs(t, err, ErrMaxToolCalls)
}

func TestRunStreamedFallsBackOnProviderError(t *testing.T) {
	primary := &scriptedProvider{name: "primary", models: map[string]bool{"m1": true}, err: errors.New("429 rate limit")}
	backup := &scriptedProvider{name: "backup", models: map[string]bool{"m2": true}, events: [][]wire.Event{{
		{Type: wire.EventMessageComplete, MessageComplete: &wire.MessageCompletePayload{Content: "from backup"}},
	}}}

	reg := toolengine.NewRegistry()
	eng := toolengine.NewEngine(reg, toolengine.DefaultEngineConfig())
	classes := ClassCatalog{"chat": {{Model: "m1", Score: 1}, {Model: "m2", Score: 1}}}
	r := New(map[string]provider.Provider{"primary": primary, "backup": backup}, classes, reg, eng)

	agent := &Agent{AgentID: "a1", Name: "test", Model: "m1", ModelClass: "chat"}
	var events []wire.Event
	for evt := range r.RunStreamed(context.Background(), agent, provider.CompletionRequest{}, "") {
		events = append(events, evt)
	}

	var sawUpdated, sawComplete bool
	for _, e := range events {
		if e.Type == wire.EventAgentUpdated {
			sawUpdated = true
		}
		if e.Type == wire.EventMessageComplete {
			sawComplete = true
			require.Equal(t, "from backup", e.MessageComplete.Content)
		}
	}
	require.True(t, sawUpdated)
	require.True(t, sawComplete)
}
