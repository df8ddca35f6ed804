package staged

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

type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Name() string               { return "scripted" }
func (p *scriptedProvider) SupportsModel(string) bool   { return true }
func (p *scriptedProvider) SupportsTools() bool         { return true }
func (p *scriptedProvider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan wire.Event, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	ch := make(chan wire.Event, 1)
	ch <- wire.Event{Type: wire.EventMessageComplete, MessageComplete: &wire.MessageCompletePayload{Content: p.responses[idx]}}
	close(ch)
	return ch, nil
}

func newTestRunner(p *scriptedProvider) *runner.Runner {
	reg := toolengine.NewRegistry()
	eng := toolengine.NewEngine(reg, toolengine.DefaultEngineConfig())
	return runner.New(map[string]provider.Provider{"scripted": p}, runner.ClassCatalog{}, reg, eng)
}

func TestRunSequentialHappyPath(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"STATUS: SUCCESS\nNEXT: review\nMETADATA: {\"draft\":true}",
		"STATUS: SUCCESS\nNEXT: null",
	}}
	rnr := newTestRunner(p)

	cfg := RunnerConfig{
		Start: "draft",
		Stages: map[string]StageConfig{
			"draft":  {Agent: func(json.RawMessage) *runner.Agent { return &runner.Agent{AgentID: "a1", Model: "m"} }},
			"review": {Agent: func(json.RawMessage) *runner.Agent { return &runner.Agent{AgentID: "a2", Model: "m"} }},
		},
	}
	run := NewRun(cfg, rnr)
	results, err := run.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, results["draft"].Status)
	require.Equal(t, StatusSuccess, results["review"].Status)
	require.Equal(t, "review", results["draft"].Next)
}

func TestRunSequentialRetriesThenFails(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"STATUS: NEEDS_RETRY",
		"STATUS: NEEDS_RETRY",
		"STATUS: NEEDS_RETRY",
	}}
	rnr := newTestRunner(p)

	cfg := RunnerConfig{
		Start:              "draft",
		MaxRetriesPerStage: 2,
		Stages: map[string]StageConfig{
			"draft": {Agent: func(json.RawMessage) *runner.Agent { return &runner.Agent{AgentID: "a1", Model: "m"} }},
		},
	}
	run := NewRun(cfg, rnr)
	_, err := run.Execute(context.Background())
	require.Error(t, err)
}

func TestRunSequentialExplicitFailure(t *testing.T) {
	p := &scriptedProvider{responses: []string{"STATUS: FAILURE\nsomething broke"}}
	rnr := newTestRunner(p)

	cfg := RunnerConfig{
		Start: "draft",
		Stages: map[string]StageConfig{
			"draft": {Agent: func(json.RawMessage) *runner.Agent { return &runner.Agent{AgentID: "a1", Model: "m"} }},
		},
	}
	run := NewRun(cfg, rnr)
	results, err := run.Execute(context.Background())
	require.Error(t, err)
	require.Equal(t, StatusFailure, results["draft"].Status)
}
