package tdd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/magi-project/magi/internal/provider"
	"github.com/magi-project/magi/internal/runner"
	"github.com/magi-project/magi/internal/toolengine"
	"github.com/magi-project/magi/pkg/wire"
)

type stubProvider struct{ calls int }

func (p *stubProvider) Name() string             { return "stub" }
func (p *stubProvider) SupportsModel(string) bool { return true }
func (p *stubProvider) SupportsTools() bool       { return true }
func (p *stubProvider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan wire.Event, error) {
	p.calls++
	ch := make(chan wire.Event, 1)
	ch <- wire.Event{Type: wire.EventMessageComplete, MessageComplete: &wire.MessageCompletePayload{Content: "ok"}}
	close(ch)
	return ch, nil
}

type fakeWorkspace struct {
	files     map[string]string
	testRuns  int
	outcomes  []string // queued raw outputs returned by successive RunTests calls
}

func (w *fakeWorkspace) WriteFile(path, content string) error {
	if w.files == nil {
		w.files = map[string]string{}
	}
	w.files[path] = content
	return nil
}

func (w *fakeWorkspace) ReadFile(path string) (string, error) {
	return w.files[path], nil
}

func (w *fakeWorkspace) RunTests(ctx context.Context, testPath string) (string, int, error) {
	idx := w.testRuns
	if idx >= len(w.outcomes) {
		idx = len(w.outcomes) - 1
	}
	w.testRuns++
	return w.outcomes[idx], 0, nil
}

func newTestRunner() *runner.Runner {
	reg := toolengine.NewRegistry()
	eng := toolengine.NewEngine(reg, toolengine.DefaultEngineConfig())
	return runner.New(map[string]provider.Provider{"stub": &stubProvider{}}, runner.ClassCatalog{}, reg, eng)
}

func agentFactory(id string) func(Feature) *runner.Agent {
	return func(f Feature) *runner.Agent { return &runner.Agent{AgentID: id, Model: "m"} }
}

func TestOrchestratorRunFeatureSucceedsFirstTry(t *testing.T) {
	ws := &fakeWorkspace{outcomes: []string{
		"Tests: 1 failed, 0 passed, 1 total", // RED: fails as expected
		"Tests: 0 failed, 1 passed, 1 total", // GREEN: passes
	}}
	orch := New(newTestRunner(), ws, Config{
		RedAgent:   agentFactory("red"),
		GreenAgent: func(f Feature, s string) *runner.Agent { return &runner.Agent{AgentID: "green", Model: "m"} },
	})

	report, err := orch.Run(context.Background(), []Feature{{Name: "widget", Path: "widget.js", TestPath: "widget.test.js"}}, "")
	require.NoError(t, err)
	require.True(t, report.Success)
	require.True(t, report.Features[0].RedPassed)
	require.True(t, report.Features[0].GreenPassed)
}

func TestOrchestratorRespectsTopoOrder(t *testing.T) {
	ws := &fakeWorkspace{outcomes: []string{
		"Tests: 1 failed, 0 passed, 1 total",
		"Tests: 0 failed, 1 passed, 1 total",
		"Tests: 1 failed, 0 passed, 1 total",
		"Tests: 0 failed, 1 passed, 1 total",
	}}
	orch := New(newTestRunner(), ws, Config{
		RedAgent:   agentFactory("red"),
		GreenAgent: func(f Feature, s string) *runner.Agent { return &runner.Agent{AgentID: "green", Model: "m"} },
	})

	features := []Feature{
		{Name: "b", Path: "b.js", TestPath: "b.test.js", DependsOn: []string{"a"}},
		{Name: "a", Path: "a.js", TestPath: "a.test.js"},
	}
	report, err := orch.Run(context.Background(), features, "")
	require.NoError(t, err)
	require.Equal(t, "a", report.Features[0].Feature.Name)
	require.Equal(t, "b", report.Features[1].Feature.Name)
}

func TestParsePlanExtractsFencedJSON(t *testing.T) {
	text := "Here is the plan:\n```json\n[{\"name\":\"widget\"}]\n```\n"
	features, err := ParsePlan(text, ".js")
	require.NoError(t, err)
	require.Len(t, features, 1)
	require.Equal(t, "widget.js", features[0].Path)
}

func TestTopoSortDetectsCycle(t *testing.T) {
	features := []Feature{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}
	_, err := TopoSort(features)
	require.Error(t, err)
}

func TestParseTestOutputScansFromEnd(t *testing.T) {
	out := "Tests: 2 failed, 1 passed, 3 total\n...rerun...\nTests: 0 failed, 3 passed, 3 total"
	outcome := ParseTestOutput(out)
	require.True(t, outcome.AllPass)
	require.Equal(t, 3, outcome.Passed)
}
