package tdd

import (
	"context"
	"fmt"

	"github.com/magi-project/magi/internal/provider"
	"github.com/magi-project/magi/internal/runner"
	"github.com/magi-project/magi/pkg/wire"
)

// Phase names one step of a feature's RED -> GREEN -> REFACTOR cycle.
type Phase string

const (
	PhaseRed      Phase = "red"
	PhaseGreen    Phase = "green"
	PhaseRefactor Phase = "refactor"
)

// Workspace is the file-system surface the orchestrator needs. Production
// wiring backs this with the same sandboxed filesystem tools the agent
// model exposes; tests substitute an in-memory stub.
type Workspace interface {
	WriteFile(path, content string) error
	ReadFile(path string) (string, error)
	RunTests(ctx context.Context, testPath string) (output string, exitCode int, err error)
}

// FeatureReport is the structured per-feature outcome spec §4.6 requires.
type FeatureReport struct {
	Feature      Feature
	RedPassed    bool // true once the test fails for the RIGHT reason (compiles, runs, fails)
	GreenPassed  bool
	Refactored   bool
	Attempts     int
	FinalOutcome TestOutcome
	Error        string
}

// Report is the orchestrator's final structured output.
type Report struct {
	Features    []FeatureReport
	Integration TestOutcome
	Success     bool
}

// Orchestrator drives the TDD loop over a topologically sorted feature
// list.
type Orchestrator struct {
	rnr        *runner.Runner
	ws         Workspace
	maxRetries int

	redAgent      func(f Feature) *runner.Agent
	greenAgent    func(f Feature, testOutput string) *runner.Agent
	refactorAgent func(f Feature) *runner.Agent
}

// Config wires the three phase-specific agent factories.
type Config struct {
	MaxRetries    int // default 3, per spec §4.6
	RedAgent      func(f Feature) *runner.Agent
	GreenAgent    func(f Feature, testOutput string) *runner.Agent
	RefactorAgent func(f Feature) *runner.Agent
}

func New(rnr *runner.Runner, ws Workspace, cfg Config) *Orchestrator {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Orchestrator{
		rnr:           rnr,
		ws:            ws,
		maxRetries:    maxRetries,
		redAgent:      cfg.RedAgent,
		greenAgent:    cfg.GreenAgent,
		refactorAgent: cfg.RefactorAgent,
	}
}

// Run executes every feature in order, then an integration pass, and
// assembles the final Report.
func (o *Orchestrator) Run(ctx context.Context, features []Feature, integrationTestPath string) (*Report, error) {
	ordered, err := TopoSort(features)
	if err != nil {
		return nil, err
	}

	report := &Report{Success: true}
	for _, f := range ordered {
		fr := o.runFeature(ctx, f)
		report.Features = append(report.Features, fr)
		if !fr.GreenPassed {
			report.Success = false
		}
	}

	if integrationTestPath != "" {
		output, _, _ := o.ws.RunTests(ctx, integrationTestPath)
		report.Integration = ParseTestOutput(output)
		if !report.Integration.AllPass {
			report.Success = false
		}
	}

	return report, nil
}

func (o *Orchestrator) runFeature(ctx context.Context, f Feature) FeatureReport {
	fr := FeatureReport{Feature: f}

	redAgent := o.redAgent(f)
	redResult, err := o.rnr.RunStreamedWithTools(ctx, redAgent, provider.CompletionRequest{
		History: []wire.ConversationItem{wire.NewMessage(wire.RoleUser, redPrompt(f))},
	}, "")
	if err != nil {
		fr.Error = fmt.Sprintf("red phase: %v", err)
		return fr
	}
	_ = redResult

	redOut, _, _ := o.ws.RunTests(ctx, f.TestPath)
	redOutcome := ParseTestOutput(redOut)
	fr.RedPassed = !redOutcome.AllPass && redOutcome.Total > 0

	var lastOutput string
	for attempt := 1; attempt <= o.maxRetries; attempt++ {
		fr.Attempts = attempt

		greenAgent := o.greenAgent(f, lastOutput)
		_, err := o.rnr.RunStreamedWithTools(ctx, greenAgent, provider.CompletionRequest{
			History: []wire.ConversationItem{wire.NewMessage(wire.RoleUser, greenPrompt(f, lastOutput))},
		}, "")
		if err != nil {
			fr.Error = fmt.Sprintf("green phase attempt %d: %v", attempt, err)
			continue
		}

		out, _, _ := o.ws.RunTests(ctx, f.TestPath)
		outcome := ParseTestOutput(out)
		fr.FinalOutcome = outcome
		lastOutput = out

		if outcome.AllPass {
			fr.GreenPassed = true
			break
		}
	}

	if !fr.GreenPassed {
		return fr
	}

	if o.refactorAgent != nil {
		fr.Refactored = o.runRefactor(ctx, f, &fr)
	}

	return fr
}

// runRefactor applies the refactor agent, then re-runs the feature's
// tests; if they regress, the refactor is reverted via a snapshot taken
// before the refactor agent ran (spec §4.6 "revert on regression").
func (o *Orchestrator) runRefactor(ctx context.Context, f Feature, fr *FeatureReport) bool {
	before, err := o.ws.ReadFile(f.Path)
	if err != nil {
		return false
	}

	agent := o.refactorAgent(f)
	_, err = o.rnr.RunStreamedWithTools(ctx, agent, provider.CompletionRequest{
		History: []wire.ConversationItem{wire.NewMessage(wire.RoleUser, refactorPrompt(f))},
	}, "")
	if err != nil {
		return false
	}

	out, _, _ := o.ws.RunTests(ctx, f.TestPath)
	outcome := ParseTestOutput(out)
	if outcome.AllPass {
		fr.FinalOutcome = outcome
		return true
	}

	_ = o.ws.WriteFile(f.Path, before)
	return false
}

func redPrompt(f Feature) string {
	return fmt.Sprintf("Write a failing test for feature %q at %s covering: %s", f.Name, f.TestPath, f.Summary)
}

func greenPrompt(f Feature, lastTestOutput string) string {
	if lastTestOutput == "" {
		return fmt.Sprintf("Implement feature %q at %s to make its test pass.", f.Name, f.Path)
	}
	return fmt.Sprintf("The test for feature %q at %s is still failing:\n%s\nFix the implementation at %s.", f.Name, f.TestPath, lastTestOutput, f.Path)
}

func refactorPrompt(f Feature) string {
	return fmt.Sprintf("Refactor %s for feature %q without changing its behavior. Tests must keep passing.", f.Path, f.Name)
}
