// Package staged implements the L5 Staged Orchestrator: a sequential
// multi-stage driver where each stage is its own agent invocation and
// stages hand off to one another via STATUS:/NEXT:/METADATA: markers in
// the agent's final text.
package staged

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/magi-project/magi/internal/provider"
	"github.com/magi-project/magi/internal/runner"
	"github.com/magi-project/magi/pkg/wire"
)

// Status is the terminal or continuation state a stage reports.
type Status string

const (
	StatusSuccess    Status = "SUCCESS"
	StatusNeedsRetry Status = "NEEDS_RETRY"
	StatusFailure    Status = "FAILURE"
)

// InputShaper composes a stage's input messages from the running history
// and the previous stage's output (spec §4.5's optional `input` field).
type InputShaper func(history []wire.ConversationItem, lastOutputByStage map[string]string) []wire.ConversationItem

// AgentFactory builds the agent for a stage, optionally parameterized by
// metadata forwarded from the previous stage's METADATA: marker.
type AgentFactory func(metadata json.RawMessage) *runner.Agent

// StageConfig is one entry in a RunnerConfig's stage map.
type StageConfig struct {
	Agent AgentFactory
	Input InputShaper
	Next  string // static fallback if the agent's own NEXT: marker is absent
}

// RunnerConfig is the full stage graph, keyed by stage name.
type RunnerConfig struct {
	Stages             map[string]StageConfig
	Start              string
	MaxRetriesPerStage int
	MaxTotalRetries    int
}

// StageResult is what each stage run leaves behind in Results.
type StageResult struct {
	Status   Status
	Response string
	Next     string
	Metadata json.RawMessage
}

// Run is a stateful run of runSequential over a RunnerConfig.
type Run struct {
	cfg     RunnerConfig
	rnr     *runner.Runner
	Results map[string]StageResult

	onStageComplete func(stage string, result StageResult)

	stageRetries map[string]int
	totalRetries int
	history      []wire.ConversationItem
}

func NewRun(cfg RunnerConfig, rnr *runner.Runner) *Run {
	if cfg.MaxRetriesPerStage <= 0 {
		cfg.MaxRetriesPerStage = 2
	}
	if cfg.MaxTotalRetries <= 0 {
		cfg.MaxTotalRetries = 6
	}
	return &Run{
		cfg:          cfg,
		rnr:          rnr,
		Results:      make(map[string]StageResult),
		stageRetries: make(map[string]int),
	}
}

func (r *Run) OnStageComplete(fn func(stage string, result StageResult)) {
	r.onStageComplete = fn
}

var (
	statusRe   = regexp.MustCompile(`(?m)^STATUS:\s*(\S+)`)
	nextRe     = regexp.MustCompile(`(?m)^NEXT:\s*(\S+)`)
	metadataRe = regexp.MustCompile(`(?m)^METADATA:\s*(\{.*\})\s*$`)
)

// runSequential implements spec §4.5's stage loop exactly: bounded
// per-stage and global retries, marker-driven continuation, termination
// on a literal "null" next or a terminal/failure state.
func (r *Run) runSequential(ctx context.Context) (map[string]StageResult, error) {
	stage := r.cfg.Start
	lastOutputByStage := make(map[string]string)
	var lastMetadata json.RawMessage

	for stage != "" && stage != "null" {
		cfg, ok := r.cfg.Stages[stage]
		if !ok {
			return r.Results, fmt.Errorf("staged: unknown stage %q", stage)
		}

		if r.stageRetries[stage] >= r.cfg.MaxRetriesPerStage {
			res := StageResult{Status: StatusFailure, Response: "max retries per stage exceeded"}
			r.Results[stage] = res
			r.fire(stage, res)
			return r.Results, fmt.Errorf("staged: stage %q exceeded max retries", stage)
		}

		var input []wire.ConversationItem
		if cfg.Input != nil {
			input = cfg.Input(r.history, lastOutputByStage)
		} else {
			input = r.history
		}

		agent := cfg.Agent(lastMetadata)
		req := provider.CompletionRequest{History: input}

		result, err := r.rnr.RunStreamedWithTools(ctx, agent, req, "")
		if err != nil {
			return r.Results, fmt.Errorf("staged: stage %q: %w", stage, err)
		}
		r.history = result.History

		status, next, metadata := parseMarkers(result.FinalText)
		lastOutputByStage[stage] = result.FinalText

		switch status {
		case StatusNeedsRetry:
			r.stageRetries[stage]++
			r.totalRetries++
			if r.totalRetries >= r.cfg.MaxTotalRetries {
				res := StageResult{Status: StatusFailure, Response: result.FinalText}
				r.Results[stage] = res
				r.fire(stage, res)
				return r.Results, fmt.Errorf("staged: max total retries exceeded at stage %q", stage)
			}
			continue // re-run same stage

		case StatusFailure:
			res := StageResult{Status: StatusFailure, Response: result.FinalText}
			r.Results[stage] = res
			r.fire(stage, res)
			return r.Results, fmt.Errorf("staged: stage %q reported failure", stage)
		}

		if next == "" {
			next = cfg.Next
		}
		res := StageResult{Status: StatusSuccess, Response: result.FinalText, Next: next, Metadata: metadata}
		r.Results[stage] = res
		r.fire(stage, res)

		lastMetadata = metadata
		stage = next
	}

	return r.Results, nil
}

// Execute runs the stage graph to completion or failure.
func (r *Run) Execute(ctx context.Context) (map[string]StageResult, error) {
	return r.runSequential(ctx)
}

func (r *Run) fire(stage string, res StageResult) {
	if r.onStageComplete != nil {
		r.onStageComplete(stage, res)
	}
}

func parseMarkers(text string) (Status, string, json.RawMessage) {
	status := StatusSuccess
	if m := statusRe.FindStringSubmatch(text); m != nil {
		status = Status(strings.TrimSpace(m[1]))
	}
	var next string
	if m := nextRe.FindStringSubmatch(text); m != nil {
		next = strings.TrimSpace(m[1])
	}
	var metadata json.RawMessage
	if m := metadataRe.FindStringSubmatch(text); m != nil {
		raw := strings.TrimSpace(m[1])
		if json.Valid([]byte(raw)) {
			metadata = json.RawMessage(raw)
		}
	}
	return status, next, metadata
}
