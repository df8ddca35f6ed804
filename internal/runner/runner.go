package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/magi-project/magi/internal/provider"
	"github.com/magi-project/magi/internal/toolengine"
	"github.com/magi-project/magi/pkg/wire"
)

// ErrMaxToolCalls is returned when MaxToolCalls is exceeded within one
// top-level RunStreamedWithTools invocation.
var ErrMaxToolCalls = errors.New("runner: max tool calls exceeded for this run")

// ErrMaxToolCallRounds is returned when MaxToolCallRoundsPerTurn is
// exceeded. Distinct from ErrMaxToolCalls because the two caps are
// independently enforced (spec's Open Question resolved in DESIGN.md).
var ErrMaxToolCallRounds = errors.New("runner: max tool call rounds exceeded for this turn")

// Runner drives a single agent's streaming turn: model resolution,
// provider fallback, tool dispatch, and follow-up-turn reinvocation.
type Runner struct {
	providers map[string]provider.Provider
	classes   ClassCatalog
	tools     *toolengine.Registry
	engine    *toolengine.Engine
	disabled  map[string]bool
}

func New(providers map[string]provider.Provider, classes ClassCatalog, tools *toolengine.Registry, engine *toolengine.Engine) *Runner {
	return &Runner{
		providers: providers,
		classes:   classes,
		tools:     tools,
		engine:    engine,
		disabled:  make(map[string]bool),
	}
}

func (r *Runner) DisableModel(model string) { r.disabled[model] = true }
func (r *Runner) EnableModel(model string)  { delete(r.disabled, model) }

// resolveModel implements spec §4.4's model resolution: agent.Model wins
// if set; otherwise a member of agent.ModelClass is chosen by score.
func (r *Runner) resolveModel(agent *Agent, hint Intelligence) (string, error) {
	if agent.Model != "" {
		return agent.Model, nil
	}
	if agent.ModelClass == "" {
		return "", fmt.Errorf("runner: agent %q has neither model nor modelClass", agent.Name)
	}
	model, ok := r.classes.Resolve(agent.ModelClass, hint, r.disabled)
	if !ok {
		return "", fmt.Errorf("runner: no available model in class %q", agent.ModelClass)
	}
	return model, nil
}

func (r *Runner) providerFor(model string) provider.Provider {
	for _, p := range r.providers {
		if p.SupportsModel(model) {
			return p
		}
	}
	return nil
}

// RunStreamed resolves a model and streams provider events, emitting
// agent_start first and rewriting event.Agent onto every downstream event
// that lacks one. On a provider error it walks the agent's fallback class
// in score order (excluding the failed model), emitting agent_updated on
// each switch, before finally emitting an error event.
func (r *Runner) RunStreamed(ctx context.Context, agent *Agent, req provider.CompletionRequest, hint Intelligence) <-chan wire.Event {
	out := make(chan wire.Event)

	go func() {
		defer close(out)

		model, err := r.resolveModel(agent, hint)
		if err != nil {
			out <- wire.Event{Type: wire.EventError, Error: &wire.ErrorPayload{Error: err.Error()}}
			return
		}

		ref := &wire.AgentRef{ID: agent.AgentID, Name: agent.Name, Model: model}
		out <- wire.Event{Type: wire.EventAgentStart, Agent: ref}

		tried := map[string]bool{}
		for {
			tried[model] = true
			p := r.providerFor(model)
			if p == nil {
				out <- wire.Event{Type: wire.EventError, Error: &wire.ErrorPayload{Error: fmt.Sprintf("runner: no provider supports model %q", model)}}
				return
			}

			r2 := req
			r2.Model = model
			if agent.Hooks.OnRequest != nil {
				agent.Hooks.OnRequest(r2)
			}

			stream, err := p.Stream(ctx, r2)
			if err == nil {
				ref = &wire.AgentRef{ID: agent.AgentID, Name: agent.Name, Model: model}
				for evt := range stream {
					if evt.Agent == nil {
						evt.Agent = ref
					}
					if agent.Hooks.OnEvent != nil {
						agent.Hooks.OnEvent(evt)
					}
					out <- evt
					if evt.Type == wire.EventError {
						return
					}
				}
				return
			}

			if !provider.ShouldFallback(err) {
				out <- wire.Event{Type: wire.EventError, Error: &wire.ErrorPayload{Error: err.Error()}}
				return
			}

			next := firstUntried(r.classes.FallbackOrder(agent.ModelClass, model, r.disabled), tried)
			if next == "" {
				out <- wire.Event{Type: wire.EventError, Error: &wire.ErrorPayload{Error: fmt.Errorf("runner: all fallback models exhausted: %w", err).Error()}}
				return
			}
			model = next
			ref = &wire.AgentRef{ID: agent.AgentID, Name: agent.Name, Model: model}
			out <- wire.Event{Type: wire.EventAgentUpdated, Agent: ref}
		}
	}()

	return out
}

func firstUntried(candidates []string, tried map[string]bool) string {
	for _, c := range candidates {
		if !tried[c] {
			return c
		}
	}
	return ""
}

// TurnResult is what RunStreamedWithTools returns once the model stops
// calling tools (or a cap is hit).
type TurnResult struct {
	FinalText string
	History   []wire.ConversationItem
	Rounds    int
	ToolCalls int
}

// RunStreamedWithTools implements spec §4.4's multi-round loop: stream a
// turn, dispatch any tool_start batch through the Tool Call Engine,
// append function_call/function_call_output pairs to history, then
// reinvoke itself with an empty input as a follow-up turn — until the
// model emits no more tool calls, MaxToolCallRoundsPerTurn is reached, or
// MaxToolCalls is exceeded.
func (r *Runner) RunStreamedWithTools(ctx context.Context, agent *Agent, req provider.CompletionRequest, hint Intelligence) (*TurnResult, error) {
	history := append([]wire.ConversationItem(nil), req.History...)
	result := &TurnResult{}

	for {
		result.Rounds++
		if agent.MaxToolCallRoundsPerTurn > 0 && result.Rounds > agent.MaxToolCallRoundsPerTurn {
			return result, ErrMaxToolCallRounds
		}

		turnReq := req
		turnReq.History = history

		var fullText string
		var pendingCalls []wire.ToolCall

		for evt := range r.RunStreamed(ctx, agent, turnReq, hint) {
			switch evt.Type {
			case wire.EventMessageDelta:
				fullText += evt.MessageDelta.Content
			case wire.EventMessageComplete:
				if evt.MessageComplete.Content != "" {
					fullText = evt.MessageComplete.Content
				}
			case wire.EventToolStart:
				pendingCalls = append(pendingCalls, evt.ToolStart.ToolCalls...)
				for _, c := range evt.ToolStart.ToolCalls {
					if agent.Hooks.OnToolCall != nil {
						agent.Hooks.OnToolCall(c)
					}
				}
			case wire.EventError:
				return result, fmt.Errorf("runner: provider stream: %s", evt.Error.Error)
			}
		}

		if agent.Hooks.OnResponse != nil {
			agent.Hooks.OnResponse(fullText)
		}
		result.FinalText = fullText

		if len(pendingCalls) == 0 {
			break
		}

		if agent.MaxToolCalls > 0 && result.ToolCalls+len(pendingCalls) > agent.MaxToolCalls {
			return result, ErrMaxToolCalls
		}
		result.ToolCalls += len(pendingCalls)

		for _, c := range pendingCalls {
			history = append(history, wire.NewFunctionCall(c.ID, c.Function.Name, c.Function.Arguments))
		}

		dispatched := r.engine.Dispatch(ctx, pendingCalls)
		for _, res := range dispatched {
			if agent.Hooks.OnToolResult != nil {
				agent.Hooks.OnToolResult(res)
			}
		}
		history = append(history, toolengine.ToHistoryItems(dispatched)...)

		req.History = history
	}

	result.History = history
	if agent.Hooks.OnComplete != nil {
		agent.Hooks.OnComplete(result.FinalText)
	}
	return result, nil
}
