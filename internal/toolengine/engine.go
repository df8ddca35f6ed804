package toolengine

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/magi-project/magi/internal/backoff"
	"github.com/magi-project/magi/pkg/wire"
)

// EngineConfig controls concurrency, timeout, and retry behavior for
// dispatching a batch of tool calls.
type EngineConfig struct {
	MaxConcurrency int
	DefaultTimeout time.Duration
	DefaultRetries int
	Policy         backoff.BackoffPolicy
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrency: 5,
		DefaultTimeout: 30 * time.Second,
		DefaultRetries: 2,
		Policy:         backoff.ToolExecutionPolicy(),
	}
}

// Engine dispatches tool calls against a Registry with bounded
// concurrency, per-call timeout, and retry-on-retryable-error.
type Engine struct {
	registry *Registry
	cfg      EngineConfig
	sem      chan struct{}

	mu      sync.Mutex
	metrics EngineMetrics
}

type EngineMetrics struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

func NewEngine(registry *Registry, cfg EngineConfig) *Engine {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	return &Engine{
		registry: registry,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Result is the outcome of dispatching one tool call.
type Result struct {
	Call     wire.ToolCall
	Output   string
	Err      error
	Duration time.Duration
	Attempts int
}

// Dispatch runs every call in batch concurrently (bounded by
// MaxConcurrency) and returns results in input order, ready to be
// reconciled into history via ToToolResults/ToHistoryItems.
func (e *Engine) Dispatch(ctx context.Context, batch []wire.ToolCall) []Result {
	if len(batch) == 0 {
		return nil
	}

	results := make([]Result, len(batch))
	var wg sync.WaitGroup
	for i, call := range batch {
		wg.Add(1)
		go func(idx int, c wire.ToolCall) {
			defer wg.Done()
			results[idx] = e.dispatchOne(ctx, c)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Engine) dispatchOne(ctx context.Context, call wire.ToolCall) Result {
	start := time.Now()

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return Result{Call: call, Err: ctx.Err(), Duration: time.Since(start)}
	}

	var lastErr error
	var attempt int
	for attempt = 0; attempt <= e.cfg.DefaultRetries; attempt++ {
		output, err := e.runOnce(ctx, call, e.cfg.DefaultTimeout)
		if err == nil {
			e.recordSuccess()
			return Result{Call: call, Output: output, Duration: time.Since(start), Attempts: attempt + 1}
		}
		lastErr = err

		if !retryable(err) || ctx.Err() != nil || attempt >= e.cfg.DefaultRetries {
			break
		}
		e.recordRetry()
		delay := backoff.ComputeBackoff(e.cfg.Policy, attempt+1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt++
			goto done
		}
	}
done:
	e.recordFailure(lastErr)
	return Result{Call: call, Err: lastErr, Duration: time.Since(start), Attempts: attempt + 1}
}

func (e *Engine) runOnce(ctx context.Context, call wire.ToolCall, timeout time.Duration) (output string, err error) {
	entry, ok := e.registry.Lookup(call.Function.Name)
	if !ok {
		return "", &Error{Tool: call.Function.Name, CallID: call.ID, Kind: ErrNotFound, Err: fmt.Errorf("unknown tool %q", call.Function.Name)}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &Error{Tool: call.Function.Name, CallID: call.ID, Kind: ErrPanic, Err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}}
			}
		}()
		out, err := entry.Function(execCtx, json.RawMessage(call.Function.Arguments))
		if err != nil {
			done <- outcome{err: &Error{Tool: call.Function.Name, CallID: call.ID, Kind: ErrExecution, Err: err}}
			return
		}
		done <- outcome{output: out}
	}()

	select {
	case o := <-done:
		return o.output, o.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return "", &Error{Tool: call.Function.Name, CallID: call.ID, Kind: ErrTimeout, Err: ctx.Err()}
		}
		return "", &Error{Tool: call.Function.Name, CallID: call.ID, Kind: ErrTimeout, Err: fmt.Errorf("execution timed out after %s", timeout)}
	}
}

func (e *Engine) recordSuccess() {
	e.mu.Lock()
	e.metrics.TotalExecutions++
	e.mu.Unlock()
}

func (e *Engine) recordRetry() {
	e.mu.Lock()
	e.metrics.TotalRetries++
	e.mu.Unlock()
}

func (e *Engine) recordFailure(err error) {
	e.mu.Lock()
	e.metrics.TotalExecutions++
	e.metrics.TotalFailures++
	if toolErr, ok := err.(*Error); ok {
		switch toolErr.Kind {
		case ErrTimeout:
			e.metrics.TotalTimeouts++
		case ErrPanic:
			e.metrics.TotalPanics++
		}
	}
	e.mu.Unlock()
}

func (e *Engine) Metrics() EngineMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// ToHistoryItems converts dispatch results into the function_call_output
// items the Runner appends to conversation history (spec §3 invariant 4 —
// every function_call must be matched by exactly one output).
func ToHistoryItems(results []Result) []wire.ConversationItem {
	items := make([]wire.ConversationItem, 0, len(results))
	for _, r := range results {
		output := r.Output
		if r.Err != nil {
			output = r.Err.Error()
		}
		items = append(items, wire.NewFunctionCallOutput(r.Call.ID, r.Call.Function.Name, output))
	}
	return items
}

// ToToolResults converts dispatch results into the wire.ToolResult batch
// reported in a tool_done event.
func ToToolResults(results []Result) []wire.ToolResult {
	out := make([]wire.ToolResult, 0, len(results))
	for _, r := range results {
		tr := wire.ToolResult{ToolCallID: r.Call.ID, Tool: r.Call.Function.Name, Input: r.Call.Function.Arguments, Output: r.Output}
		if r.Err != nil {
			tr.Error = r.Err.Error()
		}
		out = append(out, tr)
	}
	return out
}

// AnyErrors reports whether any dispatch result failed.
func AnyErrors(results []Result) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

func retryable(err error) bool {
	toolErr, ok := err.(*Error)
	if !ok {
		return false
	}
	return toolErr.Kind == ErrTimeout || toolErr.Kind == ErrExecution
}
