// Package eventrouter implements the C4 Event Router: inbound-event
// dispatch with a custom-handler-first policy, reply-on-response-type
// convention, and the built-in forwarding rules spec §4.9 names.
package eventrouter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/magi-project/magi/internal/process"
	"github.com/magi-project/magi/pkg/wire"
)

// Sender delivers an event to one process's connection (implemented by
// internal/hub.Hub.Send).
type Sender interface {
	Send(processID string, event wire.Event) error
}

// Handler processes one event type. Returning a non-nil response event
// causes the router to deliver it back as "<type>_response".
type Handler func(ctx context.Context, sourceProcessID string, event wire.Event) (response *wire.Event, err error)

const coreStopRefusal = "Can not stop the core process."

// Router dispatches inbound events by type, custom handlers first.
type Router struct {
	sender   Sender
	procs    *process.Manager
	logger   *slog.Logger
	handlers map[string]Handler

	forceStopWatchdog time.Duration

	mu        sync.Mutex
	watchdogs map[string]*time.Timer
}

func New(sender Sender, procs *process.Manager, logger *slog.Logger) *Router {
	return &Router{
		sender:            sender,
		procs:             procs,
		logger:            logger,
		handlers:          make(map[string]Handler),
		forceStopWatchdog: 5 * time.Second,
		watchdogs:         make(map[string]*time.Timer),
	}
}

// RegisterHandler installs a custom handler for eventType, checked before
// any built-in rule (spec §4.9's "custom handler-first dispatch").
func (r *Router) RegisterHandler(eventType string, h Handler) {
	r.handlers[eventType] = h
}

// Dispatch routes one inbound message from processID.
func (r *Router) Dispatch(ctx context.Context, processID string, msg wire.MagiMessage) {
	eventType := string(msg.Event.Type)

	if h, ok := r.handlers[eventType]; ok {
		resp, err := h(ctx, processID, msg.Event)
		if err != nil {
			r.logger.Warn("eventrouter: custom handler failed", "type", eventType, "error", err)
			return
		}
		if resp != nil {
			reply := *resp
			reply.Type = msg.Event.Type + wire.ResponseSuffix
			_ = r.sender.Send(processID, reply)
		}
		return
	}

	r.dispatchBuiltin(ctx, processID, msg.Event)
}

func (r *Router) dispatchBuiltin(ctx context.Context, sourceProcessID string, event wire.Event) {
	switch event.Type {
	case wire.EventProcessDone:
		r.procs.SetState(sourceProcessID, process.StateDone)

	case wire.EventGitPullRequest:
		if event.GitPullRequest != nil {
			_ = r.sender.Send(event.GitPullRequest.ProcessID, event)
		}

	case wire.EventCommandStart:
		r.handleCommandStart(sourceProcessID, event)

	case wire.EventProcessStart:
		r.handleProcessStart(ctx, event)

	case wire.EventProcessFailed:
		r.procs.SetState(sourceProcessID, process.StateErrored)
		_ = r.procs.ForceStop(ctx, sourceProcessID)

	case wire.EventProcessRunning:
		r.procs.SetState(sourceProcessID, process.StateRunning)
		r.forwardWithSource(sourceProcessID, event)

	case wire.EventProcessUpdated:
		r.forwardWithSource(sourceProcessID, event)

	case wire.EventProcessWaiting:
		r.procs.SetState(sourceProcessID, process.StateWaiting)
		r.forwardWithSource(sourceProcessID, event)

	case wire.EventProjectCreate, wire.EventProjectDelete:
		r.forwardWithSource(sourceProcessID, event)

	case wire.EventSystemStatus:
		_ = r.sender.Send(sourceProcessID, event)

	case wire.EventToolStart:
		r.handleToolStart(sourceProcessID, event)

	case wire.EventProcessTerm:
		if !r.procs.IsCore(sourceProcessID) {
			r.forwardWithSource(sourceProcessID, event)
		}

	default:
		r.forwardWithSource(sourceProcessID, event)
	}
}

// handleCommandStart guards the core process from a stop command, per
// spec §4.9, and otherwise forwards the event unchanged to the target
// process (the source process id is not added to it), arming a
// force-stop watchdog for "stop" commands.
func (r *Router) handleCommandStart(sourceProcessID string, event wire.Event) {
	if event.CommandStart == nil {
		return
	}
	target := event.CommandStart.TargetProcessID

	if event.CommandStart.Command == "stop" && r.procs.IsCore(target) {
		_ = r.sender.Send(sourceProcessID, wire.Event{
			Type:  wire.EventError,
			Error: &wire.ErrorPayload{Error: coreStopRefusal},
		})
		return
	}

	_ = r.sender.Send(target, event)

	if event.CommandStart.Command == "stop" {
		r.armForceStopWatchdog(target)
	}
}

func (r *Router) armForceStopWatchdog(processID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.watchdogs[processID]; ok {
		existing.Stop()
	}
	r.watchdogs[processID] = time.AfterFunc(r.forceStopWatchdog, func() {
		_ = r.procs.ForceStop(context.Background(), processID)
		r.mu.Lock()
		delete(r.watchdogs, processID)
		r.mu.Unlock()
	})
}

// CancelForceStopWatchdog disarms the watchdog, used when the target
// process confirms it stopped cleanly before the timer fires.
func (r *Router) CancelForceStopWatchdog(processID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.watchdogs[processID]; ok {
		t.Stop()
		delete(r.watchdogs, processID)
	}
}

const talkToPrefix = "talk_to_"

// handleToolStart special-cases talk_to_* calls as fire-and-forget
// speech, per spec §4.9, and otherwise forwards normally.
func (r *Router) handleToolStart(sourceProcessID string, event wire.Event) {
	if event.ToolStart != nil {
		for _, call := range event.ToolStart.ToolCalls {
			if strings.HasPrefix(call.Function.Name, talkToPrefix) {
				r.logger.Info("eventrouter: fire-and-forget speech call", "tool", call.Function.Name, "process_id", sourceProcessID)
			}
		}
	}
	r.forwardWithSource(sourceProcessID, event)
}

// forwardWithSource sends event unchanged to the core process; when no
// core process is registered the event is dropped.
func (r *Router) forwardWithSource(sourceProcessID string, event wire.Event) {
	for _, p := range r.procs.List() {
		if p.IsCore {
			_ = r.sender.Send(p.ID, event)
			return
		}
	}
}

type processStartSpec struct {
	ProcessID string `json:"processId"`
	ProjectID string `json:"projectId"`
}

// handleProcessStart creates a new tracked child process, decoding the
// target process/project ids out of the opaque agentProcess payload
// (spec §4.9's process_start builtin creates via the Process Manager).
func (r *Router) handleProcessStart(ctx context.Context, event wire.Event) {
	if event.ProcessStart == nil {
		return
	}
	var spec processStartSpec
	if err := json.Unmarshal(event.ProcessStart.AgentProcess, &spec); err != nil || spec.ProcessID == "" {
		r.logger.Warn("eventrouter: process_start missing processId", "error", err)
		return
	}
	if _, err := r.procs.Create(ctx, spec.ProcessID, spec.ProjectID, false); err != nil {
		r.logger.Warn("eventrouter: process_start failed", "process_id", spec.ProcessID, "error", err)
	}
}
