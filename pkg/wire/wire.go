// Package wire defines the duplex JSON-frame protocol exchanged between the
// controller and agent-process containers, plus the canonical conversation
// and tool-call types shared by the provider, tool-engine, and runner
// packages. All types here round-trip through encoding/json; field names
// match the wire vocabulary so a container written in any language can
// interoperate without consulting generated code.
package wire

import "encoding/json"

// EventType tags the embedded payload of a MagiMessage.
type EventType string

// Upstream (container -> controller).
const (
	EventMessageDelta    EventType = "message_delta"
	EventMessageComplete EventType = "message_complete"
	EventToolStart       EventType = "tool_start"
	EventToolDone        EventType = "tool_done"
	EventCostUpdate      EventType = "cost_update"
	EventProcessStart    EventType = "process_start"
	EventProcessRunning  EventType = "process_running"
	EventProcessUpdated  EventType = "process_updated"
	EventProcessDone     EventType = "process_done"
	EventProcessWaiting  EventType = "process_waiting"
	EventProcessTerm     EventType = "process_terminated"
	EventProcessFailed   EventType = "process_failed"
	EventProjectCreate   EventType = "project_create"
	EventProjectDelete   EventType = "project_delete"
	EventCommandStart    EventType = "command_start"
	EventGitPullRequest  EventType = "git_pull_request"
	EventSystemStatus    EventType = "system_status"
	EventAgentStart      EventType = "agent_start"
	EventAgentUpdated    EventType = "agent_updated"
	EventError           EventType = "error"
	// UI-only opaque passthrough kinds.
	EventScreenshot EventType = "screenshot"
	EventConsole    EventType = "console"
	EventDesign     EventType = "design"
)

// Downstream (controller -> container).
const (
	CommandConnect              EventType = "connect"
	CommandGeneric              EventType = "command"
	CommandSystem               EventType = "system_command"
	CommandSystemMessage        EventType = "system_message"
	CommandProjectUpdate        EventType = "project_update"
	CommandProjectReady         EventType = "project_ready"
	CommandProjectDeleteComplete EventType = "project_delete_complete"
	CommandProcessEvent         EventType = "process_event"
)

// ResponseSuffix is appended to an EventType to build a "<type>_response" frame.
const ResponseSuffix = "_response"

// SystemCommand enumerates the system_command payload values.
type SystemCommand string

const (
	SystemCommandPause  SystemCommand = "pause"
	SystemCommandResume SystemCommand = "resume"
	SystemCommandStop   SystemCommand = "stop"
)

// Event is the tagged payload embedded in a MagiMessage. Exactly one of the
// typed fields below is populated for a given Type; the rest stay nil and
// are omitted from the wire encoding.
type Event struct {
	Type EventType `json:"type"`

	Agent *AgentRef `json:"agent,omitempty"`

	MessageDelta    *MessageDeltaPayload    `json:"-"`
	MessageComplete *MessageCompletePayload `json:"-"`
	ToolStart       *ToolStartPayload       `json:"-"`
	ToolDone        *ToolDonePayload        `json:"-"`
	CostUpdate      *CostUpdatePayload      `json:"-"`
	ProcessStart    *ProcessStartPayload    `json:"-"`
	ProjectRef      *ProjectRefPayload      `json:"-"`
	CommandStart    *CommandStartPayload    `json:"-"`
	GitPullRequest  *GitPullRequestPayload  `json:"-"`
	SystemStatus    *SystemStatusPayload    `json:"-"`
	Error           *ErrorPayload           `json:"-"`
	Raw             json.RawMessage         `json:"-"`
}

// AgentRef identifies the agent that produced an event, injected by the
// caller when the provider event omits it.
type AgentRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

type MessageDeltaPayload struct {
	Content         string `json:"content"`
	MessageID       string `json:"message_id"`
	Order           int    `json:"order"`
	ThinkingContent string `json:"thinking_content,omitempty"`
}

type MessageCompletePayload struct {
	Content         string `json:"content"`
	MessageID       string `json:"message_id"`
	ThinkingContent string `json:"thinking_content,omitempty"`
}

type ToolStartPayload struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

type ToolDonePayload struct {
	ToolCalls []ToolCall    `json:"tool_calls"`
	Results   []ToolResult  `json:"results"`
}

type CostUpdatePayload struct {
	Usage Usage `json:"usage"`
}

// Usage mirrors the per-call usage envelope reported by a provider.
type Usage struct {
	Model          string  `json:"model"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	CachedTokens   int     `json:"cached_tokens,omitempty"`
	ReasoningTokens int    `json:"reasoning_tokens,omitempty"`
	Cost           float64 `json:"cost,omitempty"`
	TimestampMs    int64   `json:"timestamp,omitempty"`
	FreeTier       bool    `json:"free_tier,omitempty"`
}

type ProcessStartPayload struct {
	AgentProcess json.RawMessage `json:"agentProcess"`
}

type ProjectRefPayload struct {
	ProjectID string `json:"project_id"`
}

type CommandStartPayload struct {
	TargetProcessID string `json:"targetProcessId"`
	Command         string `json:"command"`
}

type GitPullRequestPayload struct {
	ProcessID string `json:"processId"`
	ProjectID string `json:"projectId"`
	Branch    string `json:"branch"`
	Message   string `json:"message"`
	PatchID   string `json:"patchId"`
}

type SystemStatusPayload struct {
	Status json.RawMessage `json:"status"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// ToolCall is the canonical representation a provider's native tool-call
// stream and the textual `TOOL_CALLS:` fallback both converge on.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is one entry of a tool_done batch.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Tool       string `json:"tool,omitempty"`
	Input      string `json:"input,omitempty"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// MagiMessage is the wire envelope for every duplex frame. message.ProcessID
// must equal the owning connection's process id; the Communication Hub
// drops frames where it does not.
type MagiMessage struct {
	ProcessID string `json:"processId"`
	Event     Event  `json:"event"`
}
