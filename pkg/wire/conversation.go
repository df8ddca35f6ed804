package wire

import "encoding/json"

// Role enumerates the canonical conversation roles.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleDeveloper Role = "developer"
)

// ItemKind tags a ConversationItem.
type ItemKind string

const (
	ItemMessage          ItemKind = "message"
	ItemFunctionCall     ItemKind = "function_call"
	ItemFunctionCallOut  ItemKind = "function_call_output"
	ItemThinking         ItemKind = "thinking"
)

// ConversationItem is the canonical history entry (spec §3). Exactly one
// shape applies per Kind: Message for role+content, Call/CallOutput for the
// function-call pairing, Thinking for the sidecar chain-of-thought record.
type ConversationItem struct {
	Kind ItemKind `json:"kind"`

	// Message fields (Kind == ItemMessage).
	Role    Role   `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// Function call fields (Kind == ItemFunctionCall).
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// Function call output fields (Kind == ItemFunctionCallOut).
	Output string `json:"output,omitempty"`
}

// NewMessage builds a role+content history item.
func NewMessage(role Role, content string) ConversationItem {
	return ConversationItem{Kind: ItemMessage, Role: role, Content: content}
}

// NewFunctionCall builds a function_call item from a ToolCall.
func NewFunctionCall(callID, name, arguments string) ConversationItem {
	return ConversationItem{Kind: ItemFunctionCall, CallID: callID, Name: name, Arguments: arguments}
}

// NewFunctionCallOutput builds the function_call_output item matching a
// prior function_call by call_id. Every function_call appended to history
// must eventually be matched by exactly one of these (spec invariant 4).
func NewFunctionCallOutput(callID, name, output string) ConversationItem {
	return ConversationItem{Kind: ItemFunctionCallOut, CallID: callID, Name: name, Output: output}
}

// NewThinking builds a thinking sidecar item.
func NewThinking(content string) ConversationItem {
	return ConversationItem{Kind: ItemThinking, Content: content}
}

// ToolParameterSchema is a JSON-Schema-shaped parameter description whose
// description/enum fields may be resolved dynamically at tool-list
// materialization time (spec §3, §4.3, §9).
type ToolParameterSchema struct {
	Type        string                         `json:"type"`
	Description DynamicString                  `json:"description,omitempty"`
	Enum        DynamicStringSlice             `json:"enum,omitempty"`
	Properties  map[string]*ToolParameterSchema `json:"properties,omitempty"`
	Items       *ToolParameterSchema           `json:"items,omitempty"`
	Required    []string                       `json:"required,omitempty"`
}

// DynamicString is either a literal string or a closure resolved at
// materialization time. Exactly one of Value/Resolve is set.
type DynamicString struct {
	Value   string
	Resolve func() string
}

func (d DynamicString) Resolved() string {
	if d.Resolve != nil {
		return d.Resolve()
	}
	return d.Value
}

// DynamicStringSlice mirrors DynamicString for enum lists.
type DynamicStringSlice struct {
	Value   []string
	Resolve func() []string
}

func (d DynamicStringSlice) Resolved() []string {
	if d.Resolve != nil {
		return d.Resolve()
	}
	return d.Value
}

// ToolDefinition is the static shape portion of a ToolFunction (spec §3):
// {definition:{name,description,parameters}, function}. The executable
// function lives in the toolengine registry, keyed by Name.
type ToolDefinition struct {
	Name        string                          `json:"name"`
	Description string                          `json:"description"`
	Parameters  map[string]*ToolParameterSchema  `json:"parameters,omitempty"`
	Required    []string                        `json:"required,omitempty"`
}

// MaterializedToolDefinition is a ToolDefinition with every dynamic
// description/enum resolved, ready to hand to a provider.
type MaterializedToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
