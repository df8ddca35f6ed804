package provider

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/magi-project/magi/pkg/wire"
)

const toolCallsMarkerLiteral = "TOOL_CALLS:"

// rawToolCall accepts both shapes a model may emit after the marker: the
// OpenAI-style {"function":{"name","arguments"}} wrapper, and a flat
// {"name","arguments"}. In either shape arguments may be a JSON string or a
// raw object; a raw object is re-stringified so wire.ToolCallFunc.Arguments
// is always the string form tool dispatch expects.
type rawToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Function  *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

func (r rawToolCall) resolve() (name, arguments string) {
	name, args := r.Name, r.Arguments
	if r.Function != nil {
		name, args = r.Function.Name, r.Function.Arguments
	}
	args = bytes.TrimSpace(args)
	if len(args) == 0 {
		return name, ""
	}
	if args[0] == '"' {
		var s string
		if err := json.Unmarshal(args, &s); err == nil {
			return name, s
		}
	}
	return name, string(args)
}

// ParseSimulatedToolCalls scans content for every `TOOL_CALLS:` marker
// occurrence — plain or inside a ```json fenced block — and uses the LAST
// one, since later prose may legitimately mention the marker by name. The
// JSON array following the winning marker is extracted by bracket-depth
// matching rather than a greedy regex, so an earlier marker's array never
// bleeds into the one actually being parsed. Returns the parsed calls and
// the content with the winning marker and everything after it stripped,
// leaving the preceding prose as the final message_complete content.
func ParseSimulatedToolCalls(content string) ([]wire.ToolCall, string) {
	markerAt := lastIndex(content, toolCallsMarkerLiteral)
	if markerAt == -1 {
		return nil, content
	}

	arrayStart := strings.IndexByte(content[markerAt:], '[')
	if arrayStart == -1 {
		return nil, content
	}
	arrayStart += markerAt

	arrayEnd := matchingBracket(content, arrayStart)
	if arrayEnd == -1 {
		return nil, content
	}

	var raws []rawToolCall
	if err := json.Unmarshal([]byte(content[arrayStart:arrayEnd+1]), &raws); err != nil {
		return nil, content
	}

	calls := make([]wire.ToolCall, 0, len(raws))
	for i, r := range raws {
		name, arguments := r.resolve()
		calls = append(calls, wire.ToolCall{
			ID:   syntheticCallID(i),
			Type: "function",
			Function: wire.ToolCallFunc{
				Name:      name,
				Arguments: arguments,
			},
		})
	}

	prefix := content[:markerAt]
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "```json")
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "```")
	return calls, strings.TrimSpace(prefix)
}

func lastIndex(s, substr string) int {
	idx := -1
	for {
		next := strings.Index(s[idx+1:], substr)
		if next == -1 {
			return idx
		}
		idx = idx + 1 + next
	}
}

// matchingBracket returns the index of the ']' matching the '[' at start,
// respecting JSON string quoting and escapes so brackets inside string
// values don't throw off the depth count.
func matchingBracket(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string, brackets don't count
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func syntheticCallID(i int) string {
	return "sim_" + strconv.Itoa(i)
}

// simulatedToolCallsPlaceholder replaces a parsed TOOL_CALLS marker in the
// final message_complete content, so a client rendering the message still
// sees that a tool call happened there instead of the prose simply trailing
// off.
const simulatedToolCallsPlaceholder = "[Simulated Tool Calls Removed]"

// EmitFinal closes out a provider's turn on finish_reason=stop. When the
// provider didn't already emit a native tool_start for this turn, it
// attempts a textual TOOL_CALLS parse first, surfacing the parsed calls as a
// tool_start and replacing the marker in the message content with
// simulatedToolCallsPlaceholder before the message_complete is sent.
func EmitFinal(out chan<- wire.Event, messageID, text string, nativeToolCall bool) {
	if !nativeToolCall {
		if calls, remainder := ParseSimulatedToolCalls(text); calls != nil {
			out <- wire.Event{Type: wire.EventToolStart, ToolStart: &wire.ToolStartPayload{ToolCalls: calls}}
			if remainder == "" {
				text = simulatedToolCallsPlaceholder
			} else {
				text = remainder + "\n\n" + simulatedToolCallsPlaceholder
			}
		}
	}
	out <- wire.Event{Type: wire.EventMessageComplete, MessageComplete: &wire.MessageCompletePayload{Content: text, MessageID: messageID}}
}
