package provider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/magi-project/magi/pkg/wire"
)

// TestParseSimulatedToolCallsFenced reproduces spec §8 scenario S4: a fenced
// TOOL_CALLS marker after prose, on finish_reason=stop.
func TestParseSimulatedToolCallsFenced(t *testing.T) {
	content := "some prose\n```json\nTOOL_CALLS: [{\"function\":{\"name\":\"f\",\"arguments\":\"{\\\"x\\\":1}\"}}]\n```"

	calls, remainder := ParseSimulatedToolCalls(content)
	require.Len(t, calls, 1)
	require.Equal(t, "f", calls[0].Function.Name)
	require.Equal(t, `{"x":1}`, calls[0].Function.Arguments)
	require.Equal(t, "some prose", remainder)
}

func TestParseSimulatedToolCallsPlainAtEnd(t *testing.T) {
	content := "answer text\nTOOL_CALLS: [{\"function\":{\"name\":\"g\",\"arguments\":\"{}\"}}]"
	calls, remainder := ParseSimulatedToolCalls(content)
	require.Len(t, calls, 1)
	require.Equal(t, "g", calls[0].Function.Name)
	require.Equal(t, "answer text", remainder)
}

func TestParseSimulatedToolCallsUsesLastOccurrence(t *testing.T) {
	content := "I will call TOOL_CALLS: [{\"function\":{\"name\":\"wrong\",\"arguments\":\"{}\"}}] but actually\nTOOL_CALLS: [{\"function\":{\"name\":\"right\",\"arguments\":\"{}\"}}]"
	calls, _ := ParseSimulatedToolCalls(content)
	require.Len(t, calls, 1)
	require.Equal(t, "right", calls[0].Function.Name)
}

func TestParseSimulatedToolCallsNoMarker(t *testing.T) {
	calls, remainder := ParseSimulatedToolCalls("just a normal answer")
	require.Nil(t, calls)
	require.Equal(t, "just a normal answer", remainder)
}

// TestParseSimulatedToolCallsFlatShape covers the flat {name, arguments}
// form alongside the OpenAI-style {function:{...}} wrapper.
func TestParseSimulatedToolCallsFlatShape(t *testing.T) {
	content := `answer text` + "\n" + `TOOL_CALLS: [{"name":"h","arguments":"{\"y\":2}"}]`
	calls, remainder := ParseSimulatedToolCalls(content)
	require.Len(t, calls, 1)
	require.Equal(t, "h", calls[0].Function.Name)
	require.Equal(t, `{"y":2}`, calls[0].Function.Arguments)
	require.Equal(t, "answer text", remainder)
}

// TestParseSimulatedToolCallsRawObjectArguments covers arguments given as a
// raw JSON object rather than a JSON-encoded string; it must be
// re-stringified rather than dropped.
func TestParseSimulatedToolCallsRawObjectArguments(t *testing.T) {
	content := `TOOL_CALLS: [{"function":{"name":"i","arguments":{"z":3}}}]`
	calls, _ := ParseSimulatedToolCalls(content)
	require.Len(t, calls, 1)
	require.Equal(t, "i", calls[0].Function.Name)
	require.JSONEq(t, `{"z":3}`, calls[0].Function.Arguments)
}

// TestParseSimulatedToolCallsFlatShapeRawObjectArguments covers the flat
// shape combined with a raw-object arguments value.
func TestParseSimulatedToolCallsFlatShapeRawObjectArguments(t *testing.T) {
	content := `TOOL_CALLS: [{"name":"j","arguments":{"w":4}}]`
	calls, _ := ParseSimulatedToolCalls(content)
	require.Len(t, calls, 1)
	require.Equal(t, "j", calls[0].Function.Name)
	require.JSONEq(t, `{"w":4}`, calls[0].Function.Arguments)
}

func TestEmitFinalInsertsPlaceholderOnSimulatedToolCall(t *testing.T) {
	out := make(chan wire.Event, 2)
	EmitFinal(out, "msg1", "answer text\nTOOL_CALLS: [{\"name\":\"k\",\"arguments\":\"{}\"}]", false)

	toolStart := <-out
	require.Equal(t, wire.EventToolStart, toolStart.Type)
	require.Len(t, toolStart.ToolStart.ToolCalls, 1)

	complete := <-out
	require.Equal(t, wire.EventMessageComplete, complete.Type)
	require.Equal(t, "answer text\n\n[Simulated Tool Calls Removed]", complete.MessageComplete.Content)
}

func TestEmitFinalNativeToolCallSkipsParse(t *testing.T) {
	out := make(chan wire.Event, 1)
	EmitFinal(out, "msg1", "TOOL_CALLS: [{\"name\":\"k\",\"arguments\":\"{}\"}] literally discussed, not executed", true)

	complete := <-out
	require.Equal(t, wire.EventMessageComplete, complete.Type)
	require.Equal(t, "TOOL_CALLS: [{\"name\":\"k\",\"arguments\":\"{}\"}] literally discussed, not executed", complete.MessageComplete.Content)
}

func TestClassifyErrors(t *testing.T) {
	require.Equal(t, ErrRateLimit, Classify(errString("429 too many requests")))
	require.Equal(t, ErrAuth, Classify(errString("401 unauthorized")))
	require.True(t, Retryable(errString("503 server error")))
	require.False(t, Retryable(errString("400 invalid request")))
	require.True(t, ShouldFallback(errString("quota exceeded billing")))
}

type errString string

func (e errString) Error() string { return string(e) }
