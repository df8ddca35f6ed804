package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMagiMessageRoundTrip(t *testing.T) {
	msg := MagiMessage{
		ProcessID: "proc-1",
		Event: Event{
			Type: EventMessageDelta,
			Agent: &AgentRef{ID: "a1", Name: "planner", Model: "claude-3"},
			MessageDelta: &MessageDeltaPayload{
				Content:   "hel",
				MessageID: "m1",
				Order:     0,
			},
		},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded MagiMessage
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Equal(t, "proc-1", decoded.ProcessID)
	require.Equal(t, EventMessageDelta, decoded.Event.Type)
	require.NotNil(t, decoded.Event.MessageDelta)
	require.Equal(t, "hel", decoded.Event.MessageDelta.Content)
	require.Equal(t, 0, decoded.Event.MessageDelta.Order)
	require.Equal(t, "a1", decoded.Event.Agent.ID)
}

func TestEventUnknownTypePreservesRaw(t *testing.T) {
	raw := []byte(`{"type":"screenshot","url":"sandbox:/magi_output/shot.png"}`)

	var e Event
	require.NoError(t, json.Unmarshal(raw, &e))
	require.Equal(t, EventScreenshot, e.Type)
	require.Contains(t, string(e.Raw), "shot.png")

	out, err := json.Marshal(e)
	require.NoError(t, err)
	require.Contains(t, string(out), "shot.png")
}

func TestCommandStartPayload(t *testing.T) {
	raw := []byte(`{"type":"command_start","targetProcessId":"core-1","command":"stop"}`)
	var e Event
	require.NoError(t, json.Unmarshal(raw, &e))
	require.NotNil(t, e.CommandStart)
	require.Equal(t, "core-1", e.CommandStart.TargetProcessID)
	require.Equal(t, "stop", e.CommandStart.Command)
}

func TestMismatchedProcessIDDetectable(t *testing.T) {
	msg := MagiMessage{ProcessID: "a"}
	require.NotEqual(t, "b", msg.ProcessID)
}
