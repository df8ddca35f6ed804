package wire

import "encoding/json"

// MarshalJSON flattens the active payload's fields alongside "type" and
// "agent", matching the wire shape in the external-interfaces table: a
// single flat object per event, not a nested payload.
func (e Event) MarshalJSON() ([]byte, error) {
	merged := map[string]json.RawMessage{}

	payload := e.activePayload()
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, err
		}
		for k, v := range fields {
			merged[k] = v
		}
	} else if len(e.Raw) > 0 {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(e.Raw, &fields); err == nil {
			for k, v := range fields {
				merged[k] = v
			}
		}
	}

	typeBytes, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	merged["type"] = typeBytes

	if e.Agent != nil {
		agentBytes, err := json.Marshal(e.Agent)
		if err != nil {
			return nil, err
		}
		merged["agent"] = agentBytes
	}

	return json.Marshal(merged)
}

func (e Event) activePayload() any {
	switch {
	case e.MessageDelta != nil:
		return e.MessageDelta
	case e.MessageComplete != nil:
		return e.MessageComplete
	case e.ToolStart != nil:
		return e.ToolStart
	case e.ToolDone != nil:
		return e.ToolDone
	case e.CostUpdate != nil:
		return e.CostUpdate
	case e.ProcessStart != nil:
		return e.ProcessStart
	case e.ProjectRef != nil:
		return e.ProjectRef
	case e.CommandStart != nil:
		return e.CommandStart
	case e.GitPullRequest != nil:
		return e.GitPullRequest
	case e.SystemStatus != nil:
		return e.SystemStatus
	case e.Error != nil:
		return e.Error
	default:
		return nil
	}
}

// UnmarshalJSON dispatches on "type" and decodes the remaining fields into
// the matching payload struct. Unrecognized types are kept verbatim in Raw
// so the Event Router can still forward them (spec §4.9: "Unknown event
// type ... fan-out to UI as-is, log").
func (e *Event) UnmarshalJSON(data []byte) error {
	var head struct {
		Type  EventType `json:"type"`
		Agent *AgentRef `json:"agent,omitempty"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	e.Type = head.Type
	e.Agent = head.Agent

	decodeInto := func(target any) error {
		return json.Unmarshal(data, target)
	}

	switch e.Type {
	case EventMessageDelta:
		e.MessageDelta = &MessageDeltaPayload{}
		return decodeInto(e.MessageDelta)
	case EventMessageComplete:
		e.MessageComplete = &MessageCompletePayload{}
		return decodeInto(e.MessageComplete)
	case EventToolStart:
		e.ToolStart = &ToolStartPayload{}
		return decodeInto(e.ToolStart)
	case EventToolDone:
		e.ToolDone = &ToolDonePayload{}
		return decodeInto(e.ToolDone)
	case EventCostUpdate:
		e.CostUpdate = &CostUpdatePayload{}
		return decodeInto(e.CostUpdate)
	case EventProcessStart:
		e.ProcessStart = &ProcessStartPayload{}
		return decodeInto(e.ProcessStart)
	case EventProjectCreate, EventProjectDelete:
		e.ProjectRef = &ProjectRefPayload{}
		return decodeInto(e.ProjectRef)
	case EventCommandStart:
		e.CommandStart = &CommandStartPayload{}
		return decodeInto(e.CommandStart)
	case EventGitPullRequest:
		e.GitPullRequest = &GitPullRequestPayload{}
		return decodeInto(e.GitPullRequest)
	case EventSystemStatus:
		e.SystemStatus = &SystemStatusPayload{}
		return decodeInto(e.SystemStatus)
	case EventError:
		e.Error = &ErrorPayload{}
		return decodeInto(e.Error)
	default:
		e.Raw = append(json.RawMessage{}, data...)
		return nil
	}
}
