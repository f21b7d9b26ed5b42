package events

import "time"

// JSONEvent is the wire format for events serialized over a pipe, the same
// role the teacher's JSONEvent plays for its container stdout protocol:
// a consumer process (here, the taskgraphctl dashboard) decodes a stream
// of these without linking against the emitting process's event types.
type JSONEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Pool      string                 `json:"pool,omitempty"`
	Node      string                 `json:"node,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// ToJSONEvent converts an internal Event to its wire format.
func ToJSONEvent(e Event) JSONEvent {
	je := JSONEvent{
		ID:        e.ID.String(),
		Type:      string(e.Type),
		Timestamp: e.Time,
		Pool:      e.Pool,
		Node:      e.Node,
		Error:     e.Error,
	}

	if e.Payload != nil {
		switch p := e.Payload.(type) {
		case map[string]interface{}:
			je.Payload = p
		default:
			je.Payload = map[string]interface{}{"value": e.Payload}
		}
	}

	return je
}

// ToEvent converts a wire format JSONEvent back to an internal Event. The
// ID is not round-tripped into a ulid.ULID: it is treated as an opaque
// display string on the consuming side (the dashboard never needs to
// re-derive a ULID's timestamp component).
func (je JSONEvent) ToEvent() Event {
	var payload any
	if je.Payload != nil {
		payload = je.Payload
	}

	return Event{
		Type:    EventType(je.Type),
		Time:    je.Timestamp,
		Pool:    je.Pool,
		Node:    je.Node,
		Payload: payload,
		Error:   je.Error,
	}
}
