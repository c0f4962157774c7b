package models

import (
	"encoding/json"
	"time"
)

// EventKind classifies an entry in the session log.
type EventKind string

const (
	// EventMessage is a conversational message from a participant.
	EventMessage EventKind = "message"

	// EventTool records one or more tool invocations and their results.
	EventTool EventKind = "tool"

	// EventStatus reports engine progress (acknowledged, typing, ready, ...).
	EventStatus EventKind = "status"

	// EventCustom carries application-defined data.
	EventCustom EventKind = "custom"
)

// EventSource identifies who produced an event.
type EventSource string

const (
	SourceCustomer   EventSource = "customer"
	SourceAIAgent    EventSource = "ai_agent"
	SourceHumanAgent EventSource = "human_agent"
	SourceSystem     EventSource = "system"
)

// Event is one element of a session's append-only log.
//
// Offsets are monotonic and gap-free per session; (SessionID, Offset) is
// unique. Data is the kind-specific payload (MessageEventData,
// StatusEventData, ToolEventData, or arbitrary JSON for custom events).
type Event struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	Offset        int             `json:"offset"`
	Kind          EventKind       `json:"kind"`
	Source        EventSource     `json:"source"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SessionStatus is the value carried by a status event.
type SessionStatus string

const (
	StatusAcknowledged SessionStatus = "acknowledged"
	StatusProcessing   SessionStatus = "processing"
	StatusTyping       SessionStatus = "typing"
	StatusReady        SessionStatus = "ready"
	StatusCancelled    SessionStatus = "cancelled"
	StatusError        SessionStatus = "error"
)

// StatusEventData is the payload of a status event.
type StatusEventData struct {
	Status SessionStatus   `json:"status"`
	Data   StatusEventInfo `json:"data"`
}

// StatusEventInfo carries optional detail for a status event.
type StatusEventInfo struct {
	// Stage labels a processing status, e.g. "Interpreting", "Fetching data".
	Stage string `json:"stage,omitempty"`

	// Exception is an opaque error summary attached to error statuses.
	Exception string `json:"exception,omitempty"`
}

// Participant identifies the author of a message event.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// MessageEventData is the payload of a message event.
type MessageEventData struct {
	Message     string      `json:"message"`
	Participant Participant `json:"participant"`

	// Draft is the pre-selection draft when canned composition was used.
	Draft string `json:"draft,omitempty"`

	// CannedResponses lists the canned response ids considered for this message.
	CannedResponses []string `json:"canned_responses,omitempty"`

	Tags []string `json:"tags,omitempty"`
}

// ToolEventData is the payload of a tool event.
type ToolEventData struct {
	ToolCalls []ToolCallRecord `json:"tool_calls"`
}

// ToolCallRecord is one invoked call inside a tool event.
type ToolCallRecord struct {
	ToolID    string         `json:"tool_id"`
	Arguments map[string]any `json:"arguments"`
	Result    ToolResult     `json:"result"`
}

// HasTag reports whether a message payload carries the given tag.
func (m MessageEventData) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TagPreamble marks a short bridging message emitted before real work starts.
const TagPreamble = "preamble"

// DecodeEventData unmarshals an event payload into the given type.
func DecodeEventData[T any](e Event) (T, error) {
	var out T
	err := json.Unmarshal(e.Data, &out)
	return out, err
}

// EncodeEventData marshals a payload for storage in an event.
func EncodeEventData(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
