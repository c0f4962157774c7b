package models

import "time"

// SessionMode controls whether the engine replies automatically.
type SessionMode string

const (
	// SessionAuto lets the engine process incoming messages and reply.
	SessionAuto SessionMode = "auto"

	// SessionManual disables automatic processing; a human drives the session.
	SessionManual SessionMode = "manual"
)

// AgentState is a snapshot appended after each completed processing cycle.
//
// AppliedGuidelineIDs accumulates the guidelines whose actions response
// analysis judged fulfilled. JourneyPaths records, per journey, the sequence
// of journey-node guideline ids selected across turns (empty string where no
// node matched that turn).
type AgentState struct {
	CorrelationID       string              `json:"correlation_id"`
	AppliedGuidelineIDs []string            `json:"applied_guideline_ids"`
	JourneyPaths        map[string][]string `json:"journey_paths,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
}

// Session is an ordered conversation between a customer and an agent.
type Session struct {
	ID         string      `json:"id"`
	TenantID   string      `json:"tenant_id,omitempty"`
	AgentID    string      `json:"agent_id"`
	CustomerID string      `json:"customer_id"`
	Title      string      `json:"title,omitempty"`
	Mode       SessionMode `json:"mode"`

	// AgentStates grows by one per successful processing cycle; the last
	// element reflects the state before the cycle currently running.
	AgentStates []AgentState `json:"agent_states,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// LatestAgentState returns the most recent snapshot, or a zero state when the
// session has not completed a cycle yet.
func (s *Session) LatestAgentState() AgentState {
	if len(s.AgentStates) == 0 {
		return AgentState{}
	}
	return s.AgentStates[len(s.AgentStates)-1]
}

// AppliedGuidelineSet returns the applied guideline ids of the latest state
// as a set for membership tests.
func (s *Session) AppliedGuidelineSet() map[string]bool {
	state := s.LatestAgentState()
	set := make(map[string]bool, len(state.AppliedGuidelineIDs))
	for _, id := range state.AppliedGuidelineIDs {
		set[id] = true
	}
	return set
}
