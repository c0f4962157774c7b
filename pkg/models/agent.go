package models

import "time"

// CompositionMode selects how the agent's replies are composed.
type CompositionMode string

const (
	// CompositionFluid generates free text directly from the LLM.
	CompositionFluid CompositionMode = "fluid"

	// CompositionCannedStrict only ever emits pre-authored templates verbatim.
	CompositionCannedStrict CompositionMode = "canned_strict"

	// CompositionCannedComposited rewrites the draft in the style of the
	// best-matching template.
	CompositionCannedComposited CompositionMode = "canned_composited"

	// CompositionCannedFluid uses the best template when the match is strong
	// and falls back to the fluid draft otherwise.
	CompositionCannedFluid CompositionMode = "canned_fluid"
)

// UsesCannedResponses reports whether the mode consults the canned store.
func (m CompositionMode) UsesCannedResponses() bool {
	switch m {
	case CompositionCannedStrict, CompositionCannedComposited, CompositionCannedFluid:
		return true
	}
	return false
}

// DefaultMaxEngineIterations bounds the preparation loop when an agent does
// not configure its own limit.
const DefaultMaxEngineIterations = 3

// Agent is the identity of the replying party. Immutable within a cycle.
type Agent struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	CompositionMode     CompositionMode `json:"composition_mode"`
	MaxEngineIterations int             `json:"max_engine_iterations"`
	Tags                []string        `json:"tags,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// IterationLimit returns the configured iteration cap, defaulted when unset.
func (a *Agent) IterationLimit() int {
	if a.MaxEngineIterations <= 0 {
		return DefaultMaxEngineIterations
	}
	return a.MaxEngineIterations
}

// Customer is the party the agent is talking to.
type Customer struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
