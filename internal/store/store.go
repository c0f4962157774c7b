// Package store defines the persistence interfaces the engine consumes and
// provides in-memory and SQLite-backed implementations.
//
// The engine only ever sees these narrow interfaces; swapping the backing
// store never changes engine behavior. Events are append-only with gap-free
// monotonic offsets per session, which is the only cross-task serialization
// point in the system.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/haasonsaas/parley/internal/correlate"
	"github.com/haasonsaas/parley/pkg/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// EventFilter narrows event listings. Zero values match everything.
type EventFilter struct {
	Kinds   []models.EventKind
	Sources []models.EventSource

	// CorrelationID, when set, matches events whose correlation id equals
	// or descends from the given scope.
	CorrelationID string
}

// Matches reports whether the event passes the filter.
func (f EventFilter) Matches(e models.Event) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Sources) > 0 && !containsSource(f.Sources, e.Source) {
		return false
	}
	if f.CorrelationID != "" && !correlate.DescendsFrom(e.CorrelationID, f.CorrelationID) {
		return false
	}
	return true
}

func containsKind(kinds []models.EventKind, k models.EventKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func containsSource(sources []models.EventSource, s models.EventSource) bool {
	for _, source := range sources {
		if source == s {
			return true
		}
	}
	return false
}

// SessionStore persists sessions and their append-only event logs.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	ReadSession(ctx context.Context, sessionID string) (*models.Session, error)
	UpdateSessionMode(ctx context.Context, sessionID string, mode models.SessionMode) error
	AppendAgentState(ctx context.Context, sessionID string, state models.AgentState) error

	// CreateEvent appends an event, assigning the next offset.
	CreateEvent(ctx context.Context, sessionID string, kind models.EventKind, source models.EventSource, correlationID string, data json.RawMessage) (models.Event, error)

	// ListEventsSince returns events with offset >= minOffset passing the
	// filter, in offset order.
	ListEventsSince(ctx context.Context, sessionID string, minOffset int, filter EventFilter) ([]models.Event, error)
}

// AgentStore resolves agent definitions.
type AgentStore interface {
	ReadAgent(ctx context.Context, agentID string) (*models.Agent, error)
}

// CustomerStore resolves customer records.
type CustomerStore interface {
	ReadCustomer(ctx context.Context, customerID string) (*models.Customer, error)
}

// GuidelineStore lists enabled guidelines visible to an agent.
type GuidelineStore interface {
	ListGuidelines(ctx context.Context, tags []string) ([]*models.Guideline, error)
}

// JourneyStore resolves journeys and finds those relevant to a query.
type JourneyStore interface {
	ReadJourney(ctx context.Context, journeyID string) (*models.Journey, error)
	ListJourneys(ctx context.Context, tags []string) ([]*models.Journey, error)

	// FindRelevant ranks the available journeys against the query and
	// returns at most maxN of them.
	FindRelevant(ctx context.Context, query string, available []*models.Journey, maxN int) ([]*models.Journey, error)
}

// GuidelineToolAssociations maps guidelines to the tools they enable.
// Matching is by exact guideline id, never semantic.
type GuidelineToolAssociations interface {
	FindAll(ctx context.Context) (map[string][]models.ToolID, error)
}

// JourneyNodeToolAssociations maps journey nodes to their tools.
type JourneyNodeToolAssociations interface {
	FindForNode(ctx context.Context, nodeID string) ([]models.ToolID, error)
}

// CannedResponseStore retrieves canned response templates.
type CannedResponseStore interface {
	// FindForContext returns templates relevant to the agent, the active
	// journeys, and the matched guidelines.
	FindForContext(ctx context.Context, agent *models.Agent, journeys []*models.Journey, guidelines []*models.Guideline) ([]*models.CannedResponse, error)

	ListByTag(ctx context.Context, tag string) ([]*models.CannedResponse, error)
}

// ContextVariableStore reads per-customer context variables.
type ContextVariableStore interface {
	ReadVariables(ctx context.Context, agentID, customerID string) ([]*models.ContextVariable, error)
}

// GlossaryStore finds terms semantically relevant to a query.
type GlossaryStore interface {
	FindRelevant(ctx context.Context, query string, maxTerms int) ([]*models.Term, error)
}

// CapabilityStore lists what the agent can offer to do.
type CapabilityStore interface {
	FindCapabilities(ctx context.Context, agentID string) ([]*models.Capability, error)
}

// Inspection is a per-correlation record of what the engine did during one
// processing cycle, persisted for debugging and analytics.
type Inspection struct {
	SessionID     string          `json:"session_id"`
	CorrelationID string          `json:"correlation_id"`
	Iterations    json.RawMessage `json:"iterations"`
	Generations   json.RawMessage `json:"generations,omitempty"`
	TotalTokens   int             `json:"total_tokens"`
}

// InspectionStore persists processing-cycle inspection records.
type InspectionStore interface {
	SaveInspection(ctx context.Context, inspection Inspection) error
	ReadInspection(ctx context.Context, sessionID, correlationID string) (Inspection, error)
}
