package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/parley/pkg/models"
)

// MemorySessionStore provides an in-memory SessionStore for testing and
// local runs. Appends are serialized under one lock, which yields the
// gap-free monotonic offsets the engine relies on.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	events   map[string][]models.Event

	// changed is closed and replaced on every append so long-poll readers
	// can wait for new events without spinning.
	changed chan struct{}
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: map[string]*models.Session{},
		events:   map[string][]models.Event{},
		changed:  make(chan struct{}),
	}
}

// CreateSession stores a new session, assigning an id when absent.
func (m *MemorySessionStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *session
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	if clone.Mode == "" {
		clone.Mode = models.SessionAuto
	}
	session.ID = clone.ID
	session.CreatedAt = clone.CreatedAt
	session.Mode = clone.Mode
	m.sessions[clone.ID] = &clone
	return nil
}

// ReadSession returns a copy of the stored session.
func (m *MemorySessionStore) ReadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	clone := *session
	clone.AgentStates = append([]models.AgentState(nil), session.AgentStates...)
	return &clone, nil
}

// UpdateSessionMode switches a session between auto and manual processing.
func (m *MemorySessionStore) UpdateSessionMode(ctx context.Context, sessionID string, mode models.SessionMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	session.Mode = mode
	return nil
}

// AppendAgentState records the snapshot of a completed processing cycle.
func (m *MemorySessionStore) AppendAgentState(ctx context.Context, sessionID string, state models.AgentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now()
	}
	session.AgentStates = append(session.AgentStates, state)
	return nil
}

// CreateEvent appends an event with the next offset for the session.
func (m *MemorySessionStore) CreateEvent(ctx context.Context, sessionID string, kind models.EventKind, source models.EventSource, correlationID string, data json.RawMessage) (models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return models.Event{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	event := models.Event{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Offset:        len(m.events[sessionID]),
		Kind:          kind,
		Source:        source,
		CorrelationID: correlationID,
		Data:          append(json.RawMessage(nil), data...),
		CreatedAt:     time.Now(),
	}
	m.events[sessionID] = append(m.events[sessionID], event)

	close(m.changed)
	m.changed = make(chan struct{})

	return event, nil
}

// ListEventsSince returns events with offset >= minOffset passing the filter.
func (m *MemorySessionStore) ListEventsSince(ctx context.Context, sessionID string, minOffset int, filter EventFilter) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Event
	for _, e := range m.events[sessionID] {
		if e.Offset < minOffset {
			continue
		}
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// WaitForEvents blocks until at least one event matching the filter exists
// at or past minOffset, the timeout elapses, or the context is cancelled.
// It returns whatever matched (possibly nothing on timeout).
func (m *MemorySessionStore) WaitForEvents(ctx context.Context, sessionID string, minOffset int, filter EventFilter, timeout time.Duration) ([]models.Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.RLock()
		changed := m.changed
		m.mu.RUnlock()

		events, err := m.ListEventsSince(ctx, sessionID, minOffset, filter)
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			return events, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-changed:
			timer.Stop()
		}
	}
}
