// Package emitter publishes session events on behalf of the engine.
//
// Two implementations exist: Publisher writes through to the session store
// and returns the persisted event, while Buffer accumulates events in memory
// until its owner flushes them. Buffers let nested sub-engines stage
// emissions that the parent either commits or discards.
//
// Emissions from a single correlation scope are delivered in program order;
// ordering across scopes is only established by the store's monotonic
// offsets.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/store"
	"github.com/haasonsaas/parley/pkg/models"
)

// EventEmitter is the engine's write side of the session log.
type EventEmitter interface {
	EmitMessage(ctx context.Context, correlationID string, data models.MessageEventData) (models.Event, error)
	EmitTool(ctx context.Context, correlationID string, data models.ToolEventData) (models.Event, error)
	EmitStatus(ctx context.Context, correlationID string, data models.StatusEventData) (models.Event, error)
	EmitCustom(ctx context.Context, correlationID string, data json.RawMessage) (models.Event, error)
}

// Publisher writes events through to the session store.
type Publisher struct {
	store     store.SessionStore
	sessionID string
	source    models.EventSource
	metrics   *observability.Metrics

	// mu serializes emissions so program order within one correlation
	// scope maps to offset order in the store.
	mu sync.Mutex
}

// NewPublisher creates a store-backed emitter for one session. Events are
// attributed to the given source, normally SourceAIAgent.
func NewPublisher(s store.SessionStore, sessionID string, source models.EventSource) *Publisher {
	return &Publisher{store: s, sessionID: sessionID, source: source}
}

// WithMetrics counts persisted events by kind on the given metrics set.
func (p *Publisher) WithMetrics(m *observability.Metrics) *Publisher {
	p.metrics = m
	return p
}

// SessionID returns the session this publisher writes to.
func (p *Publisher) SessionID() string {
	return p.sessionID
}

func (p *Publisher) emit(ctx context.Context, kind models.EventKind, correlationID string, payload any) (models.Event, error) {
	raw, err := models.EncodeEventData(payload)
	if err != nil {
		return models.Event{}, fmt.Errorf("encode %s event: %w", kind, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	event, err := p.store.CreateEvent(ctx, p.sessionID, kind, p.source, correlationID, raw)
	if err != nil {
		return models.Event{}, fmt.Errorf("emit %s event: %w", kind, err)
	}
	if p.metrics != nil {
		p.metrics.EventsEmitted.WithLabelValues(string(kind)).Inc()
	}
	return event, nil
}

// EmitMessage implements EventEmitter.
func (p *Publisher) EmitMessage(ctx context.Context, correlationID string, data models.MessageEventData) (models.Event, error) {
	return p.emit(ctx, models.EventMessage, correlationID, data)
}

// EmitTool implements EventEmitter.
func (p *Publisher) EmitTool(ctx context.Context, correlationID string, data models.ToolEventData) (models.Event, error) {
	return p.emit(ctx, models.EventTool, correlationID, data)
}

// EmitStatus implements EventEmitter.
func (p *Publisher) EmitStatus(ctx context.Context, correlationID string, data models.StatusEventData) (models.Event, error) {
	return p.emit(ctx, models.EventStatus, correlationID, data)
}

// EmitCustom implements EventEmitter.
func (p *Publisher) EmitCustom(ctx context.Context, correlationID string, data json.RawMessage) (models.Event, error) {
	return p.emit(ctx, models.EventCustom, correlationID, data)
}
