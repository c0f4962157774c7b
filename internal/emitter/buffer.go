package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/parley/pkg/models"
)

// Buffer accumulates emissions in memory. Events are assigned provisional
// ids and no offsets; real offsets are assigned when the owner flushes the
// buffer into a Publisher.
type Buffer struct {
	mu      sync.Mutex
	pending []pendingEvent
}

type pendingEvent struct {
	kind          models.EventKind
	correlationID string
	data          json.RawMessage
	event         models.Event
}

// NewBuffer creates an empty buffering emitter.
func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) emit(kind models.EventKind, correlationID string, payload any) (models.Event, error) {
	raw, err := models.EncodeEventData(payload)
	if err != nil {
		return models.Event{}, fmt.Errorf("encode %s event: %w", kind, err)
	}

	event := models.Event{
		ID:            uuid.NewString(),
		Offset:        -1,
		Kind:          kind,
		CorrelationID: correlationID,
		Data:          raw,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, pendingEvent{
		kind:          kind,
		correlationID: correlationID,
		data:          raw,
		event:         event,
	})
	return event, nil
}

// EmitMessage implements EventEmitter.
func (b *Buffer) EmitMessage(ctx context.Context, correlationID string, data models.MessageEventData) (models.Event, error) {
	return b.emit(models.EventMessage, correlationID, data)
}

// EmitTool implements EventEmitter.
func (b *Buffer) EmitTool(ctx context.Context, correlationID string, data models.ToolEventData) (models.Event, error) {
	return b.emit(models.EventTool, correlationID, data)
}

// EmitStatus implements EventEmitter.
func (b *Buffer) EmitStatus(ctx context.Context, correlationID string, data models.StatusEventData) (models.Event, error) {
	return b.emit(models.EventStatus, correlationID, data)
}

// EmitCustom implements EventEmitter.
func (b *Buffer) EmitCustom(ctx context.Context, correlationID string, data json.RawMessage) (models.Event, error) {
	return b.emit(models.EventCustom, correlationID, data)
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Events returns copies of the buffered events in emission order.
func (b *Buffer) Events() []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Event, len(b.pending))
	for i, p := range b.pending {
		out[i] = p.event
	}
	return out
}

// Flush re-emits every buffered event through the target emitter in order
// and clears the buffer. On error the unflushed remainder stays buffered.
func (b *Buffer) Flush(ctx context.Context, target EventEmitter) ([]models.Event, error) {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	var flushed []models.Event
	for i, p := range pending {
		var (
			event models.Event
			err   error
		)
		switch p.kind {
		case models.EventMessage:
			data, derr := decode[models.MessageEventData](p.data)
			if derr != nil {
				err = derr
			} else {
				event, err = target.EmitMessage(ctx, p.correlationID, data)
			}
		case models.EventTool:
			data, derr := decode[models.ToolEventData](p.data)
			if derr != nil {
				err = derr
			} else {
				event, err = target.EmitTool(ctx, p.correlationID, data)
			}
		case models.EventStatus:
			data, derr := decode[models.StatusEventData](p.data)
			if derr != nil {
				err = derr
			} else {
				event, err = target.EmitStatus(ctx, p.correlationID, data)
			}
		default:
			event, err = target.EmitCustom(ctx, p.correlationID, p.data)
		}
		if err != nil {
			b.mu.Lock()
			b.pending = append(pending[i:], b.pending...)
			b.mu.Unlock()
			return flushed, fmt.Errorf("flush buffered %s event: %w", p.kind, err)
		}
		flushed = append(flushed, event)
	}
	return flushed, nil
}

// Discard drops all buffered events.
func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
}

func decode[T any](raw json.RawMessage) (T, error) {
	var out T
	err := json.Unmarshal(raw, &out)
	return out, err
}
