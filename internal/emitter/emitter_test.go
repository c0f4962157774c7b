package emitter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/store"
	"github.com/haasonsaas/parley/pkg/models"
)

func newTestSession(t *testing.T, s *store.MemorySessionStore) string {
	t.Helper()
	session := &models.Session{ID: "s1", AgentID: "a1", CustomerID: "c1"}
	if err := s.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session.ID
}

func TestPublisherAssignsSequentialOffsets(t *testing.T) {
	ctx := context.Background()
	sessions := store.NewMemorySessionStore()
	sessionID := newTestSession(t, sessions)
	pub := NewPublisher(sessions, sessionID, models.SourceAIAgent)

	first, err := pub.EmitStatus(ctx, "Rabc::process", models.StatusEventData{Status: models.StatusAcknowledged})
	if err != nil {
		t.Fatalf("emit status: %v", err)
	}
	second, err := pub.EmitMessage(ctx, "Rabc::process", models.MessageEventData{Message: "hello"})
	if err != nil {
		t.Fatalf("emit message: %v", err)
	}

	if first.Offset != 0 || second.Offset != 1 {
		t.Errorf("offsets = %d, %d, want 0, 1", first.Offset, second.Offset)
	}
	if first.Source != models.SourceAIAgent {
		t.Errorf("source = %q, want %q", first.Source, models.SourceAIAgent)
	}
	if first.CorrelationID != "Rabc::process" {
		t.Errorf("correlation id = %q, want %q", first.CorrelationID, "Rabc::process")
	}
}

func TestPublisherCountsEmittedEvents(t *testing.T) {
	ctx := context.Background()
	sessions := store.NewMemorySessionStore()
	sessionID := newTestSession(t, sessions)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	pub := NewPublisher(sessions, sessionID, models.SourceAIAgent).WithMetrics(metrics)

	if _, err := pub.EmitStatus(ctx, "R1::process", models.StatusEventData{Status: models.StatusAcknowledged}); err != nil {
		t.Fatal(err)
	}
	if _, err := pub.EmitMessage(ctx, "R1::process", models.MessageEventData{Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	if _, err := pub.EmitMessage(ctx, "R1::process", models.MessageEventData{Message: "again"}); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(metrics.EventsEmitted.WithLabelValues(string(models.EventStatus))); got != 1 {
		t.Errorf("status events counted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.EventsEmitted.WithLabelValues(string(models.EventMessage))); got != 2 {
		t.Errorf("message events counted = %v, want 2", got)
	}
}

func TestPublisherUnknownSession(t *testing.T) {
	pub := NewPublisher(store.NewMemorySessionStore(), "missing", models.SourceAIAgent)
	if _, err := pub.EmitStatus(context.Background(), "R1", models.StatusEventData{Status: models.StatusReady}); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestBufferAccumulatesWithoutStore(t *testing.T) {
	ctx := context.Background()
	buf := NewBuffer()

	if _, err := buf.EmitMessage(ctx, "R1::sub", models.MessageEventData{Message: "draft"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if _, err := buf.EmitStatus(ctx, "R1::sub", models.StatusEventData{Status: models.StatusTyping}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if buf.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", buf.Len())
	}
	events := buf.Events()
	if events[0].Kind != models.EventMessage || events[1].Kind != models.EventStatus {
		t.Errorf("kinds = %q, %q, want message, status", events[0].Kind, events[1].Kind)
	}
	for _, e := range events {
		if e.Offset != -1 {
			t.Errorf("buffered event offset = %d, want -1 (provisional)", e.Offset)
		}
	}
}

func TestBufferFlushPreservesOrder(t *testing.T) {
	ctx := context.Background()
	sessions := store.NewMemorySessionStore()
	sessionID := newTestSession(t, sessions)
	pub := NewPublisher(sessions, sessionID, models.SourceAIAgent)

	buf := NewBuffer()
	if _, err := buf.EmitMessage(ctx, "R1", models.MessageEventData{Message: "one"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if _, err := buf.EmitTool(ctx, "R1", models.ToolEventData{ToolCalls: []models.ToolCallRecord{{ToolID: "local:ping"}}}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if _, err := buf.EmitCustom(ctx, "R1", json.RawMessage(`{"k":"v"}`)); err != nil {
		t.Fatalf("emit: %v", err)
	}

	flushed, err := buf.Flush(ctx, pub)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(flushed) != 3 {
		t.Fatalf("flushed %d events, want 3", len(flushed))
	}
	wantKinds := []models.EventKind{models.EventMessage, models.EventTool, models.EventCustom}
	for i, e := range flushed {
		if e.Kind != wantKinds[i] {
			t.Errorf("flushed[%d].Kind = %q, want %q", i, e.Kind, wantKinds[i])
		}
		if e.Offset != i {
			t.Errorf("flushed[%d].Offset = %d, want %d", i, e.Offset, i)
		}
	}
	if buf.Len() != 0 {
		t.Errorf("buffer not cleared after flush, Len() = %d", buf.Len())
	}
}

func TestBufferDiscard(t *testing.T) {
	buf := NewBuffer()
	if _, err := buf.EmitMessage(context.Background(), "R1", models.MessageEventData{Message: "dropped"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	buf.Discard()
	if buf.Len() != 0 {
		t.Errorf("Len() = %d after discard, want 0", buf.Len())
	}
}

func TestBufferFlushKeepsRemainderOnError(t *testing.T) {
	ctx := context.Background()
	buf := NewBuffer()
	for _, msg := range []string{"a", "b", "c"} {
		if _, err := buf.EmitMessage(ctx, "R1", models.MessageEventData{Message: msg}); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	target := &failingEmitter{failAfter: 1}
	flushed, err := buf.Flush(ctx, target)
	if err == nil {
		t.Fatal("expected flush error")
	}
	if len(flushed) != 1 {
		t.Errorf("flushed %d events before failure, want 1", len(flushed))
	}
	if buf.Len() != 2 {
		t.Errorf("remaining buffered = %d, want 2", buf.Len())
	}
}

type failingEmitter struct {
	failAfter int
	emitted   int
}

func (f *failingEmitter) emit() (models.Event, error) {
	if f.emitted >= f.failAfter {
		return models.Event{}, context.DeadlineExceeded
	}
	f.emitted++
	return models.Event{ID: "ok", CreatedAt: time.Now()}, nil
}

func (f *failingEmitter) EmitMessage(ctx context.Context, correlationID string, data models.MessageEventData) (models.Event, error) {
	return f.emit()
}

func (f *failingEmitter) EmitTool(ctx context.Context, correlationID string, data models.ToolEventData) (models.Event, error) {
	return f.emit()
}

func (f *failingEmitter) EmitStatus(ctx context.Context, correlationID string, data models.StatusEventData) (models.Event, error) {
	return f.emit()
}

func (f *failingEmitter) EmitCustom(ctx context.Context, correlationID string, data json.RawMessage) (models.Event, error) {
	return f.emit()
}
