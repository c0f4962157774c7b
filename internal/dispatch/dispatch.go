// Package dispatch runs processing cycles as per-session background tasks.
//
// Each session has at most one live task. Dispatching while a task is
// running cancels and replaces it: the newest customer message always wins,
// and a half-finished cycle for a stale view of the conversation is
// abandoned at its next cancellation point.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/parley/internal/correlate"
	"github.com/haasonsaas/parley/internal/emitter"
	"github.com/haasonsaas/parley/internal/engine"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/store"
	"github.com/haasonsaas/parley/pkg/models"
)

type task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Service owns the background tasks of all sessions.
type Service struct {
	engine   *engine.Engine
	sessions store.SessionStore
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu    sync.Mutex
	tasks map[string]*task

	closed bool
}

// NewService creates a dispatch service.
func NewService(eng *engine.Engine, sessions store.SessionStore, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	return &Service{
		engine:   eng,
		sessions: sessions,
		logger:   logger,
		metrics:  metrics,
		tasks:    map[string]*task{},
	}
}

// Dispatch schedules a processing cycle for a session, cancelling and
// replacing any cycle already running for it. The returned correlation id
// identifies the new cycle's events.
func (s *Service) Dispatch(ctx context.Context, sessionID, agentID string) (string, error) {
	root := correlate.NewRootID()

	taskCtx := correlate.WithRoot(context.WithoutCancel(ctx), root)
	taskCtx, cancel := context.WithCancel(taskCtx)

	t := &task{
		name:   fmt.Sprintf("process-session(%s)", sessionID),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return "", fmt.Errorf("dispatch service is shut down")
	}
	prior := s.tasks[sessionID]
	s.tasks[sessionID] = t
	s.mu.Unlock()

	if prior != nil {
		prior.cancel()
		<-prior.done
	}

	go func() {
		defer close(t.done)
		defer cancel()
		defer func() {
			s.mu.Lock()
			if s.tasks[sessionID] == t {
				delete(s.tasks, sessionID)
			}
			s.mu.Unlock()
		}()

		em := emitter.NewPublisher(s.sessions, sessionID, models.SourceAIAgent).WithMetrics(s.metrics)
		completed, err := s.engine.Process(taskCtx, sessionID, agentID, em)
		switch {
		case err != nil:
			s.logger.Error("processing task failed",
				"task", t.name, "error", err)
		case !completed:
			s.logger.Debug("processing task cancelled", "task", t.name)
		default:
			s.logger.Debug("processing task completed", "task", t.name)
		}
	}()

	return root + correlate.ScopeSeparator + "process", nil
}

// Cancel stops the session's running task, if any, and waits for it.
func (s *Service) Cancel(sessionID string) {
	s.mu.Lock()
	t := s.tasks[sessionID]
	s.mu.Unlock()
	if t != nil {
		t.cancel()
		<-t.done
	}
}

// Active reports whether the session currently has a live task.
func (s *Service) Active(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[sessionID]
	return ok
}

// Shutdown cancels every task, waits for them, and then waits for detached
// engine post-processing.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.closed = true
	pending := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		pending = append(pending, t)
	}
	s.mu.Unlock()

	for _, t := range pending {
		t.cancel()
		<-t.done
	}
	s.engine.Wait()
}
