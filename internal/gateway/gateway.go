// Package gateway exposes the HTTP API: asynchronous chat dispatch, event
// long-polling, and Prometheus metrics.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/parley/internal/dispatch"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/store"
	"github.com/haasonsaas/parley/pkg/models"
)

// EventWaiter is the optional long-poll fast path a session store may
// offer. Stores without it are polled.
type EventWaiter interface {
	WaitForEvents(ctx context.Context, sessionID string, minOffset int, filter store.EventFilter, timeout time.Duration) ([]models.Event, error)
}

// Config tunes the gateway.
type Config struct {
	// LongPollTimeout caps the wait_for_data window.
	LongPollTimeout time.Duration
}

// Server is the HTTP gateway.
type Server struct {
	sessions    store.SessionStore
	agents      store.AgentStore
	customers   store.CustomerStore
	inspections store.InspectionStore
	dispatcher  *dispatch.Service
	logger      *slog.Logger
	cfg         Config
}

// NewServer creates the gateway over the given collaborators.
func NewServer(sessions store.SessionStore, agents store.AgentStore, customers store.CustomerStore, inspections store.InspectionStore, dispatcher *dispatch.Service, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	if cfg.LongPollTimeout == 0 {
		cfg.LongPollTimeout = 60 * time.Second
	}
	return &Server{
		sessions:    sessions,
		agents:      agents,
		customers:   customers,
		inspections: inspections,
		dispatcher:  dispatcher,
		logger:      logger,
		cfg:         cfg,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions/chat_async", s.handleChatAsync)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleListEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// waitForEvents long-polls the store, falling back to periodic listing when
// the store has no native wait.
func (s *Server) waitForEvents(ctx context.Context, sessionID string, minOffset int, filter store.EventFilter, timeout time.Duration) ([]models.Event, error) {
	if waiter, ok := s.sessions.(EventWaiter); ok {
		return waiter.WaitForEvents(ctx, sessionID, minOffset, filter, timeout)
	}

	deadline := time.Now().Add(timeout)
	for {
		events, err := s.sessions.ListEventsSince(ctx, sessionID, minOffset, filter)
		if err != nil {
			return nil, err
		}
		if len(events) > 0 || time.Now().After(deadline) {
			return events, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
