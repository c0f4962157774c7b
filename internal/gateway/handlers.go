package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/parley/internal/correlate"
	"github.com/haasonsaas/parley/internal/store"
	"github.com/haasonsaas/parley/pkg/models"
)

type chatAsyncRequest struct {
	Message      string `json:"message"`
	SessionID    string `json:"session_id,omitempty"`
	TenantID     string `json:"tenant_id,omitempty"`
	ChatbotID    string `json:"chatbot_id"`
	CustomerID   string `json:"customer_id,omitempty"`
	SessionTitle string `json:"session_title,omitempty"`

	// Timeout is how many seconds the caller is willing to wait for the
	// reply before a 504.
	Timeout int `json:"timeout,omitempty"`
}

type chatAsyncResponse struct {
	SessionID     string `json:"session_id"`
	CorrelationID string `json:"correlation_id"`
	Message       string `json:"message"`
	TotalTokens   int    `json:"total_tokens"`
}

func (s *Server) handleChatAsync(w http.ResponseWriter, r *http.Request) {
	var req chatAsyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.ChatbotID) == "" || strings.TrimSpace(req.TenantID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "message, chatbot_id and tenant_id are required")
		return
	}

	ctx := r.Context()
	if _, err := s.agents.ReadAgent(ctx, req.ChatbotID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "unknown chatbot_id")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	session, err := s.sessions.ReadSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		session = &models.Session{
			ID:         sessionID,
			TenantID:   req.TenantID,
			AgentID:    req.ChatbotID,
			CustomerID: req.CustomerID,
			Title:      req.SessionTitle,
			Mode:       models.SessionAuto,
			CreatedAt:  time.Now().UTC(),
		}
		err = s.sessions.CreateSession(ctx, session)
	}
	if err != nil {
		s.logger.Error("session lookup failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}

	customer, err := s.customers.ReadCustomer(ctx, session.CustomerID)
	if err != nil {
		s.logger.Error("customer lookup failed", "customer_id", session.CustomerID, "error", err)
		writeError(w, http.StatusInternalServerError, "customer lookup failed")
		return
	}

	payload, err := models.EncodeEventData(models.MessageEventData{
		Message:     req.Message,
		Participant: models.Participant{ID: customer.ID, DisplayName: customer.Name},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode message")
		return
	}
	incoming, err := s.sessions.CreateEvent(ctx, sessionID, models.EventMessage, models.SourceCustomer, "", payload)
	if err != nil {
		s.logger.Error("customer event append failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "event append failed")
		return
	}

	correlationID, err := s.dispatcher.Dispatch(ctx, sessionID, session.AgentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	timeout := s.cfg.LongPollTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}

	reply, tokens, ok := s.awaitReply(r.Context(), sessionID, incoming.Offset+1, correlationID, timeout)
	if !ok {
		writeError(w, http.StatusGatewayTimeout, "reply not ready in time")
		return
	}
	writeJSON(w, http.StatusOK, chatAsyncResponse{
		SessionID:     sessionID,
		CorrelationID: correlationID,
		Message:       reply,
		TotalTokens:   tokens,
	})
}

// awaitReply watches the event log for the cycle's terminal emission and
// collects its message chunks.
func (s *Server) awaitReply(ctx context.Context, sessionID string, minOffset int, correlationID string, timeout time.Duration) (string, int, bool) {
	deadline := time.Now().Add(timeout)
	offset := minOffset
	var chunks []string

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", 0, false
		}
		events, err := s.waitForEvents(ctx, sessionID, offset, store.EventFilter{
			Sources: []models.EventSource{models.SourceAIAgent},
		}, remaining)
		if err != nil {
			return "", 0, false
		}

		for _, ev := range events {
			offset = ev.Offset + 1
			if !correlate.DescendsFrom(ev.CorrelationID, correlate.Root(correlationID)) {
				continue
			}
			switch ev.Kind {
			case models.EventMessage:
				data, err := models.DecodeEventData[models.MessageEventData](ev)
				if err == nil && !data.HasTag(models.TagPreamble) {
					chunks = append(chunks, data.Message)
				}
			case models.EventStatus:
				data, err := models.DecodeEventData[models.StatusEventData](ev)
				if err != nil {
					continue
				}
				switch data.Status {
				case models.StatusReady:
					return strings.Join(chunks, "\n\n"), s.totalTokens(ctx, sessionID, correlationID), true
				case models.StatusError, models.StatusCancelled:
					return "", 0, false
				}
			}
		}
	}
}

// totalTokens reads the cycle's inspection record. Post-processing is
// detached, so the record may not be there yet; a short grace poll covers
// the common case.
func (s *Server) totalTokens(ctx context.Context, sessionID, correlationID string) int {
	for attempt := 0; attempt < 5; attempt++ {
		inspection, err := s.inspections.ReadInspection(ctx, sessionID, correlationID)
		if err == nil {
			return inspection.TotalTokens
		}
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(100 * time.Millisecond):
		}
	}
	return 0
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if _, err := s.sessions.ReadSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}

	query := r.URL.Query()
	minOffset := 0
	if raw := query.Get("min_offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusUnprocessableEntity, "malformed min_offset")
			return
		}
		minOffset = n
	}

	filter := store.EventFilter{}
	if raw := query.Get("source"); raw != "" {
		filter.Sources = []models.EventSource{models.EventSource(raw)}
	}
	if raw := query.Get("kinds"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				filter.Kinds = append(filter.Kinds, models.EventKind(k))
			}
		}
	}
	if raw := query.Get("correlation_id"); raw != "" {
		filter.CorrelationID = raw
	}

	var events []models.Event
	var err error
	if raw := query.Get("wait_for_data"); raw != "" {
		seconds, convErr := strconv.Atoi(raw)
		if convErr != nil || seconds < 0 {
			writeError(w, http.StatusUnprocessableEntity, "malformed wait_for_data")
			return
		}
		wait := time.Duration(seconds) * time.Second
		if wait > s.cfg.LongPollTimeout {
			wait = s.cfg.LongPollTimeout
		}
		events, err = s.waitForEvents(r.Context(), sessionID, minOffset, filter, wait)
	} else {
		events, err = s.sessions.ListEventsSince(r.Context(), sessionID, minOffset, filter)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "event listing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
