package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/haasonsaas/parley/pkg/models"
)

// SQLiteSessionStore persists sessions and events in SQLite. Offsets are
// assigned inside a transaction with an exclusive read of the current
// maximum, so they stay gap-free even under concurrent appenders.
type SQLiteSessionStore struct {
	db *sql.DB
}

// SQLiteConfig configures the SQLite session store.
type SQLiteConfig struct {
	// Path to the database file. Defaults to ":memory:".
	Path string
}

// NewSQLiteSessionStore opens (or creates) the database and ensures schema.
func NewSQLiteSessionStore(cfg SQLiteConfig) (*SQLiteSessionStore, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite requires single-writer semantics; serialize at the pool level.
	db.SetMaxOpenConns(1)

	s := &SQLiteSessionStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSessionStore) init() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			title TEXT,
			mode TEXT NOT NULL,
			agent_states TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			"offset" INTEGER NOT NULL,
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, "offset")
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, "offset")`,
		`CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteSessionStore) Close() error {
	return s.db.Close()
}

// CreateSession implements SessionStore.
func (s *SQLiteSessionStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	if session.Mode == "" {
		session.Mode = models.SessionAuto
	}

	states, err := json.Marshal(session.AgentStates)
	if err != nil {
		return fmt.Errorf("marshal agent states: %w", err)
	}
	if session.AgentStates == nil {
		states = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, tenant_id, agent_id, customer_id, title, mode, agent_states, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.TenantID, session.AgentID, session.CustomerID, session.Title,
		string(session.Mode), string(states), session.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ReadSession implements SessionStore.
func (s *SQLiteSessionStore) ReadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, agent_id, customer_id, title, mode, agent_states, created_at
		 FROM sessions WHERE id = ?`, sessionID)

	var session models.Session
	var mode, states string
	err := row.Scan(&session.ID, &session.TenantID, &session.AgentID, &session.CustomerID,
		&session.Title, &mode, &states, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	session.Mode = models.SessionMode(mode)
	if err := json.Unmarshal([]byte(states), &session.AgentStates); err != nil {
		return nil, fmt.Errorf("unmarshal agent states: %w", err)
	}
	return &session, nil
}

// UpdateSessionMode implements SessionStore.
func (s *SQLiteSessionStore) UpdateSessionMode(ctx context.Context, sessionID string, mode models.SessionMode) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET mode = ? WHERE id = ?`, string(mode), sessionID)
	if err != nil {
		return fmt.Errorf("update session mode: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// AppendAgentState implements SessionStore.
func (s *SQLiteSessionStore) AppendAgentState(ctx context.Context, sessionID string, state models.AgentState) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var states string
	err = tx.QueryRowContext(ctx,
		`SELECT agent_states FROM sessions WHERE id = ?`, sessionID).Scan(&states)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read agent states: %w", err)
	}

	var current []models.AgentState
	if err := json.Unmarshal([]byte(states), &current); err != nil {
		return fmt.Errorf("unmarshal agent states: %w", err)
	}
	current = append(current, state)
	updated, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("marshal agent states: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET agent_states = ? WHERE id = ?`, string(updated), sessionID); err != nil {
		return fmt.Errorf("update agent states: %w", err)
	}
	return tx.Commit()
}

// CreateEvent implements SessionStore, assigning the next offset
// transactionally.
func (s *SQLiteSessionStore) CreateEvent(ctx context.Context, sessionID string, kind models.EventKind, source models.EventSource, correlationID string, data json.RawMessage) (models.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Event{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return models.Event{}, fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return models.Event{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX("offset"), -1) + 1 FROM events WHERE session_id = ?`, sessionID).Scan(&next)
	if err != nil {
		return models.Event{}, fmt.Errorf("next offset: %w", err)
	}

	event := models.Event{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Offset:        next,
		Kind:          kind,
		Source:        source,
		CorrelationID: correlationID,
		Data:          append(json.RawMessage(nil), data...),
		CreatedAt:     time.Now(),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, session_id, "offset", kind, source, correlation_id, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.SessionID, event.Offset, string(event.Kind),
		string(event.Source), event.CorrelationID, string(event.Data), event.CreatedAt)
	if err != nil {
		return models.Event{}, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Event{}, fmt.Errorf("commit event: %w", err)
	}
	return event, nil
}

// ListEventsSince implements SessionStore.
func (s *SQLiteSessionStore) ListEventsSince(ctx context.Context, sessionID string, minOffset int, filter EventFilter) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, "offset", kind, source, correlation_id, data, created_at
		 FROM events WHERE session_id = ? AND "offset" >= ? ORDER BY "offset"`,
		sessionID, minOffset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var e models.Event
		var kind, source, data string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Offset, &kind, &source,
			&e.CorrelationID, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = models.EventKind(kind)
		e.Source = models.EventSource(source)
		e.Data = json.RawMessage(data)
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}
