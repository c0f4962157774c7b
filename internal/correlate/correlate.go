// Package correlate carries hierarchical correlation scopes through
// context.Context.
//
// Each external request establishes a root scope such as "R4f2a". Nested
// operations push "::<label>" segments, so an event emitted deep inside tool
// execution records a value like "R4f2a::process::tool_caller". Scopes live
// in the context, never in global state, so concurrent cycles cannot observe
// each other's ids.
package correlate

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type contextKey struct{}

// ScopeSeparator joins nested scope labels.
const ScopeSeparator = "::"

// NewRootID returns a fresh root correlation id ("R" + short uuid).
func NewRootID() string {
	return "R" + uuid.NewString()[:8]
}

// WithRoot returns a context carrying the given root correlation id,
// replacing any existing scope.
func WithRoot(ctx context.Context, rootID string) context.Context {
	return context.WithValue(ctx, contextKey{}, rootID)
}

// WithScope returns a context whose correlation id descends from the parent
// scope by appending "::<label>". If the context has no scope yet, a new
// root is created first.
func WithScope(ctx context.Context, label string) context.Context {
	parent := FromContext(ctx)
	if parent == "" {
		parent = NewRootID()
	}
	return context.WithValue(ctx, contextKey{}, parent+ScopeSeparator+label)
}

// FromContext returns the active correlation id, or "" when none is set.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}

// Root returns the root segment of a correlation id.
func Root(correlationID string) string {
	root, _, _ := strings.Cut(correlationID, ScopeSeparator)
	return root
}

// DescendsFrom reports whether child is scope-equal to parent or descends
// from it by one or more "::<label>" pushes.
func DescendsFrom(child, parent string) bool {
	if parent == "" {
		return false
	}
	return child == parent || strings.HasPrefix(child, parent+ScopeSeparator)
}
