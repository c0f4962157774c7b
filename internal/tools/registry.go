// Package tools manages tool definitions and their executable handlers.
//
// Tools are registered under (service, tool) ids. The tool caller resolves
// definitions for inference and handlers for execution; nothing else in the
// engine touches handlers directly.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/parley/pkg/models"
)

// Handler executes one tool call. Returned errors mark transient failures
// the caller may retry; business-level failures belong in ToolResult.Error.
type Handler func(ctx context.Context, args map[string]any) (models.ToolResult, error)

type registered struct {
	tool    models.Tool
	handler Handler
}

// Registry manages available tools with thread-safe registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[models.ToolID]registered
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[models.ToolID]registered)}
}

// Register adds a tool and its handler. An existing registration for the
// same id is replaced.
func (r *Registry) Register(tool models.Tool, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.ID] = registered{tool: tool, handler: handler}
}

// Resolve returns the definition for a tool id.
func (r *Registry) Resolve(id models.ToolID) (models.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[id]
	return reg.tool, ok
}

// Execute runs the handler registered for the id.
func (r *Registry) Execute(ctx context.Context, id models.ToolID, args map[string]any) (models.ToolResult, error) {
	r.mu.RLock()
	reg, ok := r.tools[id]
	r.mu.RUnlock()
	if !ok {
		return models.ToolResult{}, fmt.Errorf("tool %s is not registered", id)
	}
	return reg.handler(ctx, args)
}

// List returns all registered tool definitions.
func (r *Registry) List() []models.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Tool, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.tool)
	}
	return out
}
