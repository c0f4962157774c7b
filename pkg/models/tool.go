package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolID identifies a tool within a service: "<service>:<tool>".
type ToolID struct {
	ServiceName string `json:"service_name"`
	ToolName    string `json:"tool_name"`
}

// String renders the canonical "<service>:<tool>" form.
func (t ToolID) String() string {
	return t.ServiceName + ":" + t.ToolName
}

// ParseToolID parses the "<service>:<tool>" form.
func ParseToolID(s string) (ToolID, error) {
	service, tool, ok := strings.Cut(s, ":")
	if !ok || service == "" || tool == "" {
		return ToolID{}, fmt.Errorf("malformed tool id %q", s)
	}
	return ToolID{ServiceName: service, ToolName: tool}, nil
}

// ToolParameter describes one parameter of a tool.
type ToolParameter struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	// Examples of acceptable sources: "customer message", "context variable".
	AcceptableSource string `json:"acceptable_source,omitempty"`
}

// Tool is a callable definition with required and optional parameters.
type Tool struct {
	ID          ToolID          `json:"id"`
	Description string          `json:"description"`
	Required    []ToolParameter `json:"required,omitempty"`
	Optional    []ToolParameter `json:"optional,omitempty"`
}

// IsRequired reports whether the named parameter is required.
func (t *Tool) IsRequired(name string) bool {
	for _, p := range t.Required {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Parameters returns required then optional parameters.
func (t *Tool) Parameters() []ToolParameter {
	out := make([]ToolParameter, 0, len(t.Required)+len(t.Optional))
	out = append(out, t.Required...)
	out = append(out, t.Optional...)
	return out
}

// ToolCall is an intended invocation of a tool with evaluated arguments.
type ToolCall struct {
	ToolID    ToolID         `json:"tool_id"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of a tool execution.
//
// CannedResponseFields feeds template substitution in canned composition;
// CannedResponses supplies whole fallback responses contributed by the tool.
type ToolResult struct {
	Data                json.RawMessage `json:"data"`
	CannedResponseFields map[string]any `json:"canned_response_fields,omitempty"`
	CannedResponses     []string        `json:"canned_responses,omitempty"`
	Error               string          `json:"error,omitempty"`
}

// ArgumentState classifies an evaluated tool argument.
type ArgumentState string

const (
	ArgumentValid   ArgumentState = "valid"
	ArgumentInvalid ArgumentState = "invalid"
	ArgumentMissing ArgumentState = "missing"
)

// ProblematicParameter records a parameter the engine could not fill this turn.
type ProblematicParameter struct {
	ToolID     ToolID        `json:"tool_id"`
	Parameter  string        `json:"parameter"`
	State      ArgumentState `json:"state"`
	Rationale  string        `json:"rationale,omitempty"`
	// Precedence orders competing insights; missing beats invalid for the
	// same parameter.
	Precedence int `json:"precedence"`
}

// ToolInsights is the engine's record of parameters needed but unavailable.
type ToolInsights struct {
	MissingData []ProblematicParameter `json:"missing_data,omitempty"`
	InvalidData []ProblematicParameter `json:"invalid_data,omitempty"`
}

// Empty reports whether there are no recorded insights.
func (i ToolInsights) Empty() bool {
	return len(i.MissingData) == 0 && len(i.InvalidData) == 0
}
