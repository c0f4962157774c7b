package models

import "time"

// ContextVariable is a named per-customer value visible to the engine,
// e.g. plan tier or account balance.
type ContextVariable struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Value       any       `json:"value"`
	CreatedAt   time.Time `json:"created_at"`
}

// Term is a glossary entry the agent should understand and use consistently.
type Term struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Synonyms    []string `json:"synonyms,omitempty"`
}

// Capability describes something the agent can offer to do for the customer.
type Capability struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Queries     []string `json:"queries,omitempty"`
}

// GenerationInfo reports usage for one LLM call.
type GenerationInfo struct {
	SchemaName   string        `json:"schema_name"`
	Model        string        `json:"model,omitempty"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
}

// Tokens returns the combined token count of the call.
func (g GenerationInfo) Tokens() int {
	return g.InputTokens + g.OutputTokens
}
