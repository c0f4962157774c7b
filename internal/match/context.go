// Package match decides which guidelines apply to the current turn.
//
// Guidelines are grouped by matching strategy, split into batches, and each
// batch is evaluated with one LLM call. Batches run concurrently; results
// merge preserving input order. A second entry point, AnalyzeResponse, runs
// after the reply is emitted and decides which matched guidelines count as
// applied.
package match

import (
	"strings"
	"time"

	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/pkg/models"
)

// Context is the read-only working set the matcher evaluates against. It is
// a snapshot: concurrent batches never observe engine mutations.
type Context struct {
	Agent    *models.Agent
	Customer *models.Customer
	Session  *models.Session

	// Interaction is the full event history up to this turn.
	Interaction []models.Event

	Terms     []*models.Term
	Variables []*models.ContextVariable

	// StagedToolEvents are tool events emitted earlier in this cycle.
	StagedToolEvents []models.ToolEventData

	// Applied is the set of guideline ids already applied in prior cycles.
	Applied map[string]bool

	// JourneyPaths maps journey id to the node-guideline ids selected in
	// prior turns ("" where no node matched).
	JourneyPaths map[string][]string
}

// Query returns the text that retrieval and relevance ranking key off: the
// latest customer message.
func (c *Context) Query() string {
	return nlp.LastCustomerMessage(c.Interaction)
}

// Transcript renders the interaction for prompts.
func (c *Context) Transcript() string {
	return nlp.FormatTranscript(c.Interaction)
}

// CurrentPathTail returns the most recent non-empty step of a journey's
// path, or "" when the journey has not advanced yet.
func (c *Context) CurrentPathTail(journeyID string) string {
	path := c.JourneyPaths[journeyID]
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] != "" {
			return path[i]
		}
	}
	return ""
}

// MatchingResult is the outcome of one Match call.
type MatchingResult struct {
	Matches       []models.GuidelineMatch
	Generations   []models.GenerationInfo
	TotalDuration time.Duration
}

// TotalTokens sums usage across all batch generations.
func (r MatchingResult) TotalTokens() int {
	total := 0
	for _, g := range r.Generations {
		total += g.Tokens()
	}
	return total
}

// describeVariables renders context variables for prompt sections.
func describeVariables(vars []*models.ContextVariable) string {
	var sb strings.Builder
	for _, v := range vars {
		sb.WriteString("- ")
		sb.WriteString(v.Name)
		sb.WriteString(": ")
		sb.WriteString(stringifyValue(v.Value))
		sb.WriteString("\n")
	}
	return sb.String()
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(
			strings.TrimSpace(jsonish(t)), "\n", " "), "  ", " "))
	}
}

func jsonish(v any) string {
	raw, err := models.EncodeEventData(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
