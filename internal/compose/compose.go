// Package compose generates the agent's reply for one processing cycle.
//
// Two generators exist: the fluid generator produces free text in one LLM
// call with escalating temperatures, and the canned generator drafts a reply
// and then retrieves, renders, and selects a pre-authored template. Which one
// runs is the agent's composition mode. The package also owns the preamble
// policy and the chunked, paced emission of the final text.
package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/pkg/models"
)

// Context is the read-only working set a generator composes from. The
// engine assembles it once preparation has converged.
type Context struct {
	Agent    *models.Agent
	Customer *models.Customer
	Session  *models.Session

	// Interaction is the full event history up to this turn.
	Interaction []models.Event

	Terms        []*models.Term
	Variables    []*models.ContextVariable
	Capabilities []*models.Capability

	// OrdinaryMatches are matched guidelines with no enabled tool;
	// ToolEnabledMatches are the rest. The two sets are disjoint.
	OrdinaryMatches    []models.GuidelineMatch
	ToolEnabledMatches []models.GuidelineMatch

	// StagedToolEvents are the tool events emitted during preparation.
	StagedToolEvents []models.ToolEventData

	// Insights are the required tool parameters this turn could not supply.
	Insights models.ToolInsights

	// ActiveJourneys are the journeys activated during preparation.
	ActiveJourneys []*models.Journey
}

// Matches returns ordinary then tool-enabled matches.
func (c *Context) Matches() []models.GuidelineMatch {
	out := make([]models.GuidelineMatch, 0, len(c.OrdinaryMatches)+len(c.ToolEnabledMatches))
	out = append(out, c.OrdinaryMatches...)
	out = append(out, c.ToolEnabledMatches...)
	return out
}

// MatchedGuidelines returns the guidelines behind all matches.
func (c *Context) MatchedGuidelines() []*models.Guideline {
	matches := c.Matches()
	out := make([]*models.Guideline, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Guideline)
	}
	return out
}

// Participant returns the agent as a message author.
func (c *Context) Participant() models.Participant {
	return models.Participant{ID: c.Agent.ID, DisplayName: c.Agent.Name}
}

// Transcript renders the interaction for prompts.
func (c *Context) Transcript() string {
	return nlp.FormatTranscript(c.Interaction)
}

// Result is the outcome of one generation: at most one message, before
// splitting.
type Result struct {
	// Message is the composed reply. Meaningful only when Produced.
	Message models.MessageEventData

	// Produced is false when the generator decided nothing needs saying.
	Produced bool

	Generations []models.GenerationInfo
}

// MessageGenerator produces the reply for one cycle.
type MessageGenerator interface {
	// Name identifies the generator for logging and inspection records.
	Name() string

	Generate(ctx context.Context, cc *Context) (Result, error)
}

// ForMode returns the generator for an agent's composition mode. Canned
// modes share one generator parameterized by the mode.
func ForMode(mode models.CompositionMode, generator *nlp.Generator, canned *CannedDeps) (MessageGenerator, error) {
	switch mode {
	case models.CompositionFluid, "":
		return NewFluidGenerator(generator), nil
	case models.CompositionCannedStrict, models.CompositionCannedComposited, models.CompositionCannedFluid:
		if canned == nil {
			return nil, fmt.Errorf("composition mode %s needs a canned response store", mode)
		}
		return NewCannedGenerator(mode, generator, canned), nil
	default:
		return nil, fmt.Errorf("unknown composition mode %q", mode)
	}
}

// describeInsights renders tool insights as composer guidance: missing
// parameters should be asked for, invalid ones flagged back.
func describeInsights(insights models.ToolInsights) string {
	if insights.Empty() {
		return ""
	}
	var sb strings.Builder
	if len(insights.MissingData) > 0 {
		sb.WriteString("You could not act yet because the following information is missing. Ask the customer for it; do not guess or invent values:\n")
		for _, p := range insights.MissingData {
			fmt.Fprintf(&sb, "- %s", p.Parameter)
			if p.Rationale != "" {
				fmt.Fprintf(&sb, " (%s)", p.Rationale)
			}
			sb.WriteString("\n")
		}
	}
	if len(insights.InvalidData) > 0 {
		sb.WriteString("The customer supplied unusable values for the following. Point this out and ask for a correction:\n")
		for _, p := range insights.InvalidData {
			fmt.Fprintf(&sb, "- %s", p.Parameter)
			if p.Rationale != "" {
				fmt.Fprintf(&sb, " (%s)", p.Rationale)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// describeMatches renders matched guidelines as numbered behavior rules.
func describeMatches(matches []models.GuidelineMatch) string {
	if len(matches) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, m := range matches {
		if m.Guideline.Action != "" {
			fmt.Fprintf(&sb, "%d. When %s, then: %s\n", i+1, m.Guideline.Condition, m.Guideline.Action)
		} else {
			fmt.Fprintf(&sb, "%d. Note: %s\n", i+1, m.Guideline.Condition)
		}
	}
	return sb.String()
}

// describeToolResults renders staged tool outcomes without exposing tool
// names to the eventual reply.
func describeToolResults(staged []models.ToolEventData) string {
	if len(staged) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Data gathered for this reply (never mention how it was obtained):\n")
	for _, ev := range staged {
		for _, call := range ev.ToolCalls {
			if call.Result.Error != "" {
				fmt.Fprintf(&sb, "- a lookup failed: %s\n", call.Result.Error)
				continue
			}
			fmt.Fprintf(&sb, "- %s\n", string(call.Result.Data))
		}
	}
	return sb.String()
}
