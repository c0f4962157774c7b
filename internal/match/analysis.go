package match

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/pkg/models"
)

// analysisDecision is the model's verdict on whether one guideline's action
// was carried out by the emitted reply.
type analysisDecision struct {
	GuidelineNumber int    `json:"guideline_number"`
	Rationale       string `json:"rationale"`

	// FunctionalPart reports whether any data-gathering side of the action
	// was done (tools ran, or none were needed).
	FunctionalPart bool `json:"functional_part_done"`

	// BehavioralPart reports whether the communicative side of the action
	// is reflected in the reply. It informs the rationale only; the applied
	// verdict rests on the functional part.
	BehavioralPart bool `json:"behavioral_part_done"`
}

type analysisResponse struct {
	Checks []analysisDecision `json:"checks"`
}

// AnalyzeResponse runs after the reply is emitted and decides which of the
// matched guidelines count as applied. What matters is the missing part: a
// guideline whose functional part was carried out is applied even when its
// behavioral side (tone, phrasing) fell short, while an unfulfilled
// functional part keeps it eligible on the next turn. Observational and
// continuous guidelines are never applied this way, already-applied ones are
// not re-evaluated, and journey-node guidelines are recorded through the
// journey path instead. Returns the applied guideline ids.
func AnalyzeResponse(ctx context.Context, generator *nlp.Generator, mc *Context, matches []models.GuidelineMatch, reply string) ([]string, []models.GenerationInfo, error) {
	var candidates []*models.Guideline
	for _, m := range matches {
		g := m.Guideline
		if g.IsObservational() || g.IsJourneyNode() || g.Metadata.Continuous || mc.Applied[g.ID] {
			continue
		}
		candidates = append(candidates, g)
	}
	if len(candidates) == 0 || strings.TrimSpace(reply) == "" {
		return nil, nil, nil
	}

	prompt := analysisPrompt(mc, candidates, reply)
	response, info, err := nlp.Generate[analysisResponse](ctx, generator, "response_analysis", prompt, nlp.Hints{})
	generations := []models.GenerationInfo{info}
	if err != nil {
		return nil, generations, fmt.Errorf("response analysis: %w", err)
	}

	var applied []string
	for _, check := range response.Checks {
		idx := check.GuidelineNumber - 1
		if idx < 0 || idx >= len(candidates) {
			continue
		}
		if check.FunctionalPart {
			applied = append(applied, candidates[idx].ID)
		}
	}
	return applied, generations, nil
}

func analysisPrompt(mc *Context, guidelines []*models.Guideline, reply string) string {
	b := basePrompt(mc,
		"The agent just sent the reply below. For each rule, judge separately whether its functional part (gathering or acting on data, via the staged tool results) and its behavioral part (what the reply communicates) were carried out. "+
			"A rule with no functional side has its functional part done by definition.")
	b.AddSection("staged-tools", describeStagedTools(mc.StagedToolEvents))
	b.AddSectionf("reply", "The agent's reply:\n%s", reply)
	b.AddSectionf("guidelines", "Rules to evaluate:\n%s", numberedGuidelines(guidelines, true))
	b.AddSection("output",
		`Return JSON: {"checks": [{"guideline_number": <n>, "rationale": "<why>", "functional_part_done": <bool>, "behavioral_part_done": <bool>}]}.
Evaluate every numbered entry, in the given order, exactly once.`)
	return b.Build()
}

func describeStagedTools(staged []models.ToolEventData) string {
	if len(staged) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Tool calls made while preparing this reply:\n")
	for _, ev := range staged {
		for _, call := range ev.ToolCalls {
			fmt.Fprintf(&sb, "- %s\n", call.ToolID)
		}
	}
	return sb.String()
}
