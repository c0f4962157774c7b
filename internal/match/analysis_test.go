package match

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/pkg/models"
)

func analysisMatches() []models.GuidelineMatch {
	return []models.GuidelineMatch{
		{Guideline: &models.Guideline{ID: "greet", Condition: "c", Action: "greet warmly"}},
		{Guideline: &models.Guideline{ID: "obs", Condition: "c"}},
		{Guideline: &models.Guideline{ID: "ask", Condition: "c", Action: "ask for the order id"}},
	}
}

func TestAnalyzeResponseAppliesOnFunctionalCompletion(t *testing.T) {
	provider := nlp.NewStaticProvider()
	provider.Enqueue("response_analysis", `{"checks": [
		{"guideline_number": 1, "rationale": "greeted, tone a bit flat", "functional_part_done": true, "behavioral_part_done": false},
		{"guideline_number": 2, "rationale": "polite but never asked", "functional_part_done": false, "behavioral_part_done": true}
	]}`)
	g := nlp.NewGenerator(provider)

	applied, generations, err := AnalyzeResponse(context.Background(), g, matcherContext(), analysisMatches(), "Hello there!")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	// A behavioral shortfall does not keep a guideline pending; an
	// unfulfilled functional part does.
	if len(applied) != 1 || applied[0] != "greet" {
		t.Errorf("applied = %v, want [greet]", applied)
	}
	if len(generations) != 1 {
		t.Errorf("got %d generations, want 1", len(generations))
	}

	// Observational guidelines are never candidates, so the numbered list
	// the model saw had two entries: greet, then ask.
	prompt := provider.Prompts()[0].Prompt
	if !strings.Contains(prompt, "greet warmly") || !strings.Contains(prompt, "ask for the order id") {
		t.Errorf("prompt missing candidate actions:\n%s", prompt)
	}
}

func TestAnalyzeResponseSkipsContinuousAndAlreadyApplied(t *testing.T) {
	provider := nlp.NewStaticProvider()
	provider.Enqueue("response_analysis", `{"checks": [
		{"guideline_number": 1, "rationale": "done", "functional_part_done": true, "behavioral_part_done": true}
	]}`)
	g := nlp.NewGenerator(provider)

	matches := []models.GuidelineMatch{
		{Guideline: &models.Guideline{ID: "tone", Condition: "c", Action: "stay upbeat", Metadata: models.GuidelineMetadata{Continuous: true}}},
		{Guideline: &models.Guideline{ID: "done", Condition: "c", Action: "already handled"}},
		{Guideline: &models.Guideline{ID: "ask", Condition: "c", Action: "ask for the order id"}},
	}
	mc := matcherContext()
	mc.Applied["done"] = true

	applied, _, err := AnalyzeResponse(context.Background(), g, mc, matches, "reply")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	// Only "ask" was a candidate, so check number 1 refers to it.
	if len(applied) != 1 || applied[0] != "ask" {
		t.Errorf("applied = %v, want [ask]", applied)
	}
	prompt := provider.Prompts()[0].Prompt
	if strings.Contains(prompt, "stay upbeat") || strings.Contains(prompt, "already handled") {
		t.Errorf("continuous/applied guidelines leaked into the prompt:\n%s", prompt)
	}
}

func TestAnalyzeResponseSkipsWithoutCandidates(t *testing.T) {
	provider := nlp.NewStaticProvider()
	g := nlp.NewGenerator(provider)

	matches := []models.GuidelineMatch{
		{Guideline: &models.Guideline{ID: "obs", Condition: "c"}},
		{Guideline: &models.Guideline{
			ID:     models.JourneyNodeGuidelineID("n1", ""),
			Action: "act",
			Metadata: models.GuidelineMetadata{
				JourneyNode: &models.JourneyNodeDescriptor{JourneyID: "j", NodeID: "n1"},
			},
		}},
	}

	applied, _, err := AnalyzeResponse(context.Background(), g, matcherContext(), matches, "reply")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if applied != nil {
		t.Errorf("applied = %v, want nil", applied)
	}
	if n := len(provider.Prompts()); n != 0 {
		t.Errorf("provider received %d calls, want 0", n)
	}
}

func TestAnalyzeResponseSkipsBlankReply(t *testing.T) {
	provider := nlp.NewStaticProvider()
	g := nlp.NewGenerator(provider)

	applied, _, err := AnalyzeResponse(context.Background(), g, matcherContext(), analysisMatches(), "   ")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if applied != nil || len(provider.Prompts()) != 0 {
		t.Error("blank reply should short-circuit without an LLM call")
	}
}

func TestAnalyzeResponseIgnoresOutOfRangeNumbers(t *testing.T) {
	provider := nlp.NewStaticProvider()
	provider.Enqueue("response_analysis", `{"checks": [
		{"guideline_number": 9, "rationale": "?", "functional_part_done": true, "behavioral_part_done": true}
	]}`)
	g := nlp.NewGenerator(provider)

	applied, _, err := AnalyzeResponse(context.Background(), g, matcherContext(), analysisMatches(), "reply")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if applied != nil {
		t.Errorf("applied = %v, want nil", applied)
	}
}
