package match

import (
	"context"
	"testing"

	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/pkg/models"
)

func matcherContext() *Context {
	return &Context{
		Agent:   &models.Agent{ID: "a1", Name: "Sunny", Description: "support agent"},
		Session: &models.Session{ID: "s1"},
		Applied: map[string]bool{},
	}
}

const applyFirst = `{"checks": [{"guideline_number": 1, "rationale": "holds", "applies": true, "score": 8}]}`
const rejectFirst = `{"checks": [{"guideline_number": 1, "rationale": "does not hold", "applies": false}]}`

func TestMatchEmptyGuidelinesMakesNoLLMCalls(t *testing.T) {
	provider := nlp.NewStaticProvider()
	m := NewMatcher(Config{Generator: nlp.NewGenerator(provider)})

	result, err := m.Match(context.Background(), matcherContext(), nil, nil)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(result.Matches) != 0 {
		t.Errorf("got %d matches, want 0", len(result.Matches))
	}
	if n := len(provider.Prompts()); n != 0 {
		t.Errorf("provider received %d calls, want 0", n)
	}
}

func TestMatchMergesInInputOrder(t *testing.T) {
	provider := nlp.NewStaticProvider()
	// One guideline per batch at this size; every batch reports a match,
	// and the merge must restore input order regardless of which batch
	// finished first.
	provider.Always("actionable_matching", applyFirst)
	provider.Always("observational_matching", applyFirst)
	m := NewMatcher(Config{Generator: nlp.NewGenerator(provider)})

	guidelines := []*models.Guideline{
		{ID: "g1", Condition: "c1", Action: "act", Enabled: true},
		{ID: "g2", Condition: "c2", Enabled: true},
		{ID: "g3", Condition: "c3", Action: "act", Enabled: true},
	}

	result, err := m.Match(context.Background(), matcherContext(), nil, guidelines)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(result.Matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(result.Matches))
	}
	for i, want := range []string{"g1", "g2", "g3"} {
		if result.Matches[i].Guideline.ID != want {
			t.Errorf("match[%d] = %q, want %q", i, result.Matches[i].Guideline.ID, want)
		}
	}
	if result.Matches[0].Score != 0.8 {
		t.Errorf("score = %v, want 0.8", result.Matches[0].Score)
	}
}

func TestMatchNonApplyingGuidelinesDropOut(t *testing.T) {
	provider := nlp.NewStaticProvider()
	provider.Always("actionable_matching", rejectFirst)
	provider.Always("observational_matching", applyFirst)
	m := NewMatcher(Config{Generator: nlp.NewGenerator(provider)})

	guidelines := []*models.Guideline{
		{ID: "g1", Condition: "c1", Action: "act", Enabled: true},
		{ID: "g2", Condition: "c2", Enabled: true},
	}

	result, err := m.Match(context.Background(), matcherContext(), nil, guidelines)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].Guideline.ID != "g2" {
		t.Errorf("matches = %v, want only g2", result.Matches)
	}
}

func TestMatchFailedBatchContributesNothing(t *testing.T) {
	provider := nlp.NewStaticProvider()
	// The observational batch never gets a registered response, so it fails
	// after its retries; the turn still succeeds with the other matches.
	provider.Always("actionable_matching", applyFirst)
	m := NewMatcher(Config{Generator: nlp.NewGenerator(provider)})

	guidelines := []*models.Guideline{
		{ID: "g1", Condition: "c1", Action: "act", Enabled: true},
		{ID: "g2", Condition: "c2", Enabled: true},
	}

	result, err := m.Match(context.Background(), matcherContext(), nil, guidelines)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].Guideline.ID != "g1" {
		t.Errorf("matches = %v, want only g1", result.Matches)
	}
}

func TestMatchClampsOutOfRangeScore(t *testing.T) {
	provider := nlp.NewStaticProvider()
	provider.Always("actionable_matching", `{"checks": [{"guideline_number": 1, "rationale": "r", "applies": true, "score": 42}]}`)
	m := NewMatcher(Config{Generator: nlp.NewGenerator(provider)})

	result, err := m.Match(context.Background(), matcherContext(), nil, []*models.Guideline{
		{ID: "g1", Condition: "c", Action: "act", Enabled: true},
	})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].Score != 1 {
		t.Errorf("score = %v, want clamped to 1", result.Matches)
	}
}

func TestMatchDropsInactiveJourneyNodeMatches(t *testing.T) {
	provider := nlp.NewStaticProvider()
	provider.Always("actionable_matching", applyFirst)
	m := NewMatcher(Config{Generator: nlp.NewGenerator(provider)})

	// The guideline points at a journey that is not active this turn, so it
	// is evaluated as plain actionable and then filtered out by the
	// transform.
	node := &models.Guideline{
		ID:        models.JourneyNodeGuidelineID("n1", ""),
		Condition: "c",
		Action:    "act",
		Enabled:   true,
		Metadata: models.GuidelineMetadata{
			JourneyNode: &models.JourneyNodeDescriptor{JourneyID: "j-inactive", NodeID: "n1"},
		},
	}

	result, err := m.Match(context.Background(), matcherContext(), nil, []*models.Guideline{node})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(result.Matches) != 0 {
		t.Errorf("matches = %v, want none for inactive journey", result.Matches)
	}
}
