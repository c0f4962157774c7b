package compose

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/pkg/models"
)

func composeContext() *Context {
	return &Context{
		Agent:    &models.Agent{ID: "a1", Name: "Sunny", Description: "support agent"},
		Customer: &models.Customer{ID: "c1", Name: "Ada"},
		Session:  &models.Session{ID: "s1"},
	}
}

func TestFluidGenerateProducesMessage(t *testing.T) {
	provider := nlp.NewStaticProvider()
	provider.Enqueue("fluid_message_generation", `{
		"analysis": "customer greeted",
		"produce_reply": true,
		"message": "Hello! How can I help?",
		"instructions_followed": true
	}`)
	g := NewFluidGenerator(nlp.NewGenerator(provider))

	result, err := g.Generate(context.Background(), composeContext())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !result.Produced {
		t.Fatal("expected a produced reply")
	}
	if result.Message.Message != "Hello! How can I help?" {
		t.Errorf("message = %q", result.Message.Message)
	}
	if result.Message.Participant.DisplayName != "Sunny" {
		t.Errorf("participant = %+v", result.Message.Participant)
	}

	// The first attempt uses the coldest temperature.
	if temp := provider.Prompts()[0].Hints.Temperature; temp != 0.1 {
		t.Errorf("first temperature = %v, want 0.1", temp)
	}
}

func TestFluidGenerateDeclinesToReply(t *testing.T) {
	provider := nlp.NewStaticProvider()
	provider.Enqueue("fluid_message_generation", `{
		"analysis": "nothing to add",
		"produce_reply": false,
		"message": "",
		"instructions_followed": true
	}`)
	g := NewFluidGenerator(nlp.NewGenerator(provider))

	result, err := g.Generate(context.Background(), composeContext())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Produced {
		t.Error("produce_reply=false should yield no message")
	}
}

func TestFluidPromptCarriesWorkingSet(t *testing.T) {
	provider := nlp.NewStaticProvider()
	provider.Always("fluid_message_generation", `{"analysis": "", "produce_reply": false, "message": "", "instructions_followed": true}`)
	g := NewFluidGenerator(nlp.NewGenerator(provider))

	cc := composeContext()
	cc.Terms = []*models.Term{{Name: "MRR", Description: "monthly recurring revenue"}}
	cc.OrdinaryMatches = []models.GuidelineMatch{
		{Guideline: &models.Guideline{Condition: "the customer greets", Action: "greet back warmly"}},
	}
	cc.Insights = models.ToolInsights{MissingData: []models.ProblematicParameter{
		{ToolID: models.ToolID{ServiceName: "crm", ToolName: "lookup"}, Parameter: "account_id", State: models.ArgumentMissing},
	}}
	cc.StagedToolEvents = []models.ToolEventData{{ToolCalls: []models.ToolCallRecord{
		{ToolID: "crm:lookup", Result: models.ToolResult{Data: []byte(`{"plan": "pro"}`)}},
	}}}

	if _, err := g.Generate(context.Background(), cc); err != nil {
		t.Fatalf("generate: %v", err)
	}

	prompt := provider.Prompts()[0].Prompt
	for _, want := range []string{
		"monthly recurring revenue",
		"greet back warmly",
		"account_id",
		`{"plan": "pro"}`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	// Tool names stay out of the reply guidance; the data section explains
	// results without naming their source.
	if !strings.Contains(prompt, "never mention how it was obtained") {
		t.Error("prompt missing the source-concealment instruction")
	}
}

func TestForMode(t *testing.T) {
	generator := nlp.NewGenerator(nlp.NewStaticProvider())
	deps := &CannedDeps{}

	tests := []struct {
		mode     models.CompositionMode
		canned   *CannedDeps
		wantName string
		wantErr  bool
	}{
		{models.CompositionFluid, nil, "fluid", false},
		{"", nil, "fluid", false},
		{models.CompositionCannedStrict, deps, "canned_canned_strict", false},
		{models.CompositionCannedFluid, deps, "canned_canned_fluid", false},
		{models.CompositionCannedComposited, deps, "canned_canned_composited", false},
		{models.CompositionCannedStrict, nil, "", true},
		{"bogus", nil, "", true},
	}
	for _, tc := range tests {
		g, err := ForMode(tc.mode, generator, tc.canned)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ForMode(%q) expected error", tc.mode)
			}
			continue
		}
		if err != nil {
			t.Errorf("ForMode(%q): %v", tc.mode, err)
			continue
		}
		if g.Name() != tc.wantName {
			t.Errorf("ForMode(%q).Name() = %q, want %q", tc.mode, g.Name(), tc.wantName)
		}
	}
}
