package compose

import (
	"context"
	"testing"

	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/internal/store"
	"github.com/haasonsaas/parley/pkg/models"
)

func TestResolveStandardField(t *testing.T) {
	cc := composeContext()
	cc.Variables = []*models.ContextVariable{{Name: "plan", Value: "pro"}}
	cc.Insights = models.ToolInsights{MissingData: []models.ProblematicParameter{
		{Parameter: "account_id"},
		{Parameter: "region"},
	}}

	tests := []struct {
		field  string
		want   any
		wantOK bool
	}{
		{FieldCustomerName, "Ada", true},
		{FieldAgentName, "Sunny", true},
		{FieldMissingParams, "account_id, region", true},
		{"std.variables.plan", "pro", true},
		{"std.variables.unknown", nil, false},
		{"order_id", nil, false},
	}
	for _, tc := range tests {
		got, ok := resolveStandardField(cc, tc.field)
		if ok != tc.wantOK {
			t.Errorf("resolveStandardField(%q) ok = %v, want %v", tc.field, ok, tc.wantOK)
			continue
		}
		if tc.wantOK && got != tc.want {
			t.Errorf("resolveStandardField(%q) = %v, want %v", tc.field, got, tc.want)
		}
	}
}

func TestResolveStandardFieldAnonymousCustomer(t *testing.T) {
	cc := composeContext()
	cc.Customer = &models.Customer{ID: "c1"}
	if _, ok := resolveStandardField(cc, FieldCustomerName); ok {
		t.Error("a nameless customer should not resolve")
	}
	if _, ok := resolveStandardField(cc, FieldMissingParams); ok {
		t.Error("no missing parameters should not resolve")
	}
}

func TestCollectToolFields(t *testing.T) {
	staged := []models.ToolEventData{
		{ToolCalls: []models.ToolCallRecord{
			{Result: models.ToolResult{CannedResponseFields: map[string]any{"order_id": "A-1", "eta": "Friday"}}},
		}},
		{ToolCalls: []models.ToolCallRecord{
			{Result: models.ToolResult{CannedResponseFields: map[string]any{"order_id": "A-2"}}},
		}},
	}

	fields := collectToolFields(staged)
	// Later calls win on collision.
	if fields["order_id"] != "A-2" {
		t.Errorf("order_id = %v, want A-2", fields["order_id"])
	}
	if fields["eta"] != "Friday" {
		t.Errorf("eta = %v", fields["eta"])
	}
	if got := collectToolFields(nil); len(got) != 0 {
		t.Errorf("no staged events should yield no fields, got %v", got)
	}
}

func TestResolveAndRenderGenerativeField(t *testing.T) {
	provider := nlp.NewStaticProvider()
	provider.Enqueue("canned_field_extraction", `{
		"fields": [{"name": "order_id", "extractable": true, "value": "A-17", "rationale": "named in the draft"}]
	}`)
	g := newCanned(models.CompositionCannedStrict, provider, store.NewMemoryCatalog())

	candidates := []*models.CannedResponse{{
		ID:       "cr-order",
		Template: "Order {{order_id}} is on its way, {{std.customer.name}}.",
	}}
	result := Result{}
	rendered := g.resolveAndRender(context.Background(), composeContext(), "Your order A-17 shipped.", candidates, &result)

	if len(rendered) != 1 {
		t.Fatalf("got %d rendered candidates, want 1", len(rendered))
	}
	if rendered[0].text != "Order A-17 is on its way, Ada." {
		t.Errorf("rendered = %q", rendered[0].text)
	}
	if len(result.Generations) != 1 {
		t.Errorf("got %d generations, want 1 extraction call", len(result.Generations))
	}
}

func TestResolveAndRenderDiscardsUnresolvable(t *testing.T) {
	provider := nlp.NewStaticProvider()
	provider.Enqueue("canned_field_extraction", `{
		"fields": [{"name": "order_id", "extractable": false, "value": "", "rationale": "never mentioned"}]
	}`)
	g := newCanned(models.CompositionCannedStrict, provider, store.NewMemoryCatalog())

	candidates := []*models.CannedResponse{{
		ID:       "cr-order",
		Template: "Order {{order_id}} is on its way.",
	}}
	result := Result{}
	rendered := g.resolveAndRender(context.Background(), composeContext(), "Your order shipped.", candidates, &result)

	if len(rendered) != 0 {
		t.Errorf("unresolvable field should discard the candidate, got %v", rendered)
	}
}

func TestResolveAndRenderToolFieldsSkipExtraction(t *testing.T) {
	provider := nlp.NewStaticProvider()
	g := newCanned(models.CompositionCannedStrict, provider, store.NewMemoryCatalog())

	cc := composeContext()
	cc.StagedToolEvents = []models.ToolEventData{{ToolCalls: []models.ToolCallRecord{
		{Result: models.ToolResult{CannedResponseFields: map[string]any{"balance": "42.00"}}},
	}}}

	candidates := []*models.CannedResponse{{
		ID:       "cr-balance",
		Template: "Your balance is {{balance}}.",
	}}
	result := Result{}
	rendered := g.resolveAndRender(context.Background(), cc, "Your balance is 42.00.", candidates, &result)

	if len(rendered) != 1 || rendered[0].text != "Your balance is 42.00." {
		t.Fatalf("rendered = %v", rendered)
	}
	if n := len(provider.Prompts()); n != 0 {
		t.Errorf("provider received %d calls, want 0", n)
	}
}
