package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/pkg/models"
)

// Standard field names resolvable without an LLM call.
const (
	FieldCustomerName  = "std.customer.name"
	FieldAgentName     = "std.agent.name"
	FieldMissingParams = "std.missing_params"

	variableFieldPrefix = "std.variables."
)

type fieldExtraction struct {
	Name        string `json:"name"`
	Extractable bool   `json:"extractable"`
	Value       string `json:"value"`
	Rationale   string `json:"rationale"`
}

type fieldExtractionResponse struct {
	Fields []fieldExtraction `json:"fields"`
}

// resolveAndRender resolves each candidate's fields and renders it. Fields
// resolve in order: standard values, tool-supplied values, then one LLM
// extraction call for whatever remains. A candidate with any unresolvable
// field is discarded.
func (g *CannedGenerator) resolveAndRender(ctx context.Context, cc *Context, draft string, candidates []*models.CannedResponse, result *Result) []renderedCandidate {
	toolFields := collectToolFields(cc.StagedToolEvents)

	var out []renderedCandidate
	for _, candidate := range candidates {
		values := map[string]any{}
		var generative []string

		for _, field := range candidate.TemplateFields() {
			if v, ok := resolveStandardField(cc, field); ok {
				values[field] = v
				continue
			}
			if v, ok := toolFields[field]; ok {
				values[field] = v
				continue
			}
			generative = append(generative, field)
		}

		if len(generative) > 0 {
			extracted, info, err := g.extractFields(ctx, cc, draft, generative)
			result.Generations = append(result.Generations, info)
			if err != nil {
				continue
			}
			complete := true
			for _, field := range generative {
				v, ok := extracted[field]
				if !ok {
					complete = false
					break
				}
				values[field] = v
			}
			if !complete {
				continue
			}
		}

		text, err := g.renderer.Render(candidate.Template, values)
		if err != nil {
			continue
		}
		out = append(out, renderedCandidate{response: candidate, text: text})
	}
	return out
}

// resolveStandardField handles the std.* namespace.
func resolveStandardField(cc *Context, field string) (any, bool) {
	switch field {
	case FieldCustomerName:
		if cc.Customer != nil && cc.Customer.Name != "" {
			return cc.Customer.Name, true
		}
		return nil, false
	case FieldAgentName:
		return cc.Agent.Name, true
	case FieldMissingParams:
		if len(cc.Insights.MissingData) == 0 {
			return nil, false
		}
		names := make([]string, 0, len(cc.Insights.MissingData))
		for _, p := range cc.Insights.MissingData {
			names = append(names, p.Parameter)
		}
		return strings.Join(names, ", "), true
	}
	if name, ok := strings.CutPrefix(field, variableFieldPrefix); ok {
		for _, v := range cc.Variables {
			if v.Name == name {
				return v.Value, true
			}
		}
	}
	return nil, false
}

// collectToolFields merges canned_response_fields from every staged tool
// result; later calls win on collision.
func collectToolFields(staged []models.ToolEventData) map[string]any {
	out := map[string]any{}
	for _, ev := range staged {
		for _, call := range ev.ToolCalls {
			for k, v := range call.Result.CannedResponseFields {
				out[k] = v
			}
		}
	}
	return out
}

// extractFields asks the model for field values grounded in the draft and
// the conversation. Only extractable fields come back.
func (g *CannedGenerator) extractFields(ctx context.Context, cc *Context, draft string, fields []string) (map[string]string, models.GenerationInfo, error) {
	b := nlp.NewPromptBuilder()
	b.AddSectionf("agent-identity", "You are filling in a reply template for %s, an AI agent.", cc.Agent.Name)
	b.AddSection("task",
		"Extract a value for each field below, grounded strictly in the draft reply and the conversation. "+
			"Mark a field not extractable rather than inventing a value.")
	b.AddSectionf("draft", "Draft reply:\n%s", draft)
	b.AddSectionf("fields", "Fields to fill:\n- %s", strings.Join(fields, "\n- "))
	b.AddSectionf("interaction", "The conversation so far:\n%s", cc.Transcript())
	b.AddSection("output",
		`Return JSON: {"fields": [{"name": "<field>", "extractable": <bool>, "value": "<value>", "rationale": "<why>"}]}.
Cover every listed field exactly once.`)

	response, info, err := nlp.Generate[fieldExtractionResponse](ctx, g.generator, "canned_field_extraction", b.Build(), nlp.Hints{})
	if err != nil {
		return nil, info, fmt.Errorf("extract fields: %w", err)
	}

	out := map[string]string{}
	for _, f := range response.Fields {
		if f.Extractable && f.Name != "" {
			out[f.Name] = f.Value
		}
	}
	return out, info, nil
}
