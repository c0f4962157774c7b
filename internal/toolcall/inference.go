package toolcall

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/parley/internal/match"
	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/pkg/models"
)

// argumentEvaluation is the model's assessment of one tool parameter.
type argumentEvaluation struct {
	Parameter string `json:"parameter"`
	Rationale string `json:"rationale"`

	// State is "valid", "invalid", or "missing".
	State string `json:"state"`

	// Value carries the evaluated argument when State is "valid".
	Value any `json:"value,omitempty"`
}

// inferenceCall is the model's verdict for one intended invocation of the
// candidate tool.
type inferenceCall struct {
	ApplicabilityRationale string               `json:"applicability_rationale"`
	IsApplicable           bool                 `json:"is_applicable"`
	SameCallAlreadyStaged  bool                 `json:"same_call_is_already_staged"`
	ArgumentEvaluations    []argumentEvaluation `json:"argument_evaluations"`
}

// inferenceResponse carries one entry per distinct invocation the model
// judges the conversation to call for. A tool can legitimately run more than
// once in a turn with different arguments.
type inferenceResponse struct {
	Calls []inferenceCall `json:"tool_calls_for_candidate_tool"`
}

// arguments collects the valid evaluated values into a call argument map.
func (c inferenceCall) arguments() map[string]any {
	args := map[string]any{}
	for _, eval := range c.ArgumentEvaluations {
		if eval.State == string(models.ArgumentValid) && eval.Parameter != "" {
			args[eval.Parameter] = eval.Value
		}
	}
	return args
}

// inferCall decides whether one candidate tool should run now and with what
// arguments. One call per candidate keeps each tool's parameter evaluation
// independent of its siblings.
func inferCall(ctx context.Context, generator *nlp.Generator, mc *match.Context, candidate Candidate) (inferenceResponse, models.GenerationInfo, error) {
	prompt := inferencePrompt(mc, candidate)
	response, info, err := nlp.Generate[inferenceResponse](ctx, generator, "tool_call_inference", prompt, nlp.Hints{})
	if err != nil {
		return inferenceResponse{}, info, fmt.Errorf("infer call for %s: %w", candidate.Tool.ID, err)
	}
	return response, info, nil
}

func inferencePrompt(mc *match.Context, candidate Candidate) string {
	b := nlp.NewPromptBuilder()
	b.AddSectionf("agent-identity",
		"You are deciding tool usage for %s, an AI agent. Agent description: %s",
		mc.Agent.Name, mc.Agent.Description)
	b.AddSection("task",
		"Decide whether the tool below should be invoked right now to serve the active behavioral rules, and evaluate each of its parameters from the conversation and context. "+
			"Describe one entry per distinct invocation the conversation calls for; most tools need exactly one, but a request covering several subjects may need one call per subject. "+
			"Mark a parameter \"valid\" with its value when the conversation supplies it, \"invalid\" when the customer supplied something unusable for it, and \"missing\" otherwise. "+
			"If an identical call has already been staged this turn, say so instead of repeating it.")
	b.AddSection("tool", describeTool(candidate.Tool))
	b.AddSection("reasons", describeReasons(candidate.Matches))
	b.AddSection("context-variables", describeVariables(mc.Variables))
	b.AddSection("staged-calls", describeStaged(mc.StagedToolEvents))
	b.AddSectionf("interaction", "The conversation so far:\n%s", mc.Transcript())
	b.AddSection("output",
		`Return JSON: {"tool_calls_for_candidate_tool": [{"applicability_rationale": "<why>", "is_applicable": <bool>, "same_call_is_already_staged": <bool>, "argument_evaluations": [{"parameter": "<name>", "rationale": "<why>", "state": "valid"|"invalid"|"missing", "value": <any>}]}]}.
Evaluate every declared parameter exactly once per entry. If the tool should not run at all, return a single entry with "is_applicable": false.`)
	return b.Build()
}

func describeTool(tool models.Tool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tool: %s\n%s\n", tool.ID, tool.Description)
	if len(tool.Required) > 0 {
		sb.WriteString("Required parameters:\n")
		writeParameters(&sb, tool.Required)
	}
	if len(tool.Optional) > 0 {
		sb.WriteString("Optional parameters:\n")
		writeParameters(&sb, tool.Optional)
	}
	return sb.String()
}

func writeParameters(sb *strings.Builder, params []models.ToolParameter) {
	for _, p := range params {
		fmt.Fprintf(sb, "- %s (%s): %s\n", p.Name, p.Type, p.Description)
		if p.AcceptableSource != "" {
			fmt.Fprintf(sb, "  acceptable source: %s\n", p.AcceptableSource)
		}
	}
}

func describeReasons(matches []models.GuidelineMatch) string {
	if len(matches) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("This tool is associated with the following active rules:\n")
	for _, m := range matches {
		if m.Guideline.Action != "" {
			fmt.Fprintf(&sb, "- When %s, then %s\n", m.Guideline.Condition, m.Guideline.Action)
		} else {
			fmt.Fprintf(&sb, "- %s\n", m.Guideline.Condition)
		}
	}
	return sb.String()
}

func describeVariables(vars []*models.ContextVariable) string {
	if len(vars) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Known context values:\n")
	for _, v := range vars {
		fmt.Fprintf(&sb, "- %s: %v\n", v.Name, v.Value)
	}
	return sb.String()
}

func describeStaged(staged []models.ToolEventData) string {
	if len(staged) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Calls already staged this turn:\n")
	for _, ev := range staged {
		for _, call := range ev.ToolCalls {
			fmt.Fprintf(&sb, "- %s %v\n", call.ToolID, call.Arguments)
		}
	}
	return sb.String()
}
