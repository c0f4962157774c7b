package match

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/pkg/models"
)

// batchDecision is the model's verdict for one guideline in a batch.
type batchDecision struct {
	GuidelineNumber int    `json:"guideline_number"`
	Rationale       string `json:"rationale"`
	Applies         bool   `json:"applies"`

	// Score grades confidence 1-10 when the guideline applies.
	Score int `json:"score,omitempty"`
}

// batchResponse is the JSON document every matching batch expects back.
// Checks must come back in input order.
type batchResponse struct {
	Checks []batchDecision `json:"checks"`
}

// llmBatch evaluates its guidelines with a single schematic generation.
// The prompt is fixed at creation time so concurrent batches share no
// mutable state.
type llmBatch struct {
	kind       string
	schemaName string
	prompt     string
	guidelines []*models.Guideline
	generator  *nlp.Generator
}

// Kind implements Batch.
func (b *llmBatch) Kind() string {
	return b.kind
}

// Guidelines implements Batch.
func (b *llmBatch) Guidelines() []*models.Guideline {
	return b.guidelines
}

// Process implements Batch. Generation-level retries live inside the
// generator; a response that omits a guideline simply yields no match for
// it.
func (b *llmBatch) Process(ctx context.Context) (BatchResult, error) {
	response, info, err := nlp.Generate[batchResponse](ctx, b.generator, b.schemaName, b.prompt, nlp.Hints{})
	if err != nil {
		return BatchResult{Info: info}, fmt.Errorf("%s batch: %w", b.kind, err)
	}

	result := BatchResult{Info: info}
	for _, check := range response.Checks {
		idx := check.GuidelineNumber - 1
		if idx < 0 || idx >= len(b.guidelines) {
			continue
		}
		if !check.Applies {
			continue
		}
		score := float64(check.Score) / 10
		if score <= 0 || score > 1 {
			score = 1
		}
		result.Matches = append(result.Matches, models.GuidelineMatch{
			Guideline: b.guidelines[idx],
			Score:     score,
			Rationale: check.Rationale,
		})
	}
	return result, nil
}

// numberedGuidelines renders a batch's guidelines as a numbered list.
func numberedGuidelines(guidelines []*models.Guideline, withActions bool) string {
	var sb strings.Builder
	for i, g := range guidelines {
		if withActions && !g.IsObservational() {
			fmt.Fprintf(&sb, "%d. When: %s\n   Then: %s\n", i+1, g.Condition, g.Action)
		} else {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, g.Condition)
		}
	}
	return sb.String()
}

// basePrompt assembles the sections shared by every matching batch.
func basePrompt(mc *Context, task string) *nlp.PromptBuilder {
	b := nlp.NewPromptBuilder()
	b.AddSectionf("agent-identity",
		"You are matching behavioral rules for %s, an AI agent. Agent description: %s",
		mc.Agent.Name, mc.Agent.Description)
	b.AddSection("task", task)
	b.AddSection("glossary", describeTerms(mc.Terms))
	b.AddSection("context-variables", describeVariables(mc.Variables))
	b.AddSectionf("interaction", "The conversation so far:\n%s", mc.Transcript())
	return b
}

func describeTerms(terms []*models.Term) string {
	if len(terms) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Domain terms you must interpret correctly:\n")
	for _, t := range terms {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
	}
	return sb.String()
}

const batchOutputInstructions = `Return JSON: {"checks": [{"guideline_number": <n>, "rationale": "<why>", "applies": <bool>, "score": <1-10>}]}.
Evaluate every numbered entry, in the given order, exactly once.`

func actionablePrompt(mc *Context, guidelines []*models.Guideline) string {
	b := basePrompt(mc,
		"Decide, for each rule below, whether its condition holds for the customer's latest message in this conversation. "+
			"A rule applies only if acting on it now would be appropriate; a condition about something already handled does not apply again.")
	b.AddSectionf("guidelines", "Rules to evaluate:\n%s", numberedGuidelines(guidelines, true))
	b.AddSection("output", batchOutputInstructions)
	return b.Build()
}

func observationalPrompt(mc *Context, guidelines []*models.Guideline) string {
	b := basePrompt(mc,
		"The entries below are observations, not instructions. Decide for each whether the condition currently holds in the conversation.")
	b.AddSectionf("guidelines", "Observations to evaluate:\n%s", numberedGuidelines(guidelines, false))
	b.AddSection("output", batchOutputInstructions)
	return b.Build()
}

func disambiguationPrompt(mc *Context, guidelines []*models.Guideline) string {
	b := basePrompt(mc,
		"Each entry below describes an ambiguous customer intent with several possible readings. "+
			"Decide whether the customer's latest message is genuinely ambiguous between those readings; if one reading is clearly intended, the entry does not apply.")
	var sb strings.Builder
	for i, g := range guidelines {
		fmt.Fprintf(&sb, "%d. %s\n   Possible readings: %s\n", i+1, g.Condition, strings.Join(g.Metadata.DisambiguationTargets, ", "))
	}
	b.AddSectionf("guidelines", "Ambiguities to evaluate:\n%s", sb.String())
	b.AddSection("output", batchOutputInstructions)
	return b.Build()
}

func prevAppliedActionablePrompt(mc *Context, guidelines []*models.Guideline) string {
	b := basePrompt(mc,
		"Each rule below was already acted on earlier in this conversation. It applies again only if the customer's latest message re-raises the matter so that repeating the action is warranted. Continuing an in-progress exchange does not warrant repetition.")
	b.AddSectionf("guidelines", "Previously applied rules:\n%s", numberedGuidelines(guidelines, true))
	b.AddSection("output", batchOutputInstructions)
	return b.Build()
}

func prevAppliedCustomerDependentPrompt(mc *Context, guidelines []*models.Guideline) string {
	b := basePrompt(mc,
		"Each rule below was already acted on, but its action depends on what the customer supplies. It applies again whenever the customer has provided new or changed input the action should be redone with.")
	b.AddSectionf("guidelines", "Customer-dependent rules:\n%s", numberedGuidelines(guidelines, true))
	b.AddSection("output", batchOutputInstructions)
	return b.Build()
}
