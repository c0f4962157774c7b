package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/internal/store"
	"github.com/haasonsaas/parley/pkg/models"
)

// maxCandidates bounds how many retrieved templates go through field
// resolution and selection.
const maxCandidates = 5

// NoMatchResponseProvider supplies the reply used when strict mode finds no
// template that truly fits.
type NoMatchResponseProvider interface {
	NoMatchResponse(ctx context.Context) (string, error)
}

// StaticNoMatchResponse is a fixed no-match reply.
type StaticNoMatchResponse string

// NoMatchResponse implements NoMatchResponseProvider.
func (s StaticNoMatchResponse) NoMatchResponse(context.Context) (string, error) {
	return string(s), nil
}

// DefaultNoMatchResponse is used when no provider is configured.
const DefaultNoMatchResponse = "I'm not sure how to help with that. Could you rephrase, or tell me a bit more?"

// CannedDeps are the collaborators of the canned generator.
type CannedDeps struct {
	Store    store.CannedResponseStore
	NoMatch  NoMatchResponseProvider
	Renderer *Renderer
}

// CannedGenerator composes replies from pre-authored templates.
//
// The pipeline is draft, retrieval, field resolution and rendering,
// selection, and (in composited mode) revision. The mode decides what
// happens when no template matches well.
type CannedGenerator struct {
	mode      models.CompositionMode
	generator *nlp.Generator
	store     store.CannedResponseStore
	noMatch   NoMatchResponseProvider
	renderer  *Renderer
}

// NewCannedGenerator creates a canned generator for one composition mode.
func NewCannedGenerator(mode models.CompositionMode, generator *nlp.Generator, deps *CannedDeps) *CannedGenerator {
	noMatch := deps.NoMatch
	if noMatch == nil {
		noMatch = StaticNoMatchResponse(DefaultNoMatchResponse)
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = NewRenderer()
	}
	return &CannedGenerator{
		mode:      mode,
		generator: generator,
		store:     deps.Store,
		noMatch:   noMatch,
		renderer:  renderer,
	}
}

// Name implements MessageGenerator.
func (g *CannedGenerator) Name() string {
	return "canned_" + string(g.mode)
}

// renderedCandidate is a template with its fields resolved.
type renderedCandidate struct {
	response *models.CannedResponse
	text     string
}

type selectionResponse struct {
	Rationale      string `json:"rationale"`
	SelectedNumber int    `json:"selected_number"`

	// MatchQuality is "high", "partial", or "none".
	MatchQuality string `json:"match_quality"`
}

type revisionResponse struct {
	Rationale string `json:"rationale"`
	Revised   string `json:"revised_message"`
}

// Generate implements MessageGenerator.
func (g *CannedGenerator) Generate(ctx context.Context, cc *Context) (Result, error) {
	result := Result{}

	// Stage 1: draft.
	draft, info, err := nlp.Generate[fluidResponse](ctx, g.generator, "canned_draft", draftPrompt(cc), nlp.Hints{})
	result.Generations = append(result.Generations, info)
	if err != nil {
		return result, fmt.Errorf("canned draft: %w", err)
	}
	if !draft.ProduceReply || strings.TrimSpace(draft.Message) == "" {
		return result, nil
	}

	// Stage 2: retrieval.
	candidates, err := g.retrieve(ctx, cc, draft.Message)
	if err != nil {
		return result, err
	}

	// Stage 3: field resolution and rendering. Candidates whose fields
	// cannot all be resolved drop out here.
	rendered := g.resolveAndRender(ctx, cc, draft.Message, candidates, &result)
	rendered = append(rendered, toolContributedCandidates(cc.StagedToolEvents)...)

	for _, rc := range rendered {
		if rc.response != nil {
			result.Message.CannedResponses = append(result.Message.CannedResponses, rc.response.ID)
		}
	}

	if len(rendered) == 0 {
		return g.noCandidateResult(ctx, cc, draft.Message, result)
	}

	// Stage 4: selection.
	selection, info, err := nlp.Generate[selectionResponse](ctx, g.generator, "canned_selection", g.selectionPrompt(cc, draft.Message, rendered), nlp.Hints{})
	result.Generations = append(result.Generations, info)
	if err != nil {
		return result, fmt.Errorf("canned selection: %w", err)
	}

	idx := selection.SelectedNumber - 1
	selected := ""
	if idx >= 0 && idx < len(rendered) && selection.MatchQuality != "none" {
		selected = rendered[idx].text
	}

	switch g.mode {
	case models.CompositionCannedStrict:
		// Anything but a verbatim high-quality template falls back.
		if selected == "" || selection.MatchQuality != "high" {
			return g.noCandidateResult(ctx, cc, draft.Message, result)
		}
		return g.finish(cc, selected, draft.Message, result), nil

	case models.CompositionCannedFluid:
		if selected == "" || selection.MatchQuality != "high" {
			return g.finish(cc, draft.Message, draft.Message, result), nil
		}
		return g.finish(cc, selected, draft.Message, result), nil

	case models.CompositionCannedComposited:
		if selected == "" {
			return g.finish(cc, draft.Message, draft.Message, result), nil
		}
		// Stage 5: revision in the selected template's register.
		revision, info, err := nlp.Generate[revisionResponse](ctx, g.generator, "canned_revision", g.revisionPrompt(cc, draft.Message, selected), nlp.Hints{})
		result.Generations = append(result.Generations, info)
		if err != nil || strings.TrimSpace(revision.Revised) == "" {
			return g.finish(cc, selected, draft.Message, result), nil
		}
		return g.finish(cc, revision.Revised, draft.Message, result), nil

	default:
		return result, fmt.Errorf("unexpected canned mode %q", g.mode)
	}
}

func (g *CannedGenerator) finish(cc *Context, message, draft string, result Result) Result {
	result.Message.Message = message
	result.Message.Draft = draft
	result.Message.Participant = cc.Participant()
	result.Produced = true
	return result
}

// noCandidateResult handles the empty-candidate and strict-no-match paths.
func (g *CannedGenerator) noCandidateResult(ctx context.Context, cc *Context, draft string, result Result) (Result, error) {
	switch g.mode {
	case models.CompositionCannedStrict:
		fallback, err := g.noMatch.NoMatchResponse(ctx)
		if err != nil {
			return result, fmt.Errorf("no-match response: %w", err)
		}
		return g.finish(cc, fallback, draft, result), nil
	default:
		// Composited and fluid degrade to the draft.
		return g.finish(cc, draft, draft, result), nil
	}
}

// retrieve fetches contextually relevant templates and ranks them against
// the draft by lexical overlap with template text and signals.
func (g *CannedGenerator) retrieve(ctx context.Context, cc *Context, draft string) ([]*models.CannedResponse, error) {
	all, err := g.store.FindForContext(ctx, cc.Agent, cc.ActiveJourneys, cc.MatchedGuidelines())
	if err != nil {
		return nil, fmt.Errorf("retrieve canned responses: %w", err)
	}

	type scored struct {
		response *models.CannedResponse
		score    float64
	}
	var ranked []scored
	for _, c := range all {
		if c.HasTag(models.TagPreamble) {
			continue
		}
		corpus := c.Template + " " + strings.Join(c.Signals, " ")
		if s := similarity(draft, corpus); s > 0 {
			ranked = append(ranked, scored{response: c, score: s})
		}
	}
	// Insertion sort keeps ties in retrieval order.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].score > ranked[j-1].score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	if len(ranked) > maxCandidates {
		ranked = ranked[:maxCandidates]
	}
	out := make([]*models.CannedResponse, len(ranked))
	for i, s := range ranked {
		out[i] = s.response
	}
	return out, nil
}

func (g *CannedGenerator) selectionPrompt(cc *Context, draft string, rendered []renderedCandidate) string {
	b := nlp.NewPromptBuilder()
	b.AddSectionf("agent-identity", "You are selecting the reply %s, an AI agent, will send.", cc.Agent.Name)
	b.AddSection("task",
		"Below is a draft reply and a list of approved response candidates. Pick the candidate that best conveys what the draft conveys. "+
			"Report match_quality \"high\" when a candidate says essentially the same thing, \"partial\" when it covers the main point with notable gaps, and \"none\" when nothing fits.")
	b.AddSectionf("draft", "Draft reply:\n%s", draft)
	var sb strings.Builder
	for i, rc := range rendered {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, rc.text)
	}
	b.AddSectionf("candidates", "Candidates:\n%s", sb.String())
	b.AddSectionf("interaction", "The conversation so far:\n%s", cc.Transcript())
	b.AddSection("output",
		`Return JSON: {"rationale": "<why>", "selected_number": <n or 0>, "match_quality": "high"|"partial"|"none"}.`)
	return b.Build()
}

func (g *CannedGenerator) revisionPrompt(cc *Context, draft, selected string) string {
	b := nlp.NewPromptBuilder()
	b.AddSectionf("agent-identity", "You are finalizing the reply %s, an AI agent, will send.", cc.Agent.Name)
	b.AddSection("task",
		"Rewrite the draft below in the style, register, and phrasing of the approved template, preserving every fact the draft states and inventing nothing.")
	b.AddSectionf("draft", "Draft reply:\n%s", draft)
	b.AddSectionf("template", "Approved template:\n%s", selected)
	b.AddSection("output", `Return JSON: {"rationale": "<why>", "revised_message": "<the reply>"}.`)
	return b.Build()
}

// toolContributedCandidates surfaces whole responses supplied by tool
// results. They arrive fully rendered.
func toolContributedCandidates(staged []models.ToolEventData) []renderedCandidate {
	var out []renderedCandidate
	for _, ev := range staged {
		for _, call := range ev.ToolCalls {
			for _, text := range call.Result.CannedResponses {
				out = append(out, renderedCandidate{text: text})
			}
		}
	}
	return out
}

// similarity is a token-overlap score between two texts, 0 when disjoint.
func similarity(a, b string) float64 {
	at := tokenSet(a)
	bt := tokenSet(b)
	if len(at) == 0 || len(bt) == 0 {
		return 0
	}
	shared := 0
	for tok := range at {
		if bt[tok] {
			shared++
		}
	}
	return float64(shared) / float64(len(at))
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]{}")
		if len(tok) > 2 {
			out[tok] = true
		}
	}
	return out
}
