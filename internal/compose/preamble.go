package compose

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/haasonsaas/parley/internal/correlate"
	"github.com/haasonsaas/parley/internal/emitter"
	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/internal/store"
	"github.com/haasonsaas/parley/pkg/models"
)

// longWait is the wait time above which customers are assumed to expect
// another bridging message.
const longWait = 5 * time.Second

// PreambleRequired is the perceived-performance policy. A preamble runs
// only on the first iteration (the caller checks that), only if the last
// agent message was not itself a preamble, and only while the customer has
// not already sat through several quick waits. Long recent waits re-enable
// it.
func PreambleRequired(interaction []models.Event, previousWaitTimes []time.Duration) bool {
	if last, ok := nlp.LastAgentMessage(interaction); ok && last.HasTag(models.TagPreamble) {
		return false
	}
	if len(previousWaitTimes) <= 2 {
		return true
	}
	lastTwo := previousWaitTimes[len(previousWaitTimes)-2:]
	return lastTwo[0] >= longWait && lastTwo[1] >= longWait
}

// SleepFunc pauses for d or returns early with the context's error.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// preambleResponse is the model's bridging phrase.
type preambleResponse struct {
	Message string `json:"message"`
}

type preambleChoiceResponse struct {
	SelectedNumber int `json:"selected_number"`
}

// Preambler emits the optional bridging message that masks first-iteration
// latency.
type Preambler struct {
	mode      models.CompositionMode
	generator *nlp.Generator
	store     store.CannedResponseStore
	renderer  *Renderer

	sleep     SleepFunc
	randFloat func() float64
}

// NewPreambler creates a preambler. store may be nil outside strict mode.
func NewPreambler(mode models.CompositionMode, generator *nlp.Generator, s store.CannedResponseStore) *Preambler {
	return &Preambler{
		mode:      mode,
		generator: generator,
		store:     s,
		renderer:  NewRenderer(),
		sleep:     Sleep,
		randFloat: rand.Float64,
	}
}

// Run waits briefly, emits at most one preamble-tagged message, waits again,
// then emits the first processing status. Returns whether a message was
// emitted.
func (p *Preambler) Run(ctx context.Context, cc *Context, em emitter.EventEmitter) (bool, []models.GenerationInfo, error) {
	ctx = correlate.WithScope(ctx, "preamble")
	correlationID := correlate.FromContext(ctx)

	if err := p.sleep(ctx, p.uniform(1500, 2000)); err != nil {
		return false, nil, err
	}

	text, generations, err := p.generate(ctx, cc)
	if err != nil {
		return false, generations, err
	}

	emitted := false
	if text != "" {
		if _, err := em.EmitMessage(ctx, correlationID, models.MessageEventData{
			Message:     text,
			Participant: cc.Participant(),
			Tags:        []string{models.TagPreamble},
		}); err != nil {
			return false, generations, err
		}
		emitted = true
	}

	if err := p.sleep(ctx, p.uniform(500, 1500)); err != nil {
		return emitted, generations, err
	}

	if _, err := em.EmitStatus(ctx, correlationID, models.StatusEventData{
		Status: models.StatusProcessing,
		Data:   models.StatusEventInfo{Stage: "Interpreting"},
	}); err != nil {
		return emitted, generations, err
	}
	return emitted, generations, nil
}

func (p *Preambler) generate(ctx context.Context, cc *Context) (string, []models.GenerationInfo, error) {
	if p.mode == models.CompositionCannedStrict {
		return p.pickCannedPreamble(ctx, cc)
	}

	b := nlp.NewPromptBuilder()
	b.AddSectionf("agent-identity", "You are %s, an AI agent speaking with a customer.", cc.Agent.Name)
	b.AddSection("task",
		"Write one very short bridging phrase acknowledging the customer's last message while you work on the real answer. No substance, no questions, under ten words.")
	b.AddSection("exemplars",
		`Register examples: "Let me check that for you.", "One moment.", "Good question, looking into it now."`)
	b.AddSectionf("interaction", "The conversation so far:\n%s", cc.Transcript())
	b.AddSection("output", `Return JSON: {"message": "<the phrase>"}.`)

	response, info, err := nlp.Generate[preambleResponse](ctx, p.generator, "preamble_generation", b.Build(), nlp.Hints{})
	generations := []models.GenerationInfo{info}
	if err != nil {
		return "", generations, fmt.Errorf("preamble generation: %w", err)
	}
	return strings.TrimSpace(response.Message), generations, nil
}

// pickCannedPreamble renders the preamble-tagged templates, shuffles them,
// and has the model pick one verbatim.
func (p *Preambler) pickCannedPreamble(ctx context.Context, cc *Context) (string, []models.GenerationInfo, error) {
	if p.store == nil {
		return "", nil, nil
	}
	templates, err := p.store.ListByTag(ctx, models.TagPreamble)
	if err != nil {
		return "", nil, fmt.Errorf("list preamble templates: %w", err)
	}

	var rendered []string
	for _, t := range templates {
		values := map[string]any{}
		ok := true
		for _, field := range t.TemplateFields() {
			v, found := resolveStandardField(cc, field)
			if !found {
				ok = false
				break
			}
			values[field] = v
		}
		if !ok {
			continue
		}
		text, err := p.renderer.Render(t.Template, values)
		if err != nil {
			continue
		}
		rendered = append(rendered, text)
	}
	if len(rendered) == 0 {
		return "", nil, nil
	}

	rand.Shuffle(len(rendered), func(i, j int) {
		rendered[i], rendered[j] = rendered[j], rendered[i]
	})

	b := nlp.NewPromptBuilder()
	b.AddSectionf("agent-identity", "You are %s, an AI agent speaking with a customer.", cc.Agent.Name)
	b.AddSection("task", "Pick the numbered phrase that fits best as a brief acknowledgement of the customer's last message. You must pick one of them exactly as written.")
	var sb strings.Builder
	for i, text := range rendered {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, text)
	}
	b.AddSectionf("candidates", "Phrases:\n%s", sb.String())
	b.AddSectionf("interaction", "The conversation so far:\n%s", cc.Transcript())
	b.AddSection("output", `Return JSON: {"selected_number": <n>}.`)

	choice, info, err := nlp.Generate[preambleChoiceResponse](ctx, p.generator, "preamble_selection", b.Build(), nlp.Hints{})
	generations := []models.GenerationInfo{info}
	if err != nil {
		return "", generations, fmt.Errorf("preamble selection: %w", err)
	}
	idx := choice.SelectedNumber - 1
	if idx < 0 || idx >= len(rendered) {
		idx = 0
	}
	return rendered[idx], generations, nil
}

// uniform returns a random duration between lo and hi milliseconds.
func (p *Preambler) uniform(lo, hi int) time.Duration {
	ms := float64(lo) + p.randFloat()*float64(hi-lo)
	return time.Duration(ms) * time.Millisecond
}
