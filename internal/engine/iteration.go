package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/parley/internal/compose"
	"github.com/haasonsaas/parley/internal/emitter"
	"github.com/haasonsaas/parley/internal/match"
	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/internal/toolcall"
	"github.com/haasonsaas/parley/pkg/models"
)

// prepState accumulates across preparation iterations.
type prepState struct {
	guidelines     []*models.Guideline
	assoc          map[string][]models.ToolID
	activeJourneys []*models.Journey

	matched     map[string]bool
	ordinary    []models.GuidelineMatch
	toolEnabled []models.GuidelineMatch

	toolEvents []models.ToolEventData
	insights   models.ToolInsights

	journeyPaths map[string][]string

	generations []models.GenerationInfo
	records     []IterationRecord

	modeChange models.SessionMode
}

func (p *prepState) allMatches() []models.GuidelineMatch {
	out := make([]models.GuidelineMatch, 0, len(p.ordinary)+len(p.toolEnabled))
	out = append(out, p.ordinary...)
	out = append(out, p.toolEnabled...)
	return out
}

// iterationOutcome is what the convergence rule looks at.
type iterationOutcome struct {
	newMatches    int
	newToolEvents int
}

func (e *Engine) matchingContext(lc *LoadedContext) *match.Context {
	return &match.Context{
		Agent:            lc.Agent,
		Customer:         lc.Customer,
		Session:          lc.Session,
		Interaction:      lc.Interaction,
		Terms:            lc.Terms,
		Variables:        lc.Variables,
		StagedToolEvents: lc.prep.toolEvents,
		Applied:          lc.Session.AppliedGuidelineSet(),
		JourneyPaths:     lc.prep.journeyPaths,
	}
}

// prepare runs the preparation loop. Returns true when the cycle was
// cancelled before it could converge. Non-cancellation iteration errors are
// logged and the engine proceeds to generation with whatever it has.
func (e *Engine) prepare(ctx context.Context, lc *LoadedContext, em emitter.EventEmitter) bool {
	state := lc.Session.LatestAgentState()
	lc.prep = &prepState{
		matched:      map[string]bool{},
		journeyPaths: clonePaths(state.JourneyPaths),
	}

	limit := lc.Agent.IterationLimit()
	for i := 0; i < limit; i++ {
		var preambleDone chan preambleResult
		if i == 0 && compose.PreambleRequired(lc.Interaction, previousWaitTimes(lc.Interaction)) {
			preambleDone = make(chan preambleResult, 1)
			go func() {
				cc := &compose.Context{
					Agent:       lc.Agent,
					Customer:    lc.Customer,
					Session:     lc.Session,
					Interaction: lc.Interaction,
				}
				p := compose.NewPreambler(lc.Agent.CompositionMode, e.generator, e.stores.Canned)
				_, generations, err := p.Run(ctx, cc, em)
				preambleDone <- preambleResult{generations: generations, err: err}
			}()
		}

		if result, err := e.hooks.OnPreparationIterationStart.run(ctx, lc); err != nil || result == Bail {
			if err != nil {
				e.logger.WarnContext(ctx, "iteration start hook failed", "error", err)
			}
			e.awaitPreamble(ctx, lc, preambleDone)
			break
		}

		outcome, err := e.runIteration(ctx, lc, i, em)
		if err != nil {
			if isCancellation(err) || ctx.Err() != nil {
				e.awaitPreamble(ctx, lc, preambleDone)
				return true
			}
			e.logger.WarnContext(ctx, "preparation iteration failed",
				"session_id", lc.Session.ID, "iteration", i, "error", err)
			e.awaitPreamble(ctx, lc, preambleDone)
			break
		}

		if preambleDone != nil {
			if err := e.awaitPreamble(ctx, lc, preambleDone); err != nil {
				if isCancellation(err) {
					return true
				}
				e.logger.WarnContext(ctx, "preamble failed", "error", err)
			}
		}

		if lc.prep.modeChange != "" {
			if err := e.stores.Sessions.UpdateSessionMode(ctx, lc.Session.ID, lc.prep.modeChange); err != nil {
				e.logger.WarnContext(ctx, "session mode update failed", "error", err)
			}
			lc.Session.Mode = lc.prep.modeChange
			lc.prep.modeChange = ""
		}

		if result, err := e.hooks.OnPreparationIterationEnd.run(ctx, lc); err != nil || result == Bail {
			if err != nil {
				e.logger.WarnContext(ctx, "iteration end hook failed", "error", err)
			}
			break
		}

		if outcome.newMatches == 0 && outcome.newToolEvents == 0 {
			break
		}
	}

	if e.metrics != nil {
		e.metrics.PreparationIterations.Observe(float64(len(lc.prep.records)))
	}
	return ctx.Err() != nil
}

type preambleResult struct {
	generations []models.GenerationInfo
	err         error
}

func (e *Engine) awaitPreamble(ctx context.Context, lc *LoadedContext, done chan preambleResult) error {
	if done == nil {
		return nil
	}
	select {
	case result := <-done:
		lc.prep.generations = append(lc.prep.generations, result.generations...)
		return result.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runIteration performs one preparation iteration. Iteration 0 loads the
// full guideline and journey working set; later iterations only evaluate
// guidelines not yet matched, in the light of the new tool events.
func (e *Engine) runIteration(ctx context.Context, lc *LoadedContext, iteration int, em emitter.EventEmitter) (iterationOutcome, error) {
	outcome := iterationOutcome{}
	p := lc.prep
	query := nlp.LastCustomerMessage(lc.Interaction)

	if iteration == 0 {
		if err := e.loadWorkingSet(ctx, lc, query); err != nil {
			return outcome, err
		}
	}

	// Candidates are the guidelines not matched in earlier iterations.
	var candidates []*models.Guideline
	for _, g := range p.guidelines {
		if !p.matched[g.ID] {
			candidates = append(candidates, g)
		}
	}

	result, err := e.matcher.Match(ctx, e.matchingContext(lc), p.activeJourneys, candidates)
	p.generations = append(p.generations, result.Generations...)
	if err != nil {
		return outcome, err
	}

	record := IterationRecord{JourneyPathSteps: map[string]string{}}
	var newToolEnabled []models.GuidelineMatch
	for _, m := range result.Matches {
		p.matched[m.Guideline.ID] = true
		record.MatchedGuidelineIDs = append(record.MatchedGuidelineIDs, m.Guideline.ID)
		outcome.newMatches++

		if len(e.enabledTools(ctx, lc, m.Guideline)) > 0 {
			p.toolEnabled = append(p.toolEnabled, m)
			newToolEnabled = append(newToolEnabled, m)
		} else {
			p.ordinary = append(p.ordinary, m)
		}
	}

	e.refreshGlossary(ctx, lc, query)

	if len(newToolEnabled) > 0 {
		callResult, err := e.caller.CallTools(ctx, e.matchingContext(lc), e.candidates(ctx, lc, newToolEnabled), em)
		p.generations = append(p.generations, callResult.Generations...)
		if err != nil {
			return outcome, err
		}
		p.toolEvents = append(p.toolEvents, callResult.Events...)
		p.insights.MissingData = append(p.insights.MissingData, callResult.Insights.MissingData...)
		p.insights.InvalidData = append(p.insights.InvalidData, callResult.Insights.InvalidData...)
		outcome.newToolEvents = len(callResult.Events)
		record.ToolCalls = len(callResult.Events)

		e.applyControlDirectives(callResult.Events, p)
		e.refreshGlossary(ctx, lc, query)
	}

	// Extend each active journey's path with this iteration's selected
	// step, or an empty marker when none matched.
	for _, journey := range p.activeJourneys {
		step := ""
		for _, m := range result.Matches {
			if desc := m.Guideline.Metadata.JourneyNode; desc != nil && desc.JourneyID == journey.ID {
				step = m.Guideline.ID
				break
			}
		}
		p.journeyPaths[journey.ID] = append(p.journeyPaths[journey.ID], step)
		record.JourneyPathSteps[journey.ID] = step
	}

	p.records = append(p.records, record)
	return outcome, nil
}

// loadWorkingSet assembles the iteration-0 guideline and journey state.
func (e *Engine) loadWorkingSet(ctx context.Context, lc *LoadedContext, query string) error {
	p := lc.prep

	guidelines, err := e.stores.Guidelines.ListGuidelines(ctx, lc.Agent.Tags)
	if err != nil {
		return err
	}

	all, err := e.stores.Journeys.ListJourneys(ctx, lc.Agent.Tags)
	if err != nil {
		return err
	}
	active, err := e.stores.Journeys.FindRelevant(ctx, query, all, e.maxActiveJourneys)
	if err != nil {
		return err
	}
	p.activeJourneys = active

	for _, journey := range active {
		guidelines = append(guidelines, match.ProjectJourney(journey)...)
	}
	p.guidelines = guidelines

	assoc, err := e.stores.GuidelineTools.FindAll(ctx)
	if err != nil {
		return err
	}
	p.assoc = assoc

	e.refreshGlossary(ctx, lc, query)
	return nil
}

func (e *Engine) refreshGlossary(ctx context.Context, lc *LoadedContext, query string) {
	terms, err := e.stores.Glossary.FindRelevant(ctx, query, e.maxGlossaryTerms)
	if err != nil {
		e.logger.WarnContext(ctx, "glossary refresh failed", "error", err)
		return
	}
	lc.Terms = terms
}

// enabledTools returns the tool ids a matched guideline enables: exact-id
// associations plus, for journey nodes, the node's own tools.
func (e *Engine) enabledTools(ctx context.Context, lc *LoadedContext, g *models.Guideline) []models.ToolID {
	out := append([]models.ToolID(nil), lc.prep.assoc[g.ID]...)
	if desc := g.Metadata.JourneyNode; desc != nil {
		for _, journey := range lc.prep.activeJourneys {
			if journey.ID == desc.JourneyID {
				out = append(out, match.NodeTools(journey, g)...)
			}
		}
		if e.stores.NodeTools != nil {
			if ids, err := e.stores.NodeTools.FindForNode(ctx, desc.NodeID); err == nil {
				out = append(out, ids...)
			}
		}
	}
	return dedupeToolIDs(out)
}

// candidates groups tool-enabled matches by tool for the caller.
func (e *Engine) candidates(ctx context.Context, lc *LoadedContext, matches []models.GuidelineMatch) []toolcall.Candidate {
	byTool := map[models.ToolID][]models.GuidelineMatch{}
	var order []models.ToolID
	for _, m := range matches {
		for _, id := range e.enabledTools(ctx, lc, m.Guideline) {
			if _, seen := byTool[id]; !seen {
				order = append(order, id)
			}
			byTool[id] = append(byTool[id], m)
		}
	}

	var out []toolcall.Candidate
	for _, id := range order {
		tool, ok := e.registry.Resolve(id)
		if !ok {
			e.logger.WarnContext(ctx, "associated tool not registered", "tool_id", id.String())
			continue
		}
		out = append(out, toolcall.Candidate{Tool: tool, Matches: byTool[id]})
	}
	return out
}

// applyControlDirectives picks up mode-change requests carried in tool
// result payloads: {"control": {"mode": "manual"}}.
func (e *Engine) applyControlDirectives(events []models.ToolEventData, p *prepState) {
	type control struct {
		Control struct {
			Mode string `json:"mode"`
		} `json:"control"`
	}
	for _, ev := range events {
		for _, call := range ev.ToolCalls {
			if len(call.Result.Data) == 0 {
				continue
			}
			var c control
			if err := json.Unmarshal(call.Result.Data, &c); err != nil {
				continue
			}
			switch models.SessionMode(c.Control.Mode) {
			case models.SessionManual, models.SessionAuto:
				p.modeChange = models.SessionMode(c.Control.Mode)
			}
		}
	}
}

func clonePaths(paths map[string][]string) map[string][]string {
	out := make(map[string][]string, len(paths))
	for id, path := range paths {
		out[id] = append([]string(nil), path...)
	}
	return out
}

func dedupeToolIDs(ids []models.ToolID) []models.ToolID {
	seen := map[models.ToolID]bool{}
	var out []models.ToolID
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// previousWaitTimes measures, for each past customer message that got an
// agent reply, how long the customer waited. Feeds the preamble policy.
func previousWaitTimes(interaction []models.Event) []time.Duration {
	var waits []time.Duration
	var pending *time.Time
	for _, ev := range interaction {
		if ev.Kind != models.EventMessage {
			continue
		}
		switch ev.Source {
		case models.SourceCustomer:
			t := ev.CreatedAt
			pending = &t
		case models.SourceAIAgent:
			if pending != nil {
				waits = append(waits, ev.CreatedAt.Sub(*pending))
				pending = nil
			}
		}
	}
	return waits
}
