// Package engine drives one session through a full processing cycle:
// acknowledgement, iterative preparation (guideline matching plus tool
// calling), optional preamble, message generation, and detached
// post-processing.
//
// A cycle is bounded by a wall-clock budget and converges when an iteration
// produces no new tool calls and no new matches, or when the agent's
// iteration cap is hit. Message generation runs under a
// cancellation-suppression latch so a customer follow-up can never leave
// the session showing a typing indicator with no reply.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/parley/internal/compose"
	"github.com/haasonsaas/parley/internal/correlate"
	"github.com/haasonsaas/parley/internal/emitter"
	"github.com/haasonsaas/parley/internal/match"
	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/store"
	"github.com/haasonsaas/parley/internal/toolcall"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/pkg/models"
)

// DefaultTimeout bounds one processing cycle.
const DefaultTimeout = 57 * time.Second

// Stores are the persistence collaborators of the engine.
type Stores struct {
	Sessions     store.SessionStore
	Agents       store.AgentStore
	Customers    store.CustomerStore
	Guidelines   store.GuidelineStore
	Journeys     store.JourneyStore
	GuidelineTools store.GuidelineToolAssociations
	NodeTools    store.JourneyNodeToolAssociations
	Canned       store.CannedResponseStore
	Variables    store.ContextVariableStore
	Glossary     store.GlossaryStore
	Capabilities store.CapabilityStore
	Inspections  store.InspectionStore
}

// Config assembles an Engine.
type Config struct {
	Stores    Stores
	Registry  *tools.Registry
	Generator *nlp.Generator
	Hooks     Hooks
	Logger    *slog.Logger
	Metrics   *observability.Metrics

	// Timeout bounds one cycle; zero means DefaultTimeout.
	Timeout time.Duration

	// Sleep overrides pacing sleeps, for tests.
	Sleep compose.SleepFunc

	// NoMatch supplies the strict-mode fallback reply.
	NoMatch compose.NoMatchResponseProvider

	// MaxActiveJourneys caps how many journeys activate per cycle (default 3).
	MaxActiveJourneys int

	// MaxGlossaryTerms caps glossary refreshes (default 10).
	MaxGlossaryTerms int
}

// Engine runs processing cycles. Safe for concurrent use across sessions.
type Engine struct {
	stores    Stores
	registry  *tools.Registry
	generator *nlp.Generator
	matcher   *match.Matcher
	caller    *toolcall.Caller
	hooks     Hooks
	logger    *slog.Logger
	metrics   *observability.Metrics
	timeout   time.Duration
	sleep     compose.SleepFunc
	noMatch   compose.NoMatchResponseProvider

	maxActiveJourneys int
	maxGlossaryTerms  int

	// post tracks detached post-processing for orderly shutdown.
	post sync.WaitGroup
}

// New creates an engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = compose.Sleep
	}
	maxJourneys := cfg.MaxActiveJourneys
	if maxJourneys == 0 {
		maxJourneys = 3
	}
	maxTerms := cfg.MaxGlossaryTerms
	if maxTerms == 0 {
		maxTerms = 10
	}
	return &Engine{
		stores:    cfg.Stores,
		registry:  cfg.Registry,
		generator: cfg.Generator,
		matcher: match.NewMatcher(match.Config{
			Generator: cfg.Generator,
			Logger:    logger,
			Metrics:   cfg.Metrics,
		}),
		caller: toolcall.NewCaller(toolcall.CallerConfig{
			Registry:  cfg.Registry,
			Generator: cfg.Generator,
			Logger:    logger,
			Metrics:   cfg.Metrics,
		}),
		hooks:             cfg.Hooks,
		logger:            logger,
		metrics:           cfg.Metrics,
		timeout:           timeout,
		sleep:             sleep,
		noMatch:           cfg.NoMatch,
		maxActiveJourneys: maxJourneys,
		maxGlossaryTerms:  maxTerms,
	}
}

// LoadedContext is the per-cycle working set. It exists for one cycle and
// is discarded.
type LoadedContext struct {
	Session  *models.Session
	Agent    *models.Agent
	Customer *models.Customer

	Interaction  []models.Event
	Variables    []*models.ContextVariable
	Capabilities []*models.Capability
	Terms        []*models.Term

	CorrelationID string

	prep *prepState
}

// IterationRecord summarizes one preparation iteration for inspection.
type IterationRecord struct {
	MatchedGuidelineIDs []string            `json:"matched_guideline_ids"`
	ToolCalls           int                 `json:"tool_calls"`
	JourneyPathSteps    map[string]string   `json:"journey_path_steps,omitempty"`
}

// Wait blocks until all detached post-processing has finished. Used by
// shutdown and tests.
func (e *Engine) Wait() {
	e.post.Wait()
}

// Process runs one full cycle for a session. It returns true when the cycle
// reached terminal emission and false when it was cancelled first.
func (e *Engine) Process(ctx context.Context, sessionID, agentID string, em emitter.EventEmitter) (bool, error) {
	if correlate.FromContext(ctx) == "" {
		ctx = correlate.WithRoot(ctx, correlate.NewRootID())
	}
	ctx = correlate.WithScope(ctx, "process")
	correlationID := correlate.FromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "engine.Process", sessionID)
	defer span.End()

	start := time.Now()
	completed, err := e.process(ctx, sessionID, agentID, correlationID, em)

	outcome := "completed"
	switch {
	case err != nil:
		outcome = "error"
	case !completed:
		outcome = "cancelled"
	}
	if e.metrics != nil {
		e.metrics.CyclesTotal.WithLabelValues(outcome).Inc()
		e.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}
	return completed, err
}

func (e *Engine) process(ctx context.Context, sessionID, agentID, correlationID string, em emitter.EventEmitter) (bool, error) {
	lc, err := e.load(ctx, sessionID, agentID, correlationID)
	if err != nil {
		return false, err
	}
	if lc.Session.Mode == models.SessionManual {
		// A human drives this session; the engine stays silent.
		return true, nil
	}

	if bailed, err := e.lifecycleHook(ctx, e.hooks.OnAcknowledging, lc); bailed || err != nil {
		return false, err
	}
	if _, err := em.EmitStatus(ctx, correlationID, models.StatusEventData{Status: models.StatusAcknowledged}); err != nil {
		return false, err
	}
	if bailed, err := e.lifecycleHook(ctx, e.hooks.OnAcknowledged, lc); bailed || err != nil {
		return false, err
	}
	if bailed, err := e.lifecycleHook(ctx, e.hooks.OnPreparing, lc); bailed || err != nil {
		return false, err
	}

	if cancelled := e.prepare(ctx, lc, em); cancelled {
		e.emitCancelled(ctx, correlationID, em)
		return false, nil
	}

	if bailed, err := e.lifecycleHook(ctx, e.hooks.OnGeneratingMessages, lc); bailed || err != nil {
		return false, err
	}

	insights := mergedInsights(lc.prep)

	// Typing is the promise that a reply or an error follows; from here on
	// external cancellation is deferred.
	var (
		emitted int
		genErr  error
	)
	fnErr, cancelErr := withSuppressedCancellation(ctx, e.timeout, func(inner context.Context) error {
		if _, err := em.EmitStatus(inner, correlationID, models.StatusEventData{Status: models.StatusTyping}); err != nil {
			return err
		}
		emitted, genErr = e.generate(inner, lc, insights, em)
		return nil
	})
	if fnErr != nil {
		return false, fnErr
	}
	if genErr != nil {
		e.logger.ErrorContext(ctx, "message generation failed",
			"session_id", sessionID, "error", genErr)
		e.emitError(ctx, correlationID, em, genErr)
		return false, nil
	}
	if emitted == 0 {
		// Nothing to say still ends the cycle with a terminal ready.
		if _, err := em.EmitStatus(context.WithoutCancel(ctx), correlationID, models.StatusEventData{Status: models.StatusReady}); err != nil {
			return false, err
		}
	}

	e.postProcess(context.WithoutCancel(ctx), lc)

	// A cancellation that arrived while the latch was held is moot now:
	// the reply is out.
	_ = cancelErr
	return true, nil
}

func (e *Engine) load(ctx context.Context, sessionID, agentID, correlationID string) (*LoadedContext, error) {
	session, err := e.stores.Sessions.ReadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	agent, err := e.stores.Agents.ReadAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	customer, err := e.stores.Customers.ReadCustomer(ctx, session.CustomerID)
	if err != nil {
		return nil, err
	}
	interaction, err := e.stores.Sessions.ListEventsSince(ctx, sessionID, 0, store.EventFilter{})
	if err != nil {
		return nil, err
	}
	variables, err := e.stores.Variables.ReadVariables(ctx, agentID, session.CustomerID)
	if err != nil {
		return nil, err
	}
	capabilities, err := e.stores.Capabilities.FindCapabilities(ctx, agentID)
	if err != nil {
		return nil, err
	}

	return &LoadedContext{
		Session:       session,
		Agent:         agent,
		Customer:      customer,
		Interaction:   interaction,
		Variables:     variables,
		Capabilities:  capabilities,
		CorrelationID: correlationID,
	}, nil
}

// lifecycleHook runs a cycle-level hook; a Bail ends the cycle.
func (e *Engine) lifecycleHook(ctx context.Context, h Hook, lc *LoadedContext) (bool, error) {
	result, err := h.run(ctx, lc)
	if err != nil {
		return false, err
	}
	return result == Bail, nil
}

// generate composes the reply and emits it in paced chunks. Returns how
// many chunks went out.
func (e *Engine) generate(ctx context.Context, lc *LoadedContext, insights models.ToolInsights, em emitter.EventEmitter) (int, error) {
	cc := &compose.Context{
		Agent:              lc.Agent,
		Customer:           lc.Customer,
		Session:            lc.Session,
		Interaction:        lc.Interaction,
		Terms:              lc.Terms,
		Variables:          lc.Variables,
		Capabilities:       lc.Capabilities,
		OrdinaryMatches:    lc.prep.ordinary,
		ToolEnabledMatches: lc.prep.toolEnabled,
		StagedToolEvents:   lc.prep.toolEvents,
		Insights:           insights,
		ActiveJourneys:     lc.prep.activeJourneys,
	}

	generator, err := compose.ForMode(lc.Agent.CompositionMode, e.generator, &compose.CannedDeps{
		Store:   e.stores.Canned,
		NoMatch: e.noMatch,
	})
	if err != nil {
		return 0, err
	}

	ctx = correlate.WithScope(ctx, "message_composer")
	result, err := generator.Generate(ctx, cc)
	lc.prep.generations = append(lc.prep.generations, result.Generations...)
	if err != nil {
		return 0, err
	}
	if !result.Produced {
		return 0, nil
	}

	var hook compose.ChunkHook
	if e.hooks.OnMessageGenerated != nil {
		hook = func(ctx context.Context, chunk string) (bool, error) {
			res, err := e.hooks.OnMessageGenerated(ctx, lc, chunk)
			if err != nil {
				return false, err
			}
			return res == Continue, nil
		}
	}
	return compose.EmitPaced(ctx, em, result.Message, hook, e.sleep)
}

// postProcess persists the cycle record and the new agent state off the
// critical path. Failures are logged, never surfaced to the customer.
func (e *Engine) postProcess(ctx context.Context, lc *LoadedContext) {
	e.post.Add(1)
	go func() {
		defer e.post.Done()

		if err := e.saveInspection(ctx, lc); err != nil {
			e.logger.WarnContext(ctx, "inspection save failed",
				"session_id", lc.Session.ID, "error", err)
		}

		applied := e.analyzeReply(ctx, lc)

		state := models.AgentState{
			CorrelationID:       lc.CorrelationID,
			AppliedGuidelineIDs: appendApplied(lc.Session.LatestAgentState().AppliedGuidelineIDs, applied),
			JourneyPaths:        lc.prep.journeyPaths,
			CreatedAt:           time.Now().UTC(),
		}
		if err := e.stores.Sessions.AppendAgentState(ctx, lc.Session.ID, state); err != nil {
			e.logger.WarnContext(ctx, "agent state append failed",
				"session_id", lc.Session.ID, "error", err)
		}

		if _, err := e.hooks.OnMessagesEmitted.run(ctx, lc); err != nil {
			e.logger.WarnContext(ctx, "messages-emitted hook failed",
				"session_id", lc.Session.ID, "error", err)
		}
	}()
}

func (e *Engine) analyzeReply(ctx context.Context, lc *LoadedContext) []string {
	events, err := e.stores.Sessions.ListEventsSince(ctx, lc.Session.ID, 0, store.EventFilter{})
	if err != nil {
		e.logger.WarnContext(ctx, "response analysis load failed", "error", err)
		return nil
	}
	reply, ok := nlp.LastAgentMessage(events)
	if !ok {
		return nil
	}

	mc := e.matchingContext(lc)
	applied, generations, err := match.AnalyzeResponse(ctx, e.generator, mc, lc.prep.allMatches(), reply.Message)
	lc.prep.generations = append(lc.prep.generations, generations...)
	if err != nil {
		e.logger.WarnContext(ctx, "response analysis failed",
			"session_id", lc.Session.ID, "error", err)
		return nil
	}
	return applied
}

func (e *Engine) saveInspection(ctx context.Context, lc *LoadedContext) error {
	iterations, err := json.Marshal(lc.prep.records)
	if err != nil {
		return err
	}
	generations, err := json.Marshal(lc.prep.generations)
	if err != nil {
		return err
	}
	total := 0
	for _, g := range lc.prep.generations {
		total += g.Tokens()
	}
	return e.stores.Inspections.SaveInspection(ctx, store.Inspection{
		SessionID:     lc.Session.ID,
		CorrelationID: lc.CorrelationID,
		Iterations:    iterations,
		Generations:   generations,
		TotalTokens:   total,
	})
}

func (e *Engine) emitCancelled(ctx context.Context, correlationID string, em emitter.EventEmitter) {
	detached := context.WithoutCancel(ctx)
	if _, err := em.EmitStatus(detached, correlationID, models.StatusEventData{Status: models.StatusCancelled}); err != nil {
		e.logger.WarnContext(detached, "cancelled status emission failed", "error", err)
	}
}

func (e *Engine) emitError(ctx context.Context, correlationID string, em emitter.EventEmitter, cause error) {
	detached := context.WithoutCancel(ctx)
	if _, err := em.EmitStatus(detached, correlationID, models.StatusEventData{
		Status: models.StatusError,
		Data:   models.StatusEventInfo{Exception: cause.Error()},
	}); err != nil {
		e.logger.WarnContext(detached, "error status emission failed", "error", err)
	}
}

// mergedInsights reapplies the precedence filter across all iterations.
func mergedInsights(p *prepState) models.ToolInsights {
	var problems []models.ProblematicParameter
	problems = append(problems, p.insights.MissingData...)
	problems = append(problems, p.insights.InvalidData...)
	return toolcall.FilterInsights(problems)
}

// appendApplied extends the accumulated applied set, preserving prior order.
func appendApplied(prior, newIDs []string) []string {
	seen := make(map[string]bool, len(prior))
	out := make([]string, 0, len(prior)+len(newIDs))
	for _, id := range prior {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range newIDs {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// isCancellation reports a context-cancellation error.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
