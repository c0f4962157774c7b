// Package toolcall turns tool-enabled guideline matches into executed tool
// calls.
//
// For each candidate tool one LLM call decides applicability and evaluates
// arguments; applicable calls with complete arguments then execute in
// parallel, each with its own transient-failure retries. Parameters the
// conversation could not supply become insights the message generator uses
// to ask the customer instead of guessing.
package toolcall

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/parley/internal/correlate"
	"github.com/haasonsaas/parley/internal/emitter"
	"github.com/haasonsaas/parley/internal/match"
	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/retry"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/pkg/models"
)

// Candidate pairs a callable tool with the guideline matches that enabled it.
type Candidate struct {
	Tool    models.Tool
	Matches []models.GuidelineMatch
}

// Result is the outcome of one CallTools pass.
type Result struct {
	// Events are the tool events emitted this pass, in candidate order.
	Events []models.ToolEventData

	// Insights record required parameters the conversation could not
	// supply.
	Insights models.ToolInsights

	Generations []models.GenerationInfo
}

// Caller infers and executes tool calls.
type Caller struct {
	registry  *tools.Registry
	generator *nlp.Generator
	logger    *slog.Logger
	metrics   *observability.Metrics
	retry     retry.Config
}

// CallerConfig assembles a Caller's collaborators.
type CallerConfig struct {
	Registry  *tools.Registry
	Generator *nlp.Generator
	Logger    *slog.Logger
	Metrics   *observability.Metrics

	// Retry overrides the execution retry policy; zero value means
	// retry.DefaultConfig().
	Retry retry.Config
}

// NewCaller creates a tool caller.
func NewCaller(cfg CallerConfig) *Caller {
	rc := cfg.Retry
	if rc.MaxAttempts == 0 {
		rc = retry.DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	return &Caller{
		registry:  cfg.Registry,
		generator: cfg.Generator,
		logger:    logger,
		metrics:   cfg.Metrics,
		retry:     rc,
	}
}

type inferred struct {
	candidate Candidate
	response  inferenceResponse
}

// plannedCall is one executable invocation carved out of an inference
// response.
type plannedCall struct {
	candidate Candidate
	call      inferenceCall
}

// CallTools runs one inference-and-execution pass over the candidate tools.
// A "Fetching data" processing status precedes execution when at least one
// call runs; each invoked call yields one tool event. Inference or execution
// failure of one tool never blocks the others.
func (c *Caller) CallTools(ctx context.Context, mc *match.Context, candidates []Candidate, em emitter.EventEmitter) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, nil
	}

	ctx = correlate.WithScope(ctx, "tool_caller")
	ctx, span := observability.StartSpan(ctx, "toolcall.CallTools", mc.Session.ID)
	defer span.End()
	correlationID := correlate.FromContext(ctx)

	// Infer all candidates concurrently.
	var (
		mu          sync.Mutex
		generations []models.GenerationInfo
	)
	inferredByIdx := make([]*inferred, len(candidates))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, candidate := range candidates {
		eg.Go(func() error {
			response, info, err := inferCall(egCtx, c.generator, mc, candidate)

			mu.Lock()
			defer mu.Unlock()
			generations = append(generations, info)
			if c.metrics != nil {
				c.metrics.ObserveGeneration(info.SchemaName, info.Duration.Seconds(), info.InputTokens, info.OutputTokens)
			}
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				c.logger.WarnContext(egCtx, "tool call inference failed",
					"tool_id", candidate.Tool.ID.String(), "error", err)
				return nil
			}
			inferredByIdx[i] = &inferred{candidate: candidate, response: response}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Result{Generations: generations}, err
	}

	// Partition each inferred invocation into executable calls and insights.
	var (
		executable []plannedCall
		problems   []models.ProblematicParameter
	)
	for _, inf := range inferredByIdx {
		if inf == nil {
			continue
		}
		for _, call := range inf.response.Calls {
			if !call.IsApplicable || call.SameCallAlreadyStaged {
				if c.metrics != nil {
					c.metrics.ToolExecutions.WithLabelValues(inf.candidate.Tool.ID.String(), "skipped").Inc()
				}
				continue
			}

			runnable := true
			for _, eval := range call.ArgumentEvaluations {
				state := models.ArgumentState(eval.State)
				if state == models.ArgumentValid {
					continue
				}
				// A missing optional parameter is ignorable; an invalid
				// value always blocks the call, the customer must correct
				// it first.
				if state == models.ArgumentMissing && !inf.candidate.Tool.IsRequired(eval.Parameter) {
					continue
				}
				runnable = false
				problems = append(problems, models.ProblematicParameter{
					ToolID:    inf.candidate.Tool.ID,
					Parameter: eval.Parameter,
					State:     state,
					Rationale: eval.Rationale,
				})
			}
			if runnable {
				executable = append(executable, plannedCall{candidate: inf.candidate, call: call})
			}
		}
	}

	result := Result{
		Insights:    FilterInsights(problems),
		Generations: generations,
	}
	if len(executable) == 0 {
		return result, nil
	}

	if _, err := em.EmitStatus(ctx, correlationID, models.StatusEventData{
		Status: models.StatusProcessing,
		Data:   models.StatusEventInfo{Stage: "Fetching data"},
	}); err != nil {
		return result, err
	}

	// Execute independent calls in parallel; each outcome becomes one tool
	// event regardless of success.
	records := make([]models.ToolCallRecord, len(executable))
	run, runCtx := errgroup.WithContext(ctx)
	for i, planned := range executable {
		run.Go(func() error {
			records[i] = c.execute(runCtx, planned)
			return nil
		})
	}
	if err := run.Wait(); err != nil {
		return result, err
	}

	for _, record := range records {
		data := models.ToolEventData{ToolCalls: []models.ToolCallRecord{record}}
		if _, err := em.EmitTool(ctx, correlationID, data); err != nil {
			return result, err
		}
		result.Events = append(result.Events, data)
	}
	return result, nil
}

func (c *Caller) execute(ctx context.Context, planned plannedCall) models.ToolCallRecord {
	id := planned.candidate.Tool.ID
	args := planned.call.arguments()

	toolResult, res := retry.DoWithValue(ctx, c.retry, func() (models.ToolResult, error) {
		return c.registry.Execute(ctx, id, args)
	})
	if res.Err != nil {
		c.logger.ErrorContext(ctx, "tool execution failed",
			"tool_id", id.String(), "attempts", res.Attempts, "error", res.Err)
		if c.metrics != nil {
			c.metrics.ToolExecutions.WithLabelValues(id.String(), "error").Inc()
		}
		toolResult = models.ToolResult{Error: res.Err.Error()}
	} else if c.metrics != nil {
		c.metrics.ToolExecutions.WithLabelValues(id.String(), "success").Inc()
	}

	return models.ToolCallRecord{
		ToolID:    id.String(),
		Arguments: args,
		Result:    toolResult,
	}
}

// FilterInsights deduplicates problems per (tool, parameter). A missing
// report beats an invalid one for the same parameter; within a state the
// first report wins. The engine reapplies it when merging insights across
// preparation iterations.
func FilterInsights(problems []models.ProblematicParameter) models.ToolInsights {
	type key struct {
		toolID    string
		parameter string
	}
	seen := map[key]models.ArgumentState{}
	var insights models.ToolInsights

	for _, state := range []models.ArgumentState{models.ArgumentMissing, models.ArgumentInvalid} {
		for _, p := range problems {
			if p.State != state {
				continue
			}
			k := key{toolID: p.ToolID.String(), parameter: p.Parameter}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = state
			switch state {
			case models.ArgumentMissing:
				insights.MissingData = append(insights.MissingData, p)
			case models.ArgumentInvalid:
				insights.InvalidData = append(insights.InvalidData, p)
			}
		}
	}
	return insights
}
