package match

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/parley/internal/correlate"
	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/pkg/models"
)

// Matcher evaluates which guidelines apply to the current turn.
type Matcher struct {
	generator *nlp.Generator
	resolver  *StrategyResolver
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// Config assembles a Matcher's collaborators.
type Config struct {
	Generator *nlp.Generator
	Logger    *slog.Logger
	Metrics   *observability.Metrics

	// Resolver may be preconfigured with overrides; when nil a resolver
	// with only the generic strategy is used.
	Resolver *StrategyResolver
}

// NewMatcher creates a matcher.
func NewMatcher(cfg Config) *Matcher {
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewStrategyResolver(NewGenericStrategy(cfg.Generator))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	return &Matcher{
		generator: cfg.Generator,
		resolver:  resolver,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

// Match evaluates the guidelines against the context. Batches run
// concurrently; a failed batch (after its internal retries) is logged and
// contributes no matches rather than failing the turn. Matches come back in
// input order.
func (m *Matcher) Match(ctx context.Context, mc *Context, activeJourneys []*models.Journey, guidelines []*models.Guideline) (MatchingResult, error) {
	start := time.Now()
	if len(guidelines) == 0 {
		return MatchingResult{}, nil
	}

	ctx = correlate.WithScope(ctx, "guideline_matcher")
	ctx, span := observability.StartSpan(ctx, "match.Match", mc.Session.ID)
	defer span.End()

	inputOrder := make(map[string]int, len(guidelines))
	for i, g := range guidelines {
		inputOrder[g.ID] = i
	}

	// Group guidelines by resolved strategy, preserving first-seen
	// strategy order.
	type strategyGroup struct {
		strategy   Strategy
		guidelines []*models.Guideline
	}
	var groups []*strategyGroup
	byName := map[string]*strategyGroup{}
	for _, g := range guidelines {
		strategy := m.resolver.Resolve(g)
		group, ok := byName[strategy.Name()]
		if !ok {
			group = &strategyGroup{strategy: strategy}
			byName[strategy.Name()] = group
			groups = append(groups, group)
		}
		group.guidelines = append(group.guidelines, g)
	}

	// Create batches per strategy concurrently.
	batchesByGroup := make([][]Batch, len(groups))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, group := range groups {
		eg.Go(func() error {
			batches, err := group.strategy.CreateBatches(egCtx, group.guidelines, mc, activeJourneys)
			if err != nil {
				return err
			}
			batchesByGroup[i] = batches
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return MatchingResult{}, err
	}

	// Run all batches concurrently; merge deterministically on join.
	var (
		mu          sync.Mutex
		generations []models.GenerationInfo
	)
	matchesByGroup := make([][]models.GuidelineMatch, len(groups))

	runGroup, runCtx := errgroup.WithContext(ctx)
	for i, batches := range batchesByGroup {
		for _, batch := range batches {
			runGroup.Go(func() error {
				result, err := batch.Process(runCtx)

				mu.Lock()
				defer mu.Unlock()
				generations = append(generations, result.Info)
				if m.metrics != nil {
					m.metrics.ObserveGeneration(result.Info.SchemaName, result.Info.Duration.Seconds(), result.Info.InputTokens, result.Info.OutputTokens)
				}
				if err != nil {
					if runCtx.Err() != nil {
						return runCtx.Err()
					}
					m.logger.WarnContext(runCtx, "guideline batch failed",
						"batch_kind", batch.Kind(), "error", err)
					return nil
				}
				matchesByGroup[i] = append(matchesByGroup[i], result.Matches...)
				return nil
			})
		}
	}
	if err := runGroup.Wait(); err != nil {
		return MatchingResult{Generations: generations}, err
	}

	var merged []models.GuidelineMatch
	for i, group := range groups {
		merged = append(merged, group.strategy.TransformMatches(mc, activeJourneys, matchesByGroup[i])...)
	}

	sort.SliceStable(merged, func(a, b int) bool {
		return inputOrder[merged[a].Guideline.ID] < inputOrder[merged[b].Guideline.ID]
	})

	m.logger.DebugContext(ctx, "guideline matching finished",
		"guidelines", len(guidelines), "matches", len(merged),
		"batches", len(generations), "duration", time.Since(start))

	return MatchingResult{
		Matches:       merged,
		Generations:   generations,
		TotalDuration: time.Since(start),
	}, nil
}
