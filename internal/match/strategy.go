package match

import (
	"context"
	"sync"

	"github.com/haasonsaas/parley/pkg/models"
)

// Batch evaluates a group of guidelines with one LLM call.
type Batch interface {
	// Kind labels the batch for logging and inspection records.
	Kind() string

	// Guidelines returns the batch members in input order.
	Guidelines() []*models.Guideline

	// Process runs the evaluation. Implementations retry transient
	// failures internally.
	Process(ctx context.Context) (BatchResult, error)
}

// BatchResult is the outcome of one batch evaluation.
type BatchResult struct {
	Matches []models.GuidelineMatch
	Info    models.GenerationInfo
}

// Strategy turns a set of guidelines into batches and may post-process the
// merged matches.
type Strategy interface {
	// Name identifies the strategy class; guidelines resolved to the same
	// name are batched together.
	Name() string

	// CreateBatches splits the guidelines into batches for the context.
	CreateBatches(ctx context.Context, guidelines []*models.Guideline, mc *Context, journeys []*models.Journey) ([]Batch, error)

	// TransformMatches post-processes the merged matches of this
	// strategy's batches. Most strategies return them unchanged.
	TransformMatches(mc *Context, journeys []*models.Journey, matches []models.GuidelineMatch) []models.GuidelineMatch
}

// batchSize returns how many guidelines go into each batch given the total:
// small sets are evaluated one per call for precision, large sets amortize.
func batchSize(total int) int {
	switch {
	case total <= 10:
		return 1
	case total <= 20:
		return 2
	case total <= 30:
		return 3
	default:
		return 5
	}
}

// chunkGuidelines splits guidelines into consecutive batches of size n,
// preserving order.
func chunkGuidelines(guidelines []*models.Guideline, n int) [][]*models.Guideline {
	if n <= 0 {
		n = 1
	}
	var out [][]*models.Guideline
	for start := 0; start < len(guidelines); start += n {
		end := start + n
		if end > len(guidelines) {
			end = len(guidelines)
		}
		out = append(out, guidelines[start:end])
	}
	return out
}

// StrategyResolver resolves the strategy for each guideline via the
// priority chain: per-guideline override, then per-tag override, then the
// default generic strategy.
type StrategyResolver struct {
	mu          sync.RWMutex
	byGuideline map[string]Strategy
	byTag       map[string]Strategy
	fallback    Strategy
}

// NewStrategyResolver creates a resolver with the given default strategy.
func NewStrategyResolver(fallback Strategy) *StrategyResolver {
	return &StrategyResolver{
		byGuideline: map[string]Strategy{},
		byTag:       map[string]Strategy{},
		fallback:    fallback,
	}
}

// OverrideForGuideline pins a strategy for one guideline id.
func (r *StrategyResolver) OverrideForGuideline(guidelineID string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byGuideline[guidelineID] = s
}

// OverrideForTag pins a strategy for every guideline carrying the tag.
func (r *StrategyResolver) OverrideForTag(tag string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTag[tag] = s
}

// Resolve returns the strategy for a guideline.
func (r *StrategyResolver) Resolve(g *models.Guideline) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.byGuideline[g.ID]; ok {
		return s
	}
	for _, tag := range g.Tags {
		if s, ok := r.byTag[tag]; ok {
			return s
		}
	}
	return r.fallback
}
