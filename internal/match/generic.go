package match

import (
	"context"

	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/pkg/models"
)

// GenericStrategy is the default matching strategy. It classifies
// guidelines into six buckets, each with its own batch type and prompt:
//
//   - journey-step: projected from an active journey
//   - observational: empty action, no disambiguation targets
//   - disambiguation: empty action with disambiguation targets
//   - previously-applied customer-dependent
//   - previously-applied actionable
//   - actionable: everything else (new or continuous)
type GenericStrategy struct {
	generator *nlp.Generator
}

// NewGenericStrategy creates the default strategy over the given generator.
func NewGenericStrategy(generator *nlp.Generator) *GenericStrategy {
	return &GenericStrategy{generator: generator}
}

// Name implements Strategy.
func (s *GenericStrategy) Name() string {
	return "generic"
}

type bucket int

const (
	bucketJourneyStep bucket = iota
	bucketObservational
	bucketDisambiguation
	bucketPrevAppliedCustomerDependent
	bucketPrevAppliedActionable
	bucketActionable
)

func classify(g *models.Guideline, mc *Context, activeJourneys map[string]*models.Journey) bucket {
	if g.IsJourneyNode() {
		if _, active := activeJourneys[g.Metadata.JourneyNode.JourneyID]; active {
			return bucketJourneyStep
		}
		// Inactive journey steps fall through and are evaluated like
		// ordinary actionable guidelines; TransformMatches drops them.
	}
	if g.IsObservational() {
		if g.IsDisambiguation() {
			return bucketDisambiguation
		}
		return bucketObservational
	}
	if mc.Applied[g.ID] && !g.Metadata.Continuous {
		if g.Metadata.CustomerDependentActionData {
			return bucketPrevAppliedCustomerDependent
		}
		return bucketPrevAppliedActionable
	}
	return bucketActionable
}

// CreateBatches implements Strategy.
func (s *GenericStrategy) CreateBatches(ctx context.Context, guidelines []*models.Guideline, mc *Context, journeys []*models.Journey) ([]Batch, error) {
	activeJourneys := make(map[string]*models.Journey, len(journeys))
	for _, j := range journeys {
		activeJourneys[j.ID] = j
	}

	buckets := map[bucket][]*models.Guideline{}
	journeySteps := map[string][]*models.Guideline{}

	for _, g := range guidelines {
		b := classify(g, mc, activeJourneys)
		if b == bucketJourneyStep {
			journeyID := g.Metadata.JourneyNode.JourneyID
			journeySteps[journeyID] = append(journeySteps[journeyID], g)
			continue
		}
		buckets[b] = append(buckets[b], g)
	}

	var batches []Batch

	// One step-selection batch per journey: the candidates only make
	// sense relative to each other.
	for _, j := range journeys {
		steps := journeySteps[j.ID]
		if len(steps) == 0 {
			continue
		}
		batches = append(batches, &journeyStepBatch{
			journey:    j,
			guidelines: steps,
			mc:         mc,
			generator:  s.generator,
		})
	}

	kinds := []struct {
		bucket     bucket
		kind       string
		schemaName string
		prompt     func(*Context, []*models.Guideline) string
	}{
		{bucketObservational, "observational", "observational_matching", observationalPrompt},
		{bucketDisambiguation, "disambiguation", "disambiguation_matching", disambiguationPrompt},
		{bucketPrevAppliedCustomerDependent, "previously_applied_customer_dependent", "prev_applied_customer_dependent_matching", prevAppliedCustomerDependentPrompt},
		{bucketPrevAppliedActionable, "previously_applied_actionable", "prev_applied_actionable_matching", prevAppliedActionablePrompt},
		{bucketActionable, "actionable", "actionable_matching", actionablePrompt},
	}
	for _, k := range kinds {
		members := buckets[k.bucket]
		if len(members) == 0 {
			continue
		}
		for _, chunk := range chunkGuidelines(members, batchSize(len(members))) {
			batches = append(batches, &llmBatch{
				kind:       k.kind,
				schemaName: k.schemaName,
				prompt:     k.prompt(mc, chunk),
				guidelines: chunk,
				generator:  s.generator,
			})
		}
	}
	return batches, nil
}

// TransformMatches implements Strategy: journey-node matches are retained
// only when their journey is active and the node lies on the journey's
// current path.
func (s *GenericStrategy) TransformMatches(mc *Context, journeys []*models.Journey, matches []models.GuidelineMatch) []models.GuidelineMatch {
	activeJourneys := make(map[string]*models.Journey, len(journeys))
	for _, j := range journeys {
		activeJourneys[j.ID] = j
	}

	var out []models.GuidelineMatch
	for _, m := range matches {
		if m.Guideline.IsJourneyNode() {
			journey, active := activeJourneys[m.Guideline.Metadata.JourneyNode.JourneyID]
			if !active || !onCurrentPath(journey, mc, m.Guideline) {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
