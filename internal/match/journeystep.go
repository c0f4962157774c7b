package match

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/pkg/models"
)

// journeyStepBatch selects the current step of one active journey among the
// candidate node guidelines projected from it.
type journeyStepBatch struct {
	journey    *models.Journey
	guidelines []*models.Guideline
	mc         *Context
	generator  *nlp.Generator
}

// Kind implements Batch.
func (b *journeyStepBatch) Kind() string {
	return "journey_step_selection"
}

// Guidelines implements Batch.
func (b *journeyStepBatch) Guidelines() []*models.Guideline {
	return b.guidelines
}

// Process implements Batch. One call covers every candidate step of the
// journey; at most one step is expected to apply per turn, but the decision
// schema stays uniform with the other batches so downstream merging is
// shared.
func (b *journeyStepBatch) Process(ctx context.Context) (BatchResult, error) {
	prompt := b.buildPrompt()
	response, info, err := nlp.Generate[batchResponse](ctx, b.generator, "journey_step_selection", prompt, nlp.Hints{})
	if err != nil {
		return BatchResult{Info: info}, fmt.Errorf("journey step batch %s: %w", b.journey.ID, err)
	}

	result := BatchResult{Info: info}
	for _, check := range response.Checks {
		idx := check.GuidelineNumber - 1
		if idx < 0 || idx >= len(b.guidelines) || !check.Applies {
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
			Metadata:  map[string]any{"journey_id": b.journey.ID},
		})
	}
	return result, nil
}

func (b *journeyStepBatch) buildPrompt() string {
	pb := basePrompt(b.mc,
		"The customer is inside a multi-step process. Given the steps completed so far, decide which of the candidate next steps the conversation is at now. "+
			"Select a step only when its transition condition is satisfied by the conversation; usually exactly one applies, sometimes none.")
	pb.AddSectionf("journey", "Process: %s\n%s", b.journey.Title, b.journey.Description)

	if tail := b.mc.CurrentPathTail(b.journey.ID); tail != "" {
		pb.AddSectionf("journey-progress", "Most recent completed step id: %s", tail)
	} else {
		pb.AddSection("journey-progress", "No step has been taken yet; the process starts at its entry point.")
	}

	var sb strings.Builder
	for i, g := range b.guidelines {
		desc := g.Metadata.JourneyNode
		condition := g.Condition
		if condition == "" {
			condition = "(unconditional)"
		}
		fmt.Fprintf(&sb, "%d. step %s — transition when: %s\n   action: %s\n", i+1, desc.NodeID, condition, g.Action)
	}
	pb.AddSectionf("candidate-steps", "Candidate steps:\n%s", sb.String())
	pb.AddSection("output", batchOutputInstructions)
	return pb.Build()
}

// onCurrentPath reports whether a matched journey-node guideline is
// reachable from the journey's last completed step, so stale matches from
// earlier parts of the graph are dropped.
func onCurrentPath(journey *models.Journey, mc *Context, g *models.Guideline) bool {
	desc := g.Metadata.JourneyNode
	if desc == nil {
		return false
	}

	tail := mc.CurrentPathTail(journey.ID)
	if tail == "" {
		// Nothing completed yet: only steps reachable from the root apply.
		return reachableFrom(journey, journey.RootID, desc.NodeID, true)
	}

	lastNode := nodeIDFromGuidelineID(tail)
	if lastNode == "" {
		return true
	}
	if lastNode == desc.NodeID {
		// Re-selecting the same step keeps a stalled journey in place.
		return true
	}
	return reachableFrom(journey, lastNode, desc.NodeID, false)
}

// reachableFrom walks the journey graph from start looking for target. The
// visited set is keyed by (edge, node) so cyclic graphs terminate.
func reachableFrom(journey *models.Journey, start, target string, includeStart bool) bool {
	if includeStart && start == target {
		return true
	}

	type hop struct {
		edgeID string
		nodeID string
	}
	visited := map[hop]bool{}
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, edge := range journey.OutgoingEdges(current) {
			key := hop{edgeID: edge.ID, nodeID: edge.Target}
			if visited[key] {
				continue
			}
			visited[key] = true
			if edge.Target == target {
				return true
			}
			queue = append(queue, edge.Target)
		}
	}
	return false
}

// nodeIDFromGuidelineID recovers the node id from a projected guideline id
// of the form "journey_node:<node>[:<edge>]".
func nodeIDFromGuidelineID(guidelineID string) string {
	rest, ok := strings.CutPrefix(guidelineID, "journey_node:")
	if !ok {
		return ""
	}
	node, _, _ := strings.Cut(rest, ":")
	return node
}
