package match

import (
	"github.com/haasonsaas/parley/pkg/models"
)

// ProjectJourney derives the per-node guidelines of a journey graph. The
// root gets an unconditional entry guideline; every edge yields a guideline
// for its target node whose condition is the edge's transition condition. A
// node reachable through several edges yields one guideline per incoming
// edge. Traversal is keyed by (edge, node) so cyclic graphs terminate.
func ProjectJourney(journey *models.Journey) []*models.Guideline {
	if journey == nil || journey.RootID == "" {
		return nil
	}

	var out []*models.Guideline
	if root := journey.Node(journey.RootID); root != nil {
		out = append(out, nodeGuideline(journey, root, nil))
	}

	type hop struct {
		edgeID string
		nodeID string
	}
	visited := map[hop]bool{}
	queue := []string{journey.RootID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, edge := range journey.OutgoingEdges(current) {
			key := hop{edgeID: edge.ID, nodeID: edge.Target}
			if visited[key] {
				continue
			}
			visited[key] = true
			target := journey.Node(edge.Target)
			if target == nil {
				continue
			}
			out = append(out, nodeGuideline(journey, target, &edge))
			queue = append(queue, edge.Target)
		}
	}
	return out
}

func nodeGuideline(journey *models.Journey, node *models.JourneyNode, via *models.JourneyEdge) *models.Guideline {
	edgeID := ""
	condition := ""
	if via != nil {
		edgeID = via.ID
		condition = via.Condition
	}
	return &models.Guideline{
		ID:        models.JourneyNodeGuidelineID(node.ID, edgeID),
		Condition: condition,
		Action:    node.Action,
		Enabled:   true,
		Tags:      journey.Tags,
		Metadata: models.GuidelineMetadata{
			JourneyNode: &models.JourneyNodeDescriptor{
				JourneyID: journey.ID,
				NodeID:    node.ID,
				EdgeID:    edgeID,
			},
		},
	}
}

// NodeTools returns the tools attached to the journey node a projected
// guideline points at.
func NodeTools(journey *models.Journey, g *models.Guideline) []models.ToolID {
	if g.Metadata.JourneyNode == nil {
		return nil
	}
	node := journey.Node(g.Metadata.JourneyNode.NodeID)
	if node == nil {
		return nil
	}
	return node.Tools
}
