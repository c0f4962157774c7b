package models

import (
	"strings"
	"time"
)

// Guideline is a behavioral rule: when Condition holds, do Action.
//
// A guideline with an empty action is observational: it contributes context
// to matching but never produces behavior by itself.
type Guideline struct {
	ID        string            `json:"id"`
	Condition string            `json:"condition"`
	Action    string            `json:"action,omitempty"`
	Enabled   bool              `json:"enabled"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  GuidelineMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// GuidelineMetadata carries engine-interpreted flags and descriptors.
type GuidelineMetadata struct {
	// Continuous guidelines are re-evaluated every turn regardless of
	// whether they were applied before.
	Continuous bool `json:"continuous,omitempty"`

	// CustomerDependentActionData marks an action whose data depends on the
	// customer's reply, so re-application needs a fresh evaluation.
	CustomerDependentActionData bool `json:"customer_dependent_action_data,omitempty"`

	// JourneyNode is set on guidelines projected from a journey graph.
	JourneyNode *JourneyNodeDescriptor `json:"journey_node,omitempty"`

	// DisambiguationTargets lists guideline ids this observational guideline
	// chooses between; non-empty makes it a disambiguation head.
	DisambiguationTargets []string `json:"disambiguation_targets,omitempty"`
}

// JourneyNodeDescriptor links a projected guideline back to its journey.
type JourneyNodeDescriptor struct {
	JourneyID string `json:"journey_id"`
	NodeID    string `json:"node_id"`
	EdgeID    string `json:"edge_id,omitempty"`
}

// IsObservational reports whether the guideline has no action of its own.
func (g *Guideline) IsObservational() bool {
	return strings.TrimSpace(g.Action) == ""
}

// IsJourneyNode reports whether the guideline was projected from a journey.
func (g *Guideline) IsJourneyNode() bool {
	return g.Metadata.JourneyNode != nil
}

// IsDisambiguation reports whether the guideline is a disambiguation head.
func (g *Guideline) IsDisambiguation() bool {
	return len(g.Metadata.DisambiguationTargets) > 0
}

// JourneyNodeGuidelineID builds the synthetic id of a guideline projected
// from a (node, edge) pair: "journey_node:<node>[:<edge>]".
func JourneyNodeGuidelineID(nodeID, edgeID string) string {
	if edgeID == "" {
		return "journey_node:" + nodeID
	}
	return "journey_node:" + nodeID + ":" + edgeID
}

// GuidelineMatch is the matcher's decision that a guideline applies this turn.
type GuidelineMatch struct {
	Guideline *Guideline     `json:"guideline"`
	Score     float64        `json:"score"`
	Rationale string         `json:"rationale"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
