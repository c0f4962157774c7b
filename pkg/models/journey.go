package models

import "time"

// JourneyNode is a step inside a journey graph. Its action becomes the
// action of the projected journey-node guideline.
type JourneyNode struct {
	ID     string   `json:"id"`
	Action string   `json:"action"`
	Tools  []ToolID `json:"tools,omitempty"`
}

// JourneyEdge connects two nodes; Condition guards the transition and may be
// empty for unconditional edges.
type JourneyEdge struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
}

// Journey is a graph of nodes and edges encoding a multi-step process. The
// graph may contain cycles; traversal tracks visited (edge, node) pairs.
type Journey struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Conditions  []string      `json:"conditions,omitempty"`
	RootID      string        `json:"root_id"`
	Nodes       []JourneyNode `json:"nodes"`
	Edges       []JourneyEdge `json:"edges"`
	Tags        []string      `json:"tags,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Node returns the node with the given id, or nil.
func (j *Journey) Node(id string) *JourneyNode {
	for i := range j.Nodes {
		if j.Nodes[i].ID == id {
			return &j.Nodes[i]
		}
	}
	return nil
}

// OutgoingEdges returns the edges leaving the given node, in declaration order.
func (j *Journey) OutgoingEdges(nodeID string) []JourneyEdge {
	var out []JourneyEdge
	for _, e := range j.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}
