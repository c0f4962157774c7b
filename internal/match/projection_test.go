package match

import (
	"testing"

	"github.com/haasonsaas/parley/pkg/models"
)

// bookingJourney is a small graph with a branch and a cycle back to the
// confirmation step:
//
//	start -> collect -> confirm -> done
//	              ^---------|  (amend loops back)
func bookingJourney() *models.Journey {
	return &models.Journey{
		ID:     "booking",
		Title:  "Table booking",
		RootID: "start",
		Tags:   []string{"restaurant"},
		Nodes: []models.JourneyNode{
			{ID: "start", Action: "Greet and ask for party size"},
			{ID: "collect", Action: "Collect date and time"},
			{ID: "confirm", Action: "Confirm the reservation details", Tools: []models.ToolID{{ServiceName: "booking", ToolName: "reserve"}}},
			{ID: "done", Action: "Thank the customer"},
		},
		Edges: []models.JourneyEdge{
			{ID: "e1", Source: "start", Target: "collect", Condition: "the customer stated a party size"},
			{ID: "e2", Source: "collect", Target: "confirm", Condition: "date and time are known"},
			{ID: "e3", Source: "confirm", Target: "done", Condition: "the customer confirmed"},
			{ID: "e4", Source: "confirm", Target: "collect", Condition: "the customer wants to change something"},
		},
	}
}

func TestProjectJourney(t *testing.T) {
	journey := bookingJourney()
	guidelines := ProjectJourney(journey)

	// Root plus one guideline per edge.
	if len(guidelines) != 5 {
		t.Fatalf("got %d guidelines, want 5", len(guidelines))
	}

	root := guidelines[0]
	if root.ID != models.JourneyNodeGuidelineID("start", "") {
		t.Errorf("root id = %q", root.ID)
	}
	if root.Condition != "" {
		t.Errorf("root condition = %q, want unconditional", root.Condition)
	}
	if root.Action != "Greet and ask for party size" {
		t.Errorf("root action = %q", root.Action)
	}

	byID := map[string]*models.Guideline{}
	for _, g := range guidelines {
		byID[g.ID] = g
	}

	collect := byID[models.JourneyNodeGuidelineID("collect", "e1")]
	if collect == nil {
		t.Fatal("missing guideline for edge e1")
	}
	if collect.Condition != "the customer stated a party size" {
		t.Errorf("collect condition = %q", collect.Condition)
	}
	if collect.Metadata.JourneyNode == nil || collect.Metadata.JourneyNode.JourneyID != "booking" {
		t.Errorf("collect descriptor = %+v", collect.Metadata.JourneyNode)
	}

	// The cycle edge e4 reaches collect a second time, under its own id.
	loop := byID[models.JourneyNodeGuidelineID("collect", "e4")]
	if loop == nil {
		t.Fatal("missing guideline for cycle edge e4")
	}
	if loop.Condition != "the customer wants to change something" {
		t.Errorf("loop condition = %q", loop.Condition)
	}

	for _, g := range guidelines {
		if !g.Enabled {
			t.Errorf("guideline %s not enabled", g.ID)
		}
		if len(g.Tags) != 1 || g.Tags[0] != "restaurant" {
			t.Errorf("guideline %s tags = %v, want journey tags", g.ID, g.Tags)
		}
	}
}

func TestProjectJourneyEmpty(t *testing.T) {
	if got := ProjectJourney(nil); got != nil {
		t.Errorf("ProjectJourney(nil) = %v, want nil", got)
	}
	if got := ProjectJourney(&models.Journey{ID: "x"}); got != nil {
		t.Errorf("journey without root projected %v, want nil", got)
	}
}

func TestNodeTools(t *testing.T) {
	journey := bookingJourney()
	confirm := &models.Guideline{
		Metadata: models.GuidelineMetadata{
			JourneyNode: &models.JourneyNodeDescriptor{JourneyID: "booking", NodeID: "confirm", EdgeID: "e2"},
		},
	}
	tools := NodeTools(journey, confirm)
	if len(tools) != 1 || tools[0].String() != "booking:reserve" {
		t.Errorf("tools = %v, want booking:reserve", tools)
	}

	if got := NodeTools(journey, &models.Guideline{}); got != nil {
		t.Errorf("non-journey guideline yielded tools %v", got)
	}
}

func TestOnCurrentPath(t *testing.T) {
	journey := bookingJourney()

	guideline := func(nodeID, edgeID string) *models.Guideline {
		return &models.Guideline{
			ID: models.JourneyNodeGuidelineID(nodeID, edgeID),
			Metadata: models.GuidelineMetadata{
				JourneyNode: &models.JourneyNodeDescriptor{JourneyID: "booking", NodeID: nodeID, EdgeID: edgeID},
			},
		}
	}

	tests := []struct {
		name string
		path []string
		g    *models.Guideline
		want bool
	}{
		{"fresh journey allows root", nil, guideline("start", ""), true},
		{"fresh journey allows downstream", nil, guideline("confirm", "e2"), true},
		{"same step re-selected", []string{models.JourneyNodeGuidelineID("collect", "e1")}, guideline("collect", "e4"), true},
		{"forward step", []string{models.JourneyNodeGuidelineID("collect", "e1")}, guideline("confirm", "e2"), true},
		{"backward via cycle", []string{models.JourneyNodeGuidelineID("confirm", "e2")}, guideline("collect", "e4"), true},
		{"unreachable backward step", []string{models.JourneyNodeGuidelineID("done", "e3")}, guideline("start", ""), false},
		{"skips empty path entries", []string{models.JourneyNodeGuidelineID("collect", "e1"), ""}, guideline("confirm", "e2"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mc := &Context{JourneyPaths: map[string][]string{"booking": tc.path}}
			if got := onCurrentPath(journey, mc, tc.g); got != tc.want {
				t.Errorf("onCurrentPath() = %v, want %v", got, tc.want)
			}
		})
	}
}
