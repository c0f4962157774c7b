package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/parley/pkg/models"
)

// MemoryCatalog holds the behavioral configuration of the runtime: agents,
// customers, guidelines, journeys, tool associations, canned responses,
// glossary terms, context variables, and capabilities. It implements every
// read-side store interface the engine consumes.
type MemoryCatalog struct {
	mu sync.RWMutex

	agents        map[string]*models.Agent
	customers     map[string]*models.Customer
	guidelines    []*models.Guideline
	journeys      []*models.Journey
	canned        []*models.CannedResponse
	terms         []*models.Term
	variables     map[string][]*models.ContextVariable
	capabilities  map[string][]*models.Capability
	toolsByGuide  map[string][]models.ToolID
	toolsByNode   map[string][]models.ToolID
	inspections   map[string]Inspection
}

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		agents:       map[string]*models.Agent{},
		customers:    map[string]*models.Customer{},
		variables:    map[string][]*models.ContextVariable{},
		capabilities: map[string][]*models.Capability{},
		toolsByGuide: map[string][]models.ToolID{},
		toolsByNode:  map[string][]models.ToolID{},
		inspections:  map[string]Inspection{},
	}
}

// AddAgent registers an agent definition.
func (c *MemoryCatalog) AddAgent(agent *models.Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[agent.ID] = agent
}

// AddCustomer registers a customer record.
func (c *MemoryCatalog) AddCustomer(customer *models.Customer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customers[customer.ID] = customer
}

// AddGuideline registers a guideline.
func (c *MemoryCatalog) AddGuideline(g *models.Guideline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guidelines = append(c.guidelines, g)
}

// AddJourney registers a journey.
func (c *MemoryCatalog) AddJourney(j *models.Journey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journeys = append(c.journeys, j)
}

// AddCannedResponse registers a canned response template.
func (c *MemoryCatalog) AddCannedResponse(r *models.CannedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canned = append(c.canned, r)
}

// AddTerm registers a glossary term.
func (c *MemoryCatalog) AddTerm(t *models.Term) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terms = append(c.terms, t)
}

// SetVariables sets the context variables for an (agent, customer) pair.
func (c *MemoryCatalog) SetVariables(agentID, customerID string, vars []*models.ContextVariable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[agentID+"/"+customerID] = vars
}

// SetCapabilities sets the capabilities of an agent.
func (c *MemoryCatalog) SetCapabilities(agentID string, caps []*models.Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capabilities[agentID] = caps
}

// AssociateGuidelineTool associates a tool with a guideline by exact id.
func (c *MemoryCatalog) AssociateGuidelineTool(guidelineID string, toolID models.ToolID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsByGuide[guidelineID] = append(c.toolsByGuide[guidelineID], toolID)
}

// AssociateNodeTool associates a tool with a journey node.
func (c *MemoryCatalog) AssociateNodeTool(nodeID string, toolID models.ToolID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsByNode[nodeID] = append(c.toolsByNode[nodeID], toolID)
}

// ReadAgent implements AgentStore.
func (c *MemoryCatalog) ReadAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	agent, ok := c.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return agent, nil
}

// ReadCustomer implements CustomerStore. Unknown customers resolve to a
// guest record rather than an error, matching how anonymous web sessions
// arrive.
func (c *MemoryCatalog) ReadCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if customer, ok := c.customers[customerID]; ok {
		return customer, nil
	}
	return &models.Customer{ID: customerID, Name: "Guest"}, nil
}

// ListGuidelines implements GuidelineStore. With no tags, all enabled
// guidelines are returned; otherwise a guideline must share at least one tag.
func (c *MemoryCatalog) ListGuidelines(ctx context.Context, tags []string) ([]*models.Guideline, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*models.Guideline
	for _, g := range c.guidelines {
		if !g.Enabled {
			continue
		}
		if len(tags) > 0 && !sharesTag(g.Tags, tags) {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

// ReadJourney implements JourneyStore.
func (c *MemoryCatalog) ReadJourney(ctx context.Context, journeyID string) (*models.Journey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, j := range c.journeys {
		if j.ID == journeyID {
			return j, nil
		}
	}
	return nil, fmt.Errorf("journey %s: %w", journeyID, ErrNotFound)
}

// ListJourneys implements JourneyStore.
func (c *MemoryCatalog) ListJourneys(ctx context.Context, tags []string) ([]*models.Journey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*models.Journey
	for _, j := range c.journeys {
		if len(tags) > 0 && !sharesTag(j.Tags, tags) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// FindRelevant implements JourneyStore using lexical relevance over the
// journey title, description, and conditions.
func (c *MemoryCatalog) FindRelevant(ctx context.Context, query string, available []*models.Journey, maxN int) ([]*models.Journey, error) {
	items := make([]scored[*models.Journey], 0, len(available))
	for i, j := range available {
		text := j.Title + " " + j.Description + " " + strings.Join(j.Conditions, " ")
		items = append(items, scored[*models.Journey]{value: j, score: lexicalScore(query, text), index: i})
	}
	ranked := rankByScore(items)
	if maxN > 0 && len(ranked) > maxN {
		ranked = ranked[:maxN]
	}
	return ranked, nil
}

// FindAll implements GuidelineToolAssociations.
func (c *MemoryCatalog) FindAll(ctx context.Context) (map[string][]models.ToolID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]models.ToolID, len(c.toolsByGuide))
	for id, tools := range c.toolsByGuide {
		out[id] = append([]models.ToolID(nil), tools...)
	}
	return out, nil
}

// FindForNode implements JourneyNodeToolAssociations.
func (c *MemoryCatalog) FindForNode(ctx context.Context, nodeID string) ([]models.ToolID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.ToolID(nil), c.toolsByNode[nodeID]...), nil
}

// FindForContext implements CannedResponseStore. The in-memory catalog
// returns templates sharing a tag with the agent, one of the journeys, or
// untagged templates, which are considered global.
func (c *MemoryCatalog) FindForContext(ctx context.Context, agent *models.Agent, journeys []*models.Journey, guidelines []*models.Guideline) ([]*models.CannedResponse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	scopeTags := append([]string(nil), agent.Tags...)
	for _, j := range journeys {
		scopeTags = append(scopeTags, j.Tags...)
	}
	for _, g := range guidelines {
		scopeTags = append(scopeTags, g.Tags...)
	}

	var out []*models.CannedResponse
	for _, r := range c.canned {
		tags := withoutTag(r.Tags, models.TagPreamble)
		if len(tags) == 0 || sharesTag(tags, scopeTags) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListByTag implements CannedResponseStore.
func (c *MemoryCatalog) ListByTag(ctx context.Context, tag string) ([]*models.CannedResponse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*models.CannedResponse
	for _, r := range c.canned {
		if r.HasTag(tag) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ReadVariables implements ContextVariableStore.
func (c *MemoryCatalog) ReadVariables(ctx context.Context, agentID, customerID string) ([]*models.ContextVariable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*models.ContextVariable(nil), c.variables[agentID+"/"+customerID]...), nil
}

// FindRelevantTerms implements GlossaryStore via glossaryView; see Glossary.
func (c *MemoryCatalog) findRelevantTerms(query string, maxTerms int) []*models.Term {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]scored[*models.Term], 0, len(c.terms))
	for i, t := range c.terms {
		text := t.Name + " " + t.Description + " " + strings.Join(t.Synonyms, " ")
		items = append(items, scored[*models.Term]{value: t, score: lexicalScore(query, text), index: i})
	}
	ranked := rankByScore(items)
	if maxTerms > 0 && len(ranked) > maxTerms {
		ranked = ranked[:maxTerms]
	}
	return ranked
}

// Glossary returns the catalog's GlossaryStore view.
func (c *MemoryCatalog) Glossary() GlossaryStore {
	return glossaryView{catalog: c}
}

type glossaryView struct {
	catalog *MemoryCatalog
}

func (v glossaryView) FindRelevant(ctx context.Context, query string, maxTerms int) ([]*models.Term, error) {
	return v.catalog.findRelevantTerms(query, maxTerms), nil
}

// FindCapabilities implements CapabilityStore.
func (c *MemoryCatalog) FindCapabilities(ctx context.Context, agentID string) ([]*models.Capability, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*models.Capability(nil), c.capabilities[agentID]...), nil
}

// SaveInspection implements InspectionStore.
func (c *MemoryCatalog) SaveInspection(ctx context.Context, inspection Inspection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inspections[inspection.SessionID+"/"+inspection.CorrelationID] = inspection
	return nil
}

// ReadInspection implements InspectionStore.
func (c *MemoryCatalog) ReadInspection(ctx context.Context, sessionID, correlationID string) (Inspection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inspection, ok := c.inspections[sessionID+"/"+correlationID]
	if !ok {
		return Inspection{}, fmt.Errorf("inspection %s/%s: %w", sessionID, correlationID, ErrNotFound)
	}
	return inspection, nil
}

func sharesTag(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func withoutTag(tags []string, drop string) []string {
	var out []string
	for _, t := range tags {
		if t != drop {
			out = append(out, t)
		}
	}
	return out
}
