package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pbtc21/x402-registry/src/core/database"
)

// AgentStore is the persistence seam for agent records. The catalog owns
// the in-memory state; the store is a write-through collaborator.
type AgentStore interface {
	InsertAgent(*database.AgentRecord) error
	ListAgents() ([]*database.AgentRecord, error)
}

// Catalog is the in-memory agent catalog plus its capability index.
// Registration is the only writer; selection and recommendation read.
type Catalog struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string // insertion order

	// index maps capability tag -> *capabilitySet. Entries are created with
	// LoadOrStore and mutated under the entry's own lock, so concurrent
	// registrations for the same capability serialize per key rather than
	// behind a global lock.
	index sync.Map

	store     AgentStore
	validator *AgentRegistrationValidator
}

// capabilitySet holds the agent ids declaring one capability, in insertion
// order. The order is stable within an index, which keeps selection
// deterministic.
type capabilitySet struct {
	mu  sync.Mutex
	ids []string
}

func (s *capabilitySet) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ids {
		if existing == id {
			return
		}
	}
	s.ids = append(s.ids, id)
}

func (s *capabilitySet) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

func (s *capabilitySet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// NewCatalog creates a catalog. store may be nil for a purely in-memory
// catalog (tests, ephemeral deployments).
func NewCatalog(store AgentStore) *Catalog {
	return &Catalog{
		agents:    make(map[string]*Agent),
		store:     store,
		validator: NewAgentRegistrationValidator(),
	}
}

// LoadFromStore rebuilds the catalog and capability index from persisted
// records. Called once at boot, before the server accepts requests.
func (c *Catalog) LoadFromStore() (int, error) {
	if c.store == nil {
		return 0, nil
	}
	records, err := c.store.ListAgents()
	if err != nil {
		return 0, fmt.Errorf("failed to load agents from store: %w", err)
	}
	for _, rec := range records {
		agent := recordToAgent(rec)
		c.insert(agent)
	}
	return len(records), nil
}

// Register validates the request, assigns a fresh id, persists the record
// and updates the capability index for every declared capability.
func (c *Catalog) Register(req *AgentRegistrationRequest) (*Agent, error) {
	if err := c.validator.ValidateAgentRegistration(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	agent := &Agent{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		Capabilities: append([]string(nil), req.Capabilities...),
		Endpoints:    append([]string(nil), req.Endpoints...),
		Owner:        req.Owner,
		Pricing:      *req.Pricing,
		Version:      req.Version,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Persist first: a storage failure must not leave a phantom agent in
	// the index.
	if c.store != nil {
		if err := c.store.InsertAgent(agentToRecord(agent)); err != nil {
			return nil, fmt.Errorf("failed to persist agent: %w", err)
		}
	}

	c.insert(agent)
	return agent, nil
}

// insert adds an agent to the map and indexes every capability.
func (c *Catalog) insert(agent *Agent) {
	c.mu.Lock()
	c.agents[agent.ID] = agent
	c.order = append(c.order, agent.ID)
	c.mu.Unlock()

	for _, capability := range agent.Capabilities {
		entry, _ := c.index.LoadOrStore(capability, &capabilitySet{})
		entry.(*capabilitySet).add(agent.ID)
	}
}

// Get returns the agent with the given id.
func (c *Catalog) Get(id string) (*Agent, error) {
	c.mu.RLock()
	agent, ok := c.agents[id]
	c.mu.RUnlock()
	if !ok {
		return nil, NotFoundError{Resource: "agent", ID: id}
	}
	return agent, nil
}

// List returns all agents in insertion order.
func (c *Catalog) List() []*Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Agent, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.agents[id])
	}
	return out
}

// Count returns the number of registered agents.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.agents)
}

// AgentsFor returns the ids declaring a capability, in stable index order.
func (c *Catalog) AgentsFor(capability string) []string {
	entry, ok := c.index.Load(capability)
	if !ok {
		return nil
	}
	return entry.(*capabilitySet).snapshot()
}

// ListCapabilities summarizes the capability index, sorted lexicographically.
func (c *Catalog) ListCapabilities(taxonomy *Taxonomy) []CapabilitySummary {
	var summaries []CapabilitySummary
	c.index.Range(func(key, value interface{}) bool {
		capability := key.(string)
		summary := CapabilitySummary{
			Capability: capability,
			AgentCount: value.(*capabilitySet).size(),
		}
		if taxonomy != nil {
			summary.Description = taxonomy.Describe(capability)
		}
		summaries = append(summaries, summary)
		return true
	})
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Capability < summaries[j].Capability
	})
	return summaries
}

func agentToRecord(a *Agent) *database.AgentRecord {
	return &database.AgentRecord{
		AgentID:      a.ID,
		Name:         a.Name,
		Description:  a.Description,
		Capabilities: a.Capabilities,
		Endpoints:    a.Endpoints,
		Owner:        a.Owner,
		PricingModel: string(a.Pricing.Model),
		BasePrice:    a.Pricing.BasePrice,
		Token:        string(a.Pricing.Token),
		Version:      a.Version,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func recordToAgent(rec *database.AgentRecord) *Agent {
	return &Agent{
		ID:           rec.AgentID,
		Name:         rec.Name,
		Description:  rec.Description,
		Capabilities: rec.Capabilities,
		Endpoints:    rec.Endpoints,
		Owner:        rec.Owner,
		Pricing: Pricing{
			Model:     PricingModel(rec.PricingModel),
			BasePrice: rec.BasePrice,
			Token:     Token(rec.Token),
		},
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}
