package registry

import "time"

// PricingModel enumerates how an agent charges for calls.
type PricingModel string

const (
	PricingPerCall  PricingModel = "per-call"
	PricingPerToken PricingModel = "per-token"
	PricingFlat     PricingModel = "flat"
)

// Token enumerates the settlement tokens accepted by the registry.
type Token string

const (
	TokenNative    Token = "native-coin"
	TokenSynthetic Token = "synthetic-bitcoin"
	TokenStable    Token = "stable-coin"
)

// Pricing describes how much an agent charges, in the smallest token unit.
type Pricing struct {
	Model     PricingModel `json:"model"`
	BasePrice int64        `json:"basePrice"`
	Token     Token        `json:"token"`
}

// Agent is a registered service descriptor. ID and Owner are immutable
// after registration.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Capabilities []string  `json:"capabilities"`
	Endpoints    []string  `json:"endpoints,omitempty"`
	Owner        string    `json:"owner"`
	Pricing      Pricing   `json:"pricing"`
	Version      string    `json:"version,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PrimaryEndpoint returns the first declared endpoint, or empty.
func (a *Agent) PrimaryEndpoint() string {
	if len(a.Endpoints) == 0 {
		return ""
	}
	return a.Endpoints[0]
}

// AgentRegistrationRequest is the inbound registration payload.
type AgentRegistrationRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities"`
	Endpoints    []string `json:"endpoints,omitempty"`
	Owner        string   `json:"owner"`
	Pricing      *Pricing `json:"pricing"`
	Version      string   `json:"version,omitempty"`
}

// CapabilitySummary is one row of the capability listing.
type CapabilitySummary struct {
	Capability  string `json:"capability"`
	AgentCount  int    `json:"agentCount"`
	Description string `json:"description,omitempty"`
}

// ExecutionRequest asks the orchestrator to route a free-text task.
type ExecutionRequest struct {
	Task            string   `json:"task"`
	Budget          int64    `json:"budget"`
	Token           Token    `json:"token"`
	PreferredAgents []string `json:"preferredAgents,omitempty"`
	Timeout         int      `json:"timeout,omitempty"` // seconds, 0 = server default
	PaymentProof    string   `json:"paymentProof,omitempty"`
}

// PlanStep is one hop of an execution plan.
type PlanStep struct {
	Step          int    `json:"step"`
	AgentID       string `json:"agentId"`
	AgentName     string `json:"agentName"`
	Action        string `json:"action"`
	EstimatedCost int64  `json:"estimatedCost"`
	EstimatedTime int64  `json:"estimatedTime"` // milliseconds
}

// ExecutionPlan is an ordered, costed sequence of agent invocations.
// Plans are derived per request and never cached: agent pricing may change.
type ExecutionPlan struct {
	Steps         []PlanStep `json:"steps"`
	TotalCost     int64      `json:"totalCost"`
	EstimatedTime int64      `json:"estimatedTime"` // milliseconds
}

// Execution status values.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// AgentUsage reports one agent invocation inside an execution result.
type AgentUsage struct {
	AgentID      string `json:"agentId"`
	Endpoint     string `json:"endpoint,omitempty"`
	Cost         int64  `json:"cost"`
	ResponseTime int64  `json:"responseTime"` // milliseconds
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

// ExecutionResult is the terminal response of a paid execution.
type ExecutionResult struct {
	ID          string       `json:"id"`
	Task        string       `json:"task"`
	Status      string       `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	AgentsUsed  []AgentUsage `json:"agentsUsed"`
	TotalCost   int64        `json:"totalCost"`
	PlatformFee int64        `json:"platformFee"`
	Duration    int64        `json:"duration"` // milliseconds
}

// ChainStep is one caller-authored hop of a chain. InputFrom is advisory
// metadata only; it is recorded, never enforced.
type ChainStep struct {
	AgentID   string `json:"agentId"`
	Action    string `json:"action,omitempty"`
	InputFrom string `json:"inputFrom,omitempty"`
}

// ChainRequest asks the orchestrator to run an explicit step sequence.
type ChainRequest struct {
	Steps        []ChainStep `json:"steps"`
	Budget       int64       `json:"budget,omitempty"`
	Token        Token       `json:"token"`
	PaymentProof string      `json:"paymentProof,omitempty"`
}

// ChainStepResult reports one chain step after simulated completion.
type ChainStepResult struct {
	Step      int    `json:"step"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Action    string `json:"action"`
	InputFrom string `json:"inputFrom"`
	Cost      int64  `json:"cost"`
	Output    string `json:"output"`
	Degraded  bool   `json:"degraded,omitempty"`
}

// ChainResult is the terminal response of a paid chain.
type ChainResult struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Steps       []ChainStepResult `json:"steps"`
	TotalCost   int64             `json:"totalCost"`
	PlatformFee int64             `json:"platformFee"`
	Duration    int64             `json:"duration"` // milliseconds
}

// PaymentDemand is the x402-style payment instruction attached to a 402.
type PaymentDemand struct {
	Amount    int64            `json:"amount"`
	Token     Token            `json:"token"`
	Recipient string           `json:"recipient"`
	Memo      string           `json:"memo"`
	Breakdown map[string]int64 `json:"breakdown,omitempty"`
}

// Recommendation is a scored agent suggestion for a task.
type Recommendation struct {
	Agent               *Agent   `json:"agent"`
	MatchScore          int      `json:"matchScore"` // 0..100
	MatchedCapabilities []string `json:"matchedCapabilities"`
}
