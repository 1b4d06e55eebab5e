package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbtc21/x402-registry/src/core/logger"
	"github.com/pbtc21/x402-registry/src/core/payments"
)

// placeholderAgentName labels chain steps whose agent id resolves to
// nothing. Such steps are priced at zero and flagged degraded instead of
// failing the whole chain.
const placeholderAgentName = "unknown-agent"

// PlatformFee is the fixed 10% registry surcharge, rounded up.
func PlatformFee(amount int64) int64 {
	return (amount + 9) / 10
}

// Orchestrator drives single-task executions and user-authored chains
// behind the x402 payment gate.
type Orchestrator struct {
	catalog  *Catalog
	selector *Selector
	taxonomy *Taxonomy
	invoker  AgentInvoker
	verifier payments.Verifier
	sessions payments.SessionStore

	recipient      string
	defaultTimeout time.Duration
	logger         *logger.Logger
}

// OrchestratorConfig wires the orchestrator's collaborators.
type OrchestratorConfig struct {
	Catalog        *Catalog
	Selector       *Selector
	Taxonomy       *Taxonomy
	Invoker        AgentInvoker
	Verifier       payments.Verifier
	Sessions       payments.SessionStore
	Recipient      string
	DefaultTimeout time.Duration
	Logger         *logger.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		catalog:        cfg.Catalog,
		selector:       cfg.Selector,
		taxonomy:       cfg.Taxonomy,
		invoker:        cfg.Invoker,
		verifier:       cfg.Verifier,
		sessions:       cfg.Sessions,
		recipient:      cfg.Recipient,
		defaultTimeout: cfg.DefaultTimeout,
		logger:         cfg.Logger,
	}
	if o.invoker == nil {
		o.invoker = SimulatedInvoker{}
	}
	if o.defaultTimeout <= 0 {
		o.defaultTimeout = 60 * time.Second
	}
	return o
}

// Execute runs the single-task flow. Without a payment proof it returns a
// PaymentRequiredError carrying the demand; with a verified proof it
// selects agents, invokes them in order and reports spent cost even when
// the run is truncated.
func (o *Orchestrator) Execute(ctx context.Context, req *ExecutionRequest) (*ExecutionResult, error) {
	if err := validateExecutionRequest(req); err != nil {
		return nil, err
	}

	capabilities := o.taxonomy.Infer(req.Task)
	fee := PlatformFee(req.Budget)
	amount := req.Budget + fee

	if strings.TrimSpace(req.PaymentProof) == "" {
		selected := o.selector.Select(capabilities, req.Budget, req.PreferredAgents)
		return nil, o.paymentDemand("execute", req.Task, amount, req.Token, map[string]int64{
			"budget":      req.Budget,
			"platformFee": fee,
		}, len(selected))
	}

	verification, err := o.verifier.VerifyPayment(ctx, req.PaymentProof, amount)
	if err != nil {
		return nil, fmt.Errorf("payment verification failed: %w", err)
	}
	if !verification.Verified {
		reason := verification.Details["reason"]
		return nil, o.paymentDemand("execute", req.Task, amount, req.Token, map[string]int64{
			"budget":      req.Budget,
			"platformFee": fee,
		}, 0).withMessage("payment proof rejected: " + reason)
	}

	timeout := o.defaultTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	selected := o.selector.Select(capabilities, req.Budget, req.PreferredAgents)

	result := &ExecutionResult{
		ID:          "exec-" + uuid.NewString(),
		Task:        req.Task,
		AgentsUsed:  []AgentUsage{},
		PlatformFee: fee,
	}

	if len(selected) == 0 {
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("no registered agent fits the budget for capabilities %v", capabilities)
		result.Duration = time.Since(start).Milliseconds()
		return result, nil
	}

	remaining := req.Budget
	truncated := false
	failures := 0

	for _, agent := range selected {
		if agent.Pricing.BasePrice > remaining {
			truncated = true
			break
		}
		if runCtx.Err() != nil {
			truncated = true
			break
		}

		invokeResult, err := o.invoker.Invoke(runCtx, agent, req.Task)
		if err != nil {
			if runCtx.Err() != nil {
				truncated = true
				break
			}
			// A failed step spends nothing and never aborts its siblings.
			failures++
			result.AgentsUsed = append(result.AgentsUsed, AgentUsage{
				AgentID:  agent.ID,
				Endpoint: agent.PrimaryEndpoint(),
				Status:   StatusFailed,
				Error:    err.Error(),
			})
			if o.logger != nil {
				o.logger.Warning("Agent %s failed during execution %s: %v", agent.ID, result.ID, err)
			}
			continue
		}

		remaining -= agent.Pricing.BasePrice
		result.TotalCost += agent.Pricing.BasePrice
		result.AgentsUsed = append(result.AgentsUsed, AgentUsage{
			AgentID:      agent.ID,
			Endpoint:     agent.PrimaryEndpoint(),
			Cost:         agent.Pricing.BasePrice,
			ResponseTime: invokeResult.ResponseTime,
			Status:       StatusCompleted,
		})
	}

	_, missing := Coverage(capabilities, selected)

	switch {
	case truncated:
		result.Status = StatusPartial
		result.Reason = "budget or deadline exhausted before all selected agents ran"
	case failures > 0:
		result.Status = StatusPartial
		result.Reason = fmt.Sprintf("%d agent call(s) failed", failures)
	case len(missing) > 0:
		result.Status = StatusPartial
		result.Reason = fmt.Sprintf("capabilities not covered within budget: %v", missing)
	default:
		result.Status = StatusCompleted
	}

	result.Duration = time.Since(start).Milliseconds()
	return result, nil
}

// ExecuteChain runs the user-authored chain flow behind the same two-phase
// payment gate.
func (o *Orchestrator) ExecuteChain(ctx context.Context, req *ChainRequest) (*ChainResult, error) {
	if err := validateChainRequest(req); err != nil {
		return nil, err
	}

	resolved := o.resolveChainSteps(req.Steps)

	var totalCost int64
	for _, step := range resolved {
		totalCost += step.Cost
	}
	fee := PlatformFee(totalCost)
	amount := totalCost + fee

	if strings.TrimSpace(req.PaymentProof) == "" {
		return nil, o.paymentDemand("chain", "", amount, req.Token, map[string]int64{
			"totalCost":   totalCost,
			"platformFee": fee,
		}, len(resolved))
	}

	verification, err := o.verifier.VerifyPayment(ctx, req.PaymentProof, amount)
	if err != nil {
		return nil, fmt.Errorf("payment verification failed: %w", err)
	}
	if !verification.Verified {
		reason := verification.Details["reason"]
		return nil, o.paymentDemand("chain", "", amount, req.Token, map[string]int64{
			"totalCost":   totalCost,
			"platformFee": fee,
		}, 0).withMessage("payment proof rejected: " + reason)
	}

	start := time.Now()
	for i := range resolved {
		resolved[i].Output = fmt.Sprintf("[%s] output for %s", resolved[i].AgentName, resolved[i].Action)
	}

	return &ChainResult{
		ID:          "chain-" + uuid.NewString(),
		Status:      StatusCompleted,
		Steps:       resolved,
		TotalCost:   totalCost,
		PlatformFee: fee,
		Duration:    time.Since(start).Milliseconds(),
	}, nil
}

// resolveChainSteps prices each step and fills in defaults. Unknown agent
// ids become zero-cost placeholder steps flagged degraded.
func (o *Orchestrator) resolveChainSteps(steps []ChainStep) []ChainStepResult {
	resolved := make([]ChainStepResult, 0, len(steps))
	for i, step := range steps {
		result := ChainStepResult{
			Step:      i + 1,
			AgentID:   step.AgentID,
			Action:    step.Action,
			InputFrom: step.InputFrom,
		}
		if result.Action == "" {
			result.Action = "process"
		}
		if result.InputFrom == "" {
			if i == 0 {
				result.InputFrom = "user"
			} else {
				result.InputFrom = fmt.Sprintf("step%d", i)
			}
		}

		agent, err := o.catalog.Get(step.AgentID)
		if err != nil {
			result.AgentName = placeholderAgentName
			result.Degraded = true
		} else {
			result.AgentName = agent.Name
			result.Cost = agent.Pricing.BasePrice
		}
		resolved = append(resolved, result)
	}
	return resolved
}

// paymentDemand builds the 402 protocol state and records a session so a
// later proof can be correlated with what was quoted.
func (o *Orchestrator) paymentDemand(kind, task string, amount int64, token Token, breakdown map[string]int64, estimatedAgents int) *paymentRequired {
	memo := kind + "-" + uuid.NewString()

	if o.sessions != nil {
		session := &payments.Session{
			Memo:      memo,
			Kind:      kind,
			Amount:    amount,
			Token:     string(token),
			Task:      task,
			CreatedAt: time.Now().UTC(),
		}
		if err := o.sessions.Put(context.Background(), session); err != nil && o.logger != nil {
			o.logger.Warning("Failed to record payment session %s: %v", memo, err)
		}
	}

	return &paymentRequired{
		PaymentRequiredError: PaymentRequiredError{
			Message: "payment required before execution",
			Demand: PaymentDemand{
				Amount:    amount,
				Token:     token,
				Recipient: o.recipient,
				Memo:      memo,
				Breakdown: breakdown,
			},
		},
		EstimatedAgents: estimatedAgents,
	}
}

// paymentRequired decorates PaymentRequiredError with response context the
// HTTP layer includes in the 402 body.
type paymentRequired struct {
	PaymentRequiredError
	EstimatedAgents int
}

func (p *paymentRequired) withMessage(msg string) *paymentRequired {
	p.Message = msg
	return p
}

func validateExecutionRequest(req *ExecutionRequest) error {
	if req == nil {
		return ValidationError{Field: "request", Message: "request cannot be nil"}
	}
	if strings.TrimSpace(req.Task) == "" {
		return ValidationError{Field: "task", Message: "task is required"}
	}
	if req.Budget < 0 {
		return ValidationError{Field: "budget", Message: "budget must be non-negative"}
	}
	switch req.Token {
	case TokenNative, TokenSynthetic, TokenStable:
	case "":
		return ValidationError{Field: "token", Message: "token is required"}
	default:
		return ValidationError{Field: "token", Message: fmt.Sprintf("invalid token %q", req.Token)}
	}
	return nil
}

func validateChainRequest(req *ChainRequest) error {
	if req == nil {
		return ValidationError{Field: "request", Message: "request cannot be nil"}
	}
	if len(req.Steps) == 0 {
		return ValidationError{Field: "steps", Message: "at least one step is required"}
	}
	for i, step := range req.Steps {
		if strings.TrimSpace(step.AgentID) == "" {
			return ValidationError{
				Field:   "steps",
				Message: fmt.Sprintf("step %d has no agentId", i+1),
			}
		}
	}
	switch req.Token {
	case TokenNative, TokenSynthetic, TokenStable:
	case "":
		return ValidationError{Field: "token", Message: "token is required"}
	default:
		return ValidationError{Field: "token", Message: fmt.Sprintf("invalid token %q", req.Token)}
	}
	return nil
}
