package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbtc21/x402-registry/src/core/payments"
)

const testRecipient = "0x402402402402402402402402402402402402F0F0"

// newTestOrchestrator wires an orchestrator over an in-memory catalog with a
// static verifier, mirroring the development configuration.
func newTestOrchestrator(t *testing.T, catalog *Catalog, invoker AgentInvoker) *Orchestrator {
	t.Helper()
	return NewOrchestrator(OrchestratorConfig{
		Catalog:   catalog,
		Selector:  NewSelector(catalog, nil),
		Taxonomy:  NewTaxonomy(),
		Invoker:   invoker,
		Verifier:  payments.StaticVerifier{},
		Sessions:  payments.NewMemorySessionStore(time.Minute),
		Recipient: testRecipient,
	})
}

func TestPlatformFee(t *testing.T) {
	cases := []struct {
		amount int64
		fee    int64
	}{
		{0, 0},
		{1, 1},
		{9, 1},
		{10, 1},
		{11, 2},
		{100, 10},
		{1000, 100},
		{1001, 101},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.fee, PlatformFee(tc.amount), "amount=%d", tc.amount)
	}
}

func TestExecutePaymentGate(t *testing.T) {
	catalog := NewCatalog(nil)
	mustRegister(t, catalog, "summarizer", []string{"summarize"}, 40)
	orchestrator := newTestOrchestrator(t, catalog, nil)

	t.Run("MissingProofDemandsPayment", func(t *testing.T) {
		_, err := orchestrator.Execute(context.Background(), &ExecutionRequest{
			Task:   "summarize this report",
			Budget: 100,
			Token:  TokenStable,
		})
		require.Error(t, err)

		var demand *paymentRequired
		require.ErrorAs(t, err, &demand)

		assert.Equal(t, int64(110), demand.Demand.Amount) // budget 100 + 10% fee
		assert.Equal(t, TokenStable, demand.Demand.Token)
		assert.Equal(t, testRecipient, demand.Demand.Recipient)
		assert.True(t, strings.HasPrefix(demand.Demand.Memo, "exec-"))
		assert.Equal(t, int64(100), demand.Demand.Breakdown["budget"])
		assert.Equal(t, int64(10), demand.Demand.Breakdown["platformFee"])
		assert.Equal(t, 1, demand.EstimatedAgents)
	})

	t.Run("RepeatedDemandsGetFreshMemos", func(t *testing.T) {
		req := &ExecutionRequest{Task: "summarize again", Budget: 50, Token: TokenStable}

		_, firstErr := orchestrator.Execute(context.Background(), req)
		_, secondErr := orchestrator.Execute(context.Background(), req)

		var first, second *paymentRequired
		require.ErrorAs(t, firstErr, &first)
		require.ErrorAs(t, secondErr, &second)

		assert.Equal(t, first.Demand.Amount, second.Demand.Amount)
		assert.NotEqual(t, first.Demand.Memo, second.Demand.Memo)
	})

	t.Run("EmptyProofAfterTrimDemandsPayment", func(t *testing.T) {
		_, err := orchestrator.Execute(context.Background(), &ExecutionRequest{
			Task:         "summarize",
			Budget:       50,
			Token:        TokenStable,
			PaymentProof: "   ",
		})
		var demand *paymentRequired
		require.ErrorAs(t, err, &demand)
	})
}

func TestExecuteWithProof(t *testing.T) {
	t.Run("CompletedRun", func(t *testing.T) {
		catalog := NewCatalog(nil)
		agent := mustRegister(t, catalog, "summarizer", []string{"summarize"}, 40)
		orchestrator := newTestOrchestrator(t, catalog, nil)

		result, err := orchestrator.Execute(context.Background(), &ExecutionRequest{
			Task:         "summarize this report",
			Budget:       100,
			Token:        TokenStable,
			PaymentProof: "0xproof",
		})
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(result.ID, "exec-"))
		assert.Equal(t, StatusCompleted, result.Status)
		assert.Empty(t, result.Reason)
		assert.Equal(t, int64(40), result.TotalCost)
		assert.Equal(t, int64(10), result.PlatformFee)
		require.Len(t, result.AgentsUsed, 1)
		assert.Equal(t, agent.ID, result.AgentsUsed[0].AgentID)
		assert.Equal(t, StatusCompleted, result.AgentsUsed[0].Status)
		assert.Equal(t, int64(40), result.AgentsUsed[0].Cost)
	})

	t.Run("NoAffordableAgentFails", func(t *testing.T) {
		catalog := NewCatalog(nil)
		mustRegister(t, catalog, "expensive", []string{"summarize"}, 5000)
		orchestrator := newTestOrchestrator(t, catalog, nil)

		result, err := orchestrator.Execute(context.Background(), &ExecutionRequest{
			Task:         "summarize this report",
			Budget:       100,
			Token:        TokenStable,
			PaymentProof: "0xproof",
		})
		require.NoError(t, err)

		assert.Equal(t, StatusFailed, result.Status)
		assert.NotEmpty(t, result.Reason)
		assert.Zero(t, result.TotalCost)
		assert.Empty(t, result.AgentsUsed)
	})

	t.Run("UncoveredCapabilityIsPartial", func(t *testing.T) {
		catalog := NewCatalog(nil)
		mustRegister(t, catalog, "summarizer", []string{"summarize"}, 40)
		// No translate agent registered.
		orchestrator := newTestOrchestrator(t, catalog, nil)

		result, err := orchestrator.Execute(context.Background(), &ExecutionRequest{
			Task:         "summarize and translate this",
			Budget:       100,
			Token:        TokenStable,
			PaymentProof: "0xproof",
		})
		require.NoError(t, err)

		assert.Equal(t, StatusPartial, result.Status)
		assert.Contains(t, result.Reason, "translate")
		assert.Equal(t, int64(40), result.TotalCost)
	})

	t.Run("FailedAgentSpendsNothing", func(t *testing.T) {
		catalog := NewCatalog(nil)
		flaky := mustRegister(t, catalog, "flaky", []string{"summarize"}, 40)
		steady := mustRegister(t, catalog, "steady", []string{"summarize"}, 30)

		invoker := &scriptedInvoker{failFor: map[string]bool{flaky.ID: true}}
		orchestrator := newTestOrchestrator(t, catalog, invoker)

		result, err := orchestrator.Execute(context.Background(), &ExecutionRequest{
			Task:         "summarize this",
			Budget:       100,
			Token:        TokenStable,
			PaymentProof: "0xproof",
		})
		require.NoError(t, err)

		assert.Equal(t, StatusPartial, result.Status)
		assert.Contains(t, result.Reason, "failed")
		assert.Equal(t, int64(30), result.TotalCost)

		require.Len(t, result.AgentsUsed, 2)
		assert.Equal(t, flaky.ID, result.AgentsUsed[0].AgentID)
		assert.Equal(t, StatusFailed, result.AgentsUsed[0].Status)
		assert.Zero(t, result.AgentsUsed[0].Cost)
		assert.NotEmpty(t, result.AgentsUsed[0].Error)
		assert.Equal(t, steady.ID, result.AgentsUsed[1].AgentID)
		assert.Equal(t, StatusCompleted, result.AgentsUsed[1].Status)
	})

	t.Run("SpentCostReportedOnPartial", func(t *testing.T) {
		catalog := NewCatalog(nil)
		mustRegister(t, catalog, "a", []string{"summarize"}, 60)
		mustRegister(t, catalog, "b", []string{"translate"}, 60)
		orchestrator := newTestOrchestrator(t, catalog, nil)

		// Budget covers only the first of the two needed capabilities.
		result, err := orchestrator.Execute(context.Background(), &ExecutionRequest{
			Task:         "summarize and translate this",
			Budget:       100,
			Token:        TokenStable,
			PaymentProof: "0xproof",
		})
		require.NoError(t, err)

		assert.Equal(t, StatusPartial, result.Status)
		assert.Equal(t, int64(60), result.TotalCost)
		require.Len(t, result.AgentsUsed, 1)
	})

	t.Run("PreferredAgentRunsFirst", func(t *testing.T) {
		catalog := NewCatalog(nil)
		mustRegister(t, catalog, "indexed", []string{"summarize"}, 10)
		favorite := mustRegister(t, catalog, "favorite", []string{"summarize"}, 10)
		orchestrator := newTestOrchestrator(t, catalog, nil)

		result, err := orchestrator.Execute(context.Background(), &ExecutionRequest{
			Task:            "summarize this",
			Budget:          100,
			Token:           TokenStable,
			PreferredAgents: []string{favorite.ID},
			PaymentProof:    "0xproof",
		})
		require.NoError(t, err)

		require.NotEmpty(t, result.AgentsUsed)
		assert.Equal(t, favorite.ID, result.AgentsUsed[0].AgentID)
	})
}

func TestExecuteValidation(t *testing.T) {
	catalog := NewCatalog(nil)
	orchestrator := newTestOrchestrator(t, catalog, nil)

	cases := []struct {
		name  string
		req   *ExecutionRequest
		field string
	}{
		{"NilRequest", nil, "request"},
		{"EmptyTask", &ExecutionRequest{Budget: 10, Token: TokenStable}, "task"},
		{"BlankTask", &ExecutionRequest{Task: "  ", Budget: 10, Token: TokenStable}, "task"},
		{"NegativeBudget", &ExecutionRequest{Task: "x", Budget: -1, Token: TokenStable}, "budget"},
		{"MissingToken", &ExecutionRequest{Task: "x", Budget: 10}, "token"},
		{"UnknownToken", &ExecutionRequest{Task: "x", Budget: 10, Token: "doge"}, "token"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := orchestrator.Execute(context.Background(), tc.req)
			require.Error(t, err)

			var validationErr ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tc.field, validationErr.Field)
		})
	}
}

func TestExecuteChain(t *testing.T) {
	t.Run("PaymentGateQuotesStepCostsPlusFee", func(t *testing.T) {
		catalog := NewCatalog(nil)
		writer := mustRegister(t, catalog, "writer", []string{"summarize"}, 300)
		translator := mustRegister(t, catalog, "translator", []string{"translate"}, 700)
		orchestrator := newTestOrchestrator(t, catalog, nil)

		_, err := orchestrator.ExecuteChain(context.Background(), &ChainRequest{
			Steps: []ChainStep{
				{AgentID: writer.ID, Action: "draft"},
				{AgentID: translator.ID, Action: "translate"},
			},
			Token: TokenNative,
		})
		require.Error(t, err)

		var demand *paymentRequired
		require.ErrorAs(t, err, &demand)

		assert.Equal(t, int64(1100), demand.Demand.Amount) // 1000 + 10% fee
		assert.True(t, strings.HasPrefix(demand.Demand.Memo, "chain-"))
		assert.Equal(t, int64(1000), demand.Demand.Breakdown["totalCost"])
		assert.Equal(t, int64(100), demand.Demand.Breakdown["platformFee"])
		assert.Equal(t, 2, demand.EstimatedAgents)
	})

	t.Run("PaidChainCompletes", func(t *testing.T) {
		catalog := NewCatalog(nil)
		writer := mustRegister(t, catalog, "writer", []string{"summarize"}, 300)
		translator := mustRegister(t, catalog, "translator", []string{"translate"}, 700)
		orchestrator := newTestOrchestrator(t, catalog, nil)

		result, err := orchestrator.ExecuteChain(context.Background(), &ChainRequest{
			Steps: []ChainStep{
				{AgentID: writer.ID, Action: "draft"},
				{AgentID: translator.ID},
			},
			Token:        TokenNative,
			PaymentProof: "0xproof",
		})
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(result.ID, "chain-"))
		assert.Equal(t, StatusCompleted, result.Status)
		assert.Equal(t, int64(1000), result.TotalCost)
		assert.Equal(t, int64(100), result.PlatformFee)

		require.Len(t, result.Steps, 2)
		assert.Equal(t, 1, result.Steps[0].Step)
		assert.Equal(t, "writer", result.Steps[0].AgentName)
		assert.Equal(t, "draft", result.Steps[0].Action)
		assert.Equal(t, "user", result.Steps[0].InputFrom)
		assert.NotEmpty(t, result.Steps[0].Output)

		// Second step defaults: action and wiring from the previous step.
		assert.Equal(t, "process", result.Steps[1].Action)
		assert.Equal(t, "step1", result.Steps[1].InputFrom)
	})

	t.Run("UnknownAgentStepIsDegradedNotFatal", func(t *testing.T) {
		catalog := NewCatalog(nil)
		writer := mustRegister(t, catalog, "writer", []string{"summarize"}, 300)
		orchestrator := newTestOrchestrator(t, catalog, nil)

		result, err := orchestrator.ExecuteChain(context.Background(), &ChainRequest{
			Steps: []ChainStep{
				{AgentID: writer.ID},
				{AgentID: "no-such-agent"},
			},
			Token:        TokenNative,
			PaymentProof: "0xproof",
		})
		require.NoError(t, err)

		require.Len(t, result.Steps, 2)
		assert.False(t, result.Steps[0].Degraded)
		assert.True(t, result.Steps[1].Degraded)
		assert.Equal(t, placeholderAgentName, result.Steps[1].AgentName)
		assert.Zero(t, result.Steps[1].Cost)

		// Unknown steps contribute nothing to cost or fee.
		assert.Equal(t, int64(300), result.TotalCost)
		assert.Equal(t, int64(30), result.PlatformFee)
	})

	t.Run("Validation", func(t *testing.T) {
		orchestrator := newTestOrchestrator(t, NewCatalog(nil), nil)

		cases := []struct {
			name  string
			req   *ChainRequest
			field string
		}{
			{"NilRequest", nil, "request"},
			{"NoSteps", &ChainRequest{Token: TokenNative}, "steps"},
			{"StepWithoutAgent", &ChainRequest{Steps: []ChainStep{{Action: "x"}}, Token: TokenNative}, "steps"},
			{"MissingToken", &ChainRequest{Steps: []ChainStep{{AgentID: "a"}}}, "token"},
			{"UnknownToken", &ChainRequest{Steps: []ChainStep{{AgentID: "a"}}, Token: "doge"}, "token"},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := orchestrator.ExecuteChain(context.Background(), tc.req)
				require.Error(t, err)

				var validationErr ValidationError
				require.ErrorAs(t, err, &validationErr)
				assert.Equal(t, tc.field, validationErr.Field)
			})
		}
	})
}

func TestExecuteRejectedProof(t *testing.T) {
	catalog := NewCatalog(nil)
	mustRegister(t, catalog, "summarizer", []string{"summarize"}, 40)

	orchestrator := NewOrchestrator(OrchestratorConfig{
		Catalog:   catalog,
		Selector:  NewSelector(catalog, nil),
		Taxonomy:  NewTaxonomy(),
		Verifier:  rejectingVerifier{},
		Sessions:  payments.NewMemorySessionStore(time.Minute),
		Recipient: testRecipient,
	})

	_, err := orchestrator.Execute(context.Background(), &ExecutionRequest{
		Task:         "summarize this",
		Budget:       100,
		Token:        TokenStable,
		PaymentProof: "0xbogus",
	})
	require.Error(t, err)

	var demand *paymentRequired
	require.ErrorAs(t, err, &demand)
	assert.Contains(t, demand.Message, "rejected")
	assert.Equal(t, int64(110), demand.Demand.Amount)
}

// scriptedInvoker fails agents listed in failFor and succeeds otherwise.
type scriptedInvoker struct {
	failFor map[string]bool
}

func (s *scriptedInvoker) Invoke(_ context.Context, agent *Agent, _ string) (*InvokeResult, error) {
	if s.failFor[agent.ID] {
		return nil, errors.New("upstream timeout")
	}
	return &InvokeResult{Output: fmt.Sprintf("[%s] ok", agent.Name), ResponseTime: 250}, nil
}

// rejectingVerifier refuses every proof with a reason.
type rejectingVerifier struct{}

func (rejectingVerifier) VerifyPayment(context.Context, string, int64) (*payments.Verification, error) {
	return &payments.Verification{
		Verified: false,
		Details:  map[string]string{"reason": "transaction not found"},
	}, nil
}
