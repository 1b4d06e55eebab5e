package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"
)

// InvokeResult is the outcome of one downstream agent call.
type InvokeResult struct {
	Output       string
	ResponseTime int64 // milliseconds
}

// AgentInvoker is the callable-agent seam: production implementations can
// substitute real HTTP calls without touching selection or planning logic.
type AgentInvoker interface {
	Invoke(ctx context.Context, agent *Agent, task string) (*InvokeResult, error)
}

// SimulatedInvoker stands in for real downstream calls. It always succeeds
// with a deterministic per-agent latency, so executions are reproducible.
type SimulatedInvoker struct{}

// Invoke synthesizes an agent response.
func (SimulatedInvoker) Invoke(ctx context.Context, agent *Agent, task string) (*InvokeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &InvokeResult{
		Output:       fmt.Sprintf("[%s] processed task", agent.Name),
		ResponseTime: simulatedLatency(agent.ID),
	}, nil
}

// simulatedLatency derives a stable pseudo-latency from the agent id,
// between 200 and 999 milliseconds.
func simulatedLatency(agentID string) int64 {
	h := fnv.New32a()
	h.Write([]byte(agentID))
	return 200 + int64(h.Sum32()%800)
}

// RetryingInvoker wraps another invoker with a per-call timeout and bounded
// retry with backoff on transient failure. Exhausted retries surface as
// UpstreamError and accumulate into a partial execution status.
type RetryingInvoker struct {
	Next        AgentInvoker
	CallTimeout time.Duration
	Retries     int
	Backoff     time.Duration
}

// NewRetryingInvoker wraps next with default backoff.
func NewRetryingInvoker(next AgentInvoker, callTimeout time.Duration, retries int) *RetryingInvoker {
	return &RetryingInvoker{
		Next:        next,
		CallTimeout: callTimeout,
		Retries:     retries,
		Backoff:     250 * time.Millisecond,
	}
}

// Invoke calls the wrapped invoker, retrying transient failures.
func (r *RetryingInvoker) Invoke(ctx context.Context, agent *Agent, task string) (*InvokeResult, error) {
	var lastErr error
	backoff := r.Backoff

	for attempt := 0; attempt <= r.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if r.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.CallTimeout)
		}
		result, err := r.Next.Invoke(callCtx, agent, task)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		// The overall deadline is not retryable.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, UpstreamError{AgentID: agent.ID, Cause: lastErr}
}
