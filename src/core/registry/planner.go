package registry

// Plan time model: a fixed linear backoff representing increasing
// coordination overhead per hop, not a measured value.
const (
	planBaseTimeMs    = 500
	planPerStepTimeMs = 200

	// maxPlanPreviewSteps caps plans built for recommendation previews.
	maxPlanPreviewSteps = 5
)

// BuildPlan turns an ordered agent list into a costed execution plan.
// Step numbers start at 1 in input order. An empty agent list yields an
// empty plan with zero cost and zero time, never an error.
func BuildPlan(task string, agents []*Agent) *ExecutionPlan {
	plan := &ExecutionPlan{Steps: make([]PlanStep, 0, len(agents))}

	for i, agent := range agents {
		stepTime := int64(planBaseTimeMs + i*planPerStepTimeMs)
		step := PlanStep{
			Step:          i + 1,
			AgentID:       agent.ID,
			AgentName:     agent.Name,
			Action:        "process: " + task,
			EstimatedCost: agent.Pricing.BasePrice,
			EstimatedTime: stepTime,
		}
		plan.Steps = append(plan.Steps, step)
		plan.TotalCost += step.EstimatedCost
		plan.EstimatedTime += stepTime
	}

	return plan
}

// BuildPreviewPlan builds a plan over at most the first 5 ranked agents,
// used by the recommendation flow.
func BuildPreviewPlan(task string, ranked []Recommendation) *ExecutionPlan {
	agents := make([]*Agent, 0, maxPlanPreviewSteps)
	for _, rec := range ranked {
		if len(agents) == maxPlanPreviewSteps {
			break
		}
		agents = append(agents, rec.Agent)
	}
	return BuildPlan(task, agents)
}
