package registry

import "fmt"

// ValidationError reports a missing or malformed input field. Mapped to 400.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports a reference to a resource that does not exist.
// Mapped to 404.
type NotFoundError struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// PaymentRequiredError is a protocol state, not a failure: the caller must
// re-submit with a payment proof. Mapped to 402.
type PaymentRequiredError struct {
	Message string        `json:"message"`
	Demand  PaymentDemand `json:"payment"`
}

func (e PaymentRequiredError) Error() string {
	return fmt.Sprintf("payment required: %d %s to %s", e.Demand.Amount, e.Demand.Token, e.Demand.Recipient)
}

// UpstreamError reports a downstream agent call that failed after retries.
// It never aborts sibling steps; the run accumulates into a partial status.
type UpstreamError struct {
	AgentID string
	Cause   error
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("upstream agent %s unavailable: %v", e.AgentID, e.Cause)
}

func (e UpstreamError) Unwrap() error {
	return e.Cause
}
