package registry

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// AgentRegistrationValidator validates inbound registration payloads.
type AgentRegistrationValidator struct {
	capabilityNamePattern *regexp.Regexp
	ownerPattern          *regexp.Regexp
}

// NewAgentRegistrationValidator creates a new validator instance.
func NewAgentRegistrationValidator() *AgentRegistrationValidator {
	return &AgentRegistrationValidator{
		// Capability tags: lowercase kebab-case, e.g. "blockchain-query"
		capabilityNamePattern: regexp.MustCompile(`^[a-z][a-z0-9-]*$`),
		// Owner is a wallet address: 0x-prefixed hex or an opaque handle
		ownerPattern: regexp.MustCompile(`^(0x[0-9a-fA-F]{40}|[A-Za-z0-9_.-]{3,64})$`),
	}
}

// ValidateAgentRegistration checks all required registration fields.
func (v *AgentRegistrationValidator) ValidateAgentRegistration(req *AgentRegistrationRequest) error {
	if req == nil {
		return ValidationError{Field: "request", Message: "request cannot be nil"}
	}

	if req.Name == "" {
		return ValidationError{Field: "name", Message: "name is required"}
	}
	if len(req.Name) > 63 {
		return ValidationError{Field: "name", Message: "name cannot exceed 63 characters"}
	}

	if len(req.Capabilities) == 0 {
		return ValidationError{Field: "capabilities", Message: "at least one capability is required"}
	}
	for _, capability := range req.Capabilities {
		if !v.capabilityNamePattern.MatchString(capability) {
			return ValidationError{
				Field:   "capabilities",
				Message: fmt.Sprintf("invalid capability tag %q: must be lowercase alphanumeric with hyphens", capability),
			}
		}
	}

	if req.Owner == "" {
		return ValidationError{Field: "owner", Message: "owner is required"}
	}
	if !v.ownerPattern.MatchString(req.Owner) {
		return ValidationError{Field: "owner", Message: "owner must be a wallet address or handle"}
	}

	if req.Pricing == nil {
		return ValidationError{Field: "pricing", Message: "pricing is required"}
	}
	if err := v.validatePricing(req.Pricing); err != nil {
		return err
	}

	for _, endpoint := range req.Endpoints {
		if err := v.validateEndpointURL(endpoint); err != nil {
			return err
		}
	}

	// Version is optional; when present it must parse as semver.
	if req.Version != "" {
		if _, err := semver.NewVersion(req.Version); err != nil {
			return ValidationError{
				Field:   "version",
				Message: fmt.Sprintf("invalid semantic version %q", req.Version),
			}
		}
	}

	return nil
}

func (v *AgentRegistrationValidator) validatePricing(p *Pricing) error {
	switch p.Model {
	case PricingPerCall, PricingPerToken, PricingFlat:
	default:
		return ValidationError{
			Field:   "pricing.model",
			Message: fmt.Sprintf("invalid pricing model %q (valid: per-call, per-token, flat)", p.Model),
		}
	}

	if p.BasePrice < 0 {
		return ValidationError{Field: "pricing.basePrice", Message: "basePrice must be non-negative"}
	}

	switch p.Token {
	case TokenNative, TokenSynthetic, TokenStable:
	default:
		return ValidationError{
			Field:   "pricing.token",
			Message: fmt.Sprintf("invalid token %q (valid: native-coin, synthetic-bitcoin, stable-coin)", p.Token),
		}
	}

	return nil
}

func (v *AgentRegistrationValidator) validateEndpointURL(endpoint string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return ValidationError{
			Field:   "endpoints",
			Message: fmt.Sprintf("invalid endpoint URL %q", endpoint),
		}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ValidationError{
			Field:   "endpoints",
			Message: fmt.Sprintf("endpoint %q must use http or https", endpoint),
		}
	}
	return nil
}

// ValidateEndpointRegistration checks a fee-gated endpoint payload.
func (v *AgentRegistrationValidator) ValidateEndpointRegistration(req *EndpointRegistrationRequest) error {
	if req == nil {
		return ValidationError{Field: "request", Message: "request cannot be nil"}
	}
	if req.Name == "" {
		return ValidationError{Field: "name", Message: "name is required"}
	}
	if req.URL == "" {
		return ValidationError{Field: "url", Message: "url is required"}
	}
	if err := v.validateEndpointURL(req.URL); err != nil {
		return ValidationError{Field: "url", Message: err.Error()}
	}
	if req.Price < 0 {
		return ValidationError{Field: "price", Message: "price must be non-negative"}
	}
	switch req.Token {
	case TokenNative, TokenSynthetic, TokenStable:
	default:
		return ValidationError{
			Field:   "token",
			Message: fmt.Sprintf("invalid token %q (valid: native-coin, synthetic-bitcoin, stable-coin)", req.Token),
		}
	}
	if req.Owner == "" {
		return ValidationError{Field: "owner", Message: "owner is required"}
	}
	if !v.ownerPattern.MatchString(req.Owner) {
		return ValidationError{Field: "owner", Message: "owner must be a wallet address or handle"}
	}
	return nil
}
