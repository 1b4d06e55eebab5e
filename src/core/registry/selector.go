package registry

import (
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/pbtc21/x402-registry/src/core/logger"
)

// maxRecommendations caps the recommendation list.
const maxRecommendations = 10

// Selector picks agents for a set of needed capabilities under a budget.
type Selector struct {
	catalog *Catalog
	logger  *logger.Logger
}

// NewSelector creates a selector over a catalog.
func NewSelector(catalog *Catalog, log *logger.Logger) *Selector {
	return &Selector{catalog: catalog, logger: log}
}

// Select returns a non-overlapping ordered subset of agents covering as many
// of the needed capabilities as the budget allows. Greedy first-fit, no
// backtracking: preferred agents are taken first (skipped only when they
// don't fit the remaining budget, never for capability reasons), then each
// capability's index is walked in stable order. The sum of selected prices
// never exceeds the original budget.
func (s *Selector) Select(capabilities []string, budget int64, preferred []string) []*Agent {
	remaining := budget
	var selected []*Agent
	seen := make(map[string]bool)

	for _, id := range preferred {
		agent, err := s.catalog.Get(id)
		if err != nil {
			if s.logger != nil {
				s.logger.Debug("Preferred agent %s not in catalog, skipping", id)
			}
			continue
		}
		if seen[agent.ID] || agent.Pricing.BasePrice > remaining {
			continue
		}
		selected = append(selected, agent)
		seen[agent.ID] = true
		remaining -= agent.Pricing.BasePrice
	}

	for _, capability := range capabilities {
		for _, id := range s.catalog.AgentsFor(capability) {
			if seen[id] {
				continue
			}
			agent, err := s.catalog.Get(id)
			if err != nil {
				continue // index briefly ahead of the map; next request sees it
			}
			if agent.Pricing.BasePrice > remaining {
				continue
			}
			selected = append(selected, agent)
			seen[id] = true
			remaining -= agent.Pricing.BasePrice
		}
	}

	return selected
}

// Coverage reports which of the needed capabilities the selected agents
// actually declare. Used to distinguish completed from partial runs.
func Coverage(needed []string, selected []*Agent) (covered, missing []string) {
	declared := make(map[string]bool)
	for _, agent := range selected {
		for _, capability := range agent.Capabilities {
			declared[capability] = true
		}
	}
	for _, capability := range needed {
		if declared[capability] {
			covered = append(covered, capability)
		} else {
			missing = append(missing, capability)
		}
	}
	return covered, missing
}

// RecommendOptions tunes recommendation scoring.
type RecommendOptions struct {
	// Budget filters out agents priced above it when positive.
	Budget int64
	// VersionConstraint optionally restricts candidates to agents whose
	// declared version satisfies a semver constraint.
	VersionConstraint string
}

// Recommend ranks catalog agents against the needed capabilities.
// score = 100 * |matched| / |needed|, descending; ties keep encounter
// order; the result is truncated to the top 10.
func (s *Selector) Recommend(needed []string, opts RecommendOptions) []Recommendation {
	if len(needed) == 0 {
		return nil
	}

	var constraint *semver.Constraints
	if opts.VersionConstraint != "" {
		parsed, err := semver.NewConstraint(opts.VersionConstraint)
		if err != nil {
			// Invalid constraint falls back to exact string match, same
			// rules as version matching elsewhere.
			if s.logger != nil {
				s.logger.Debug("Invalid semver constraint %q: %v, falling back to string comparison", opts.VersionConstraint, err)
			}
		} else {
			constraint = parsed
		}
	}

	neededSet := make(map[string]bool, len(needed))
	for _, capability := range needed {
		neededSet[capability] = true
	}

	var recommendations []Recommendation
	for _, agent := range s.catalog.List() {
		if opts.Budget > 0 && agent.Pricing.BasePrice > opts.Budget {
			continue
		}
		if opts.VersionConstraint != "" && !s.matchVersion(agent.Version, opts.VersionConstraint, constraint) {
			continue
		}

		var matched []string
		for _, capability := range agent.Capabilities {
			if neededSet[capability] {
				matched = append(matched, capability)
			}
		}
		if len(matched) == 0 {
			continue
		}

		recommendations = append(recommendations, Recommendation{
			Agent:               agent,
			MatchScore:          100 * len(matched) / len(needed),
			MatchedCapabilities: matched,
		})
	}

	// SliceStable keeps encounter order for equal scores.
	sort.SliceStable(recommendations, func(i, j int) bool {
		return recommendations[i].MatchScore > recommendations[j].MatchScore
	})

	if len(recommendations) > maxRecommendations {
		recommendations = recommendations[:maxRecommendations]
	}
	return recommendations
}

// matchVersion checks a declared version against a constraint, falling back
// to exact string comparison when either side is not valid semver.
func (s *Selector) matchVersion(version, raw string, constraint *semver.Constraints) bool {
	if version == "" {
		return false
	}
	if constraint == nil {
		return version == raw
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("Invalid semver version %q: %v, falling back to string comparison", version, err)
		}
		return version == raw
	}
	return constraint.Check(v)
}
