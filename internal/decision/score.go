package decision

import (
	"context"
	"time"

	"decisiongate.org/internal/obs"
	"decisiongate.org/internal/policy"
)

// Weight contributions for the baseline scoring heuristic. Amounts are in
// minor units (cents).
const (
	amountHuge   = 1_000_000 // >= $10k
	amountLarge  = 100_000   // >= $1k
	amountMedium = 10_000    // >= $100

	weightAmountHuge   = 25
	weightAmountLarge  = 15
	weightAmountMedium = 8
	weightAmountSmall  = 3

	weightUsersMass   = 20 // >= 1000 affected
	weightUsersMany   = 12 // >= 100
	weightUsersSome   = 6  // >= 10
	weightUsersFew    = 2  // > 0

	weightRevenue      = 15
	weightIrreversible = 20
)

// ScoreInput carries the decision attributes the scorer reads. Reversible is
// tri-state: nil means the requester did not say, which must lower the score
// rather than counting as irreversible.
type ScoreInput struct {
	Type           string
	Amount         int64
	AffectedUsers  int
	AffectsRevenue bool
	Reversible     *bool
	Metadata       map[string]string
}

// Scorer computes risk scores from decision attributes and tenant policy.
// Deterministic given its inputs; the policy read is its only I/O.
type Scorer struct {
	policies policy.Store
	engine   *policy.Engine
}

// NewScorer builds a scorer. A nil engine disables CEL rule overrides.
func NewScorer(policies policy.Store, engine *policy.Engine) *Scorer {
	return &Scorer{policies: policies, engine: engine}
}

// Score produces an integer risk score in [0,100]. Missing optional fields
// are treated as zero/false and never error.
func (s *Scorer) Score(ctx context.Context, tenantID string, in ScoreInput) int {
	pol := s.policyFor(ctx, tenantID)

	score := pol.TypeWeight(in.Type)

	switch {
	case in.Amount >= amountHuge:
		score += weightAmountHuge
	case in.Amount >= amountLarge:
		score += weightAmountLarge
	case in.Amount >= amountMedium:
		score += weightAmountMedium
	case in.Amount > 0:
		score += weightAmountSmall
	}

	switch {
	case in.AffectedUsers >= 1000:
		score += weightUsersMass
	case in.AffectedUsers >= 100:
		score += weightUsersMany
	case in.AffectedUsers >= 10:
		score += weightUsersSome
	case in.AffectedUsers > 0:
		score += weightUsersFew
	}

	if in.AffectsRevenue {
		score += weightRevenue
	}
	if in.Reversible != nil && !*in.Reversible {
		score += weightIrreversible
	}

	if pol.Pinned(in.Type) && score < policy.PinnedMinScore {
		score = policy.PinnedMinScore
	}
	score = s.applyRules(tenantID, pol, in, score)

	return clampScore(score)
}

func (s *Scorer) policyFor(ctx context.Context, tenantID string) *policy.Policy {
	if s.policies == nil {
		return policy.Default()
	}
	pol, err := s.policies.PolicyFor(ctx, tenantID)
	if err != nil {
		// A broken policy read must not block scoring; fall back to baseline.
		obs.LogEvent(map[string]any{
			"ts":     time.Now().UTC().Format(time.RFC3339Nano),
			"level":  "warn",
			"msg":    "risk policy read failed, using baseline",
			"tenant": tenantID,
			"error":  err.Error(),
		})
		return policy.Default()
	}
	return pol
}

// applyRules raises the score floor for every matching CEL rule. Broken
// rules are skipped, not fatal.
func (s *Scorer) applyRules(tenantID string, pol *policy.Policy, in ScoreInput, score int) int {
	if s.engine == nil || len(pol.Rules) == 0 {
		return score
	}
	facts := map[string]any{
		"decision": map[string]any{
			"type":            in.Type,
			"amount":          in.Amount,
			"affected_users":  in.AffectedUsers,
			"affects_revenue": in.AffectsRevenue,
			"reversible":      in.Reversible != nil && *in.Reversible,
			"metadata":        metadataFacts(in.Metadata),
		},
	}
	for _, rule := range pol.Rules {
		matched, err := s.engine.Match(tenantID+"/"+rule.Name, rule.Expression, facts)
		if err != nil {
			obs.LogEvent(map[string]any{
				"ts":     time.Now().UTC().Format(time.RFC3339Nano),
				"level":  "warn",
				"msg":    "policy rule evaluation failed",
				"tenant": tenantID,
				"rule":   rule.Name,
				"error":  err.Error(),
			})
			continue
		}
		if matched && rule.MinScore > score {
			score = rule.MinScore
		}
	}
	return score
}

func metadataFacts(md map[string]string) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
