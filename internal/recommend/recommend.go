// Package recommend produces AI-backed recommendations for pending business
// decisions. Providers are tried in order; when every provider fails the
// static fallback is substituted so decision creation never fails on the
// recommendation path.
package recommend

import (
	"context"
	"time"

	"decisiongate.org/internal/obs"
)

// Recommendation is the advisory attached to a decision.
type Recommendation struct {
	Action       string   `json:"action"`
	Confidence   float64  `json:"confidence"`
	Alternatives []string `json:"alternatives,omitempty"`
	Provider     string   `json:"provider,omitempty"`
}

// Fallback is the recommendation used when every provider fails.
var Fallback = Recommendation{
	Action:     "Proceed with caution",
	Confidence: 0.5,
	Provider:   "fallback",
}

// Request carries the decision attributes providers reason over.
type Request struct {
	TenantID      string            `json:"tenant_id"`
	Type          string            `json:"type"`
	Description   string            `json:"description"`
	Amount        int64             `json:"amount"`
	AffectedUsers int               `json:"affected_users"`
	RiskScore     int               `json:"risk_score"`
	Level         string            `json:"level"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Provider generates a recommendation for a decision.
type Provider interface {
	Name() string
	Recommend(ctx context.Context, req Request) (Recommendation, error)
}

// Chain tries each provider in order and falls back to the static default.
// An empty chain yields Fallback immediately.
type Chain struct {
	providers []Provider
	timeout   time.Duration
}

// NewChain builds a provider chain. A zero timeout disables the per-provider
// deadline.
func NewChain(timeout time.Duration, providers ...Provider) *Chain {
	return &Chain{providers: providers, timeout: timeout}
}

func (c *Chain) Name() string { return "chain" }

// Recommend returns the first successful provider result, or Fallback when
// all providers fail. It never returns an error to the caller; failures are
// logged so degraded mode stays observable.
func (c *Chain) Recommend(ctx context.Context, req Request) (Recommendation, error) {
	for _, p := range c.providers {
		rec, err := c.tryProvider(ctx, p, req)
		if err == nil {
			rec.Provider = p.Name()
			return rec, nil
		}
		obs.LogEvent(map[string]any{
			"ts":       time.Now().UTC().Format(time.RFC3339Nano),
			"level":    "warn",
			"msg":      "recommendation provider failed",
			"provider": p.Name(),
			"tenant":   req.TenantID,
			"error":    err.Error(),
		})
	}
	return Fallback, nil
}

func (c *Chain) tryProvider(ctx context.Context, p Provider, req Request) (Recommendation, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return p.Recommend(ctx, req)
}

// Static always returns a fixed recommendation; used in tests and as a
// deterministic provider for offline deployments.
type Static struct {
	ProviderName string
	Result       Recommendation
	Err          error
}

func (s Static) Name() string {
	if s.ProviderName != "" {
		return s.ProviderName
	}
	return "static"
}

func (s Static) Recommend(ctx context.Context, req Request) (Recommendation, error) {
	if s.Err != nil {
		return Recommendation{}, s.Err
	}
	return s.Result, nil
}
