// Package policy holds per-tenant risk policies: baseline weight overrides,
// always-high-risk decision types, and CEL rules that can force a minimum
// risk score when they match a decision's attributes.
package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
)

// Rule raises the risk floor for decisions matching a CEL expression.
// The expression is evaluated against a `decision` map with keys
// type, amount, affected_users, affects_revenue, reversible and metadata.
type Rule struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	MinScore   int    `json:"min_score"`
}

// Policy is the tenant-scoped scoring configuration.
type Policy struct {
	TenantID string `json:"tenant_id"`
	// TypeWeights overrides the baseline risk weight per decision type.
	TypeWeights map[string]int `json:"type_weights,omitempty"`
	// AlwaysHighRisk pins decision types to at least the executive range.
	AlwaysHighRisk []string `json:"always_high_risk,omitempty"`
	Rules          []Rule   `json:"rules,omitempty"`
}

// PinnedMinScore is the floor applied to always-high-risk types.
const PinnedMinScore = 90

var ErrNotFound = errors.New("policy: not found")

// Default returns the baseline policy used when a tenant has none configured.
func Default() *Policy {
	return &Policy{}
}

// BaselineTypeWeights is the stock risk weight per decision type. Unknown
// types fall back to DefaultTypeWeight.
var BaselineTypeWeights = map[string]int{
	"refund":               5,
	"discount":             5,
	"expense_approval":     8,
	"campaign_launch":      10,
	"payment":              15,
	"hiring":               15,
	"pricing_change":       20,
	"data_deletion":        25,
	"contract_termination": 30,
}

// DefaultTypeWeight applies to decision types without a configured weight.
const DefaultTypeWeight = 10

// TypeWeight resolves the effective base weight for a decision type.
func (p *Policy) TypeWeight(decisionType string) int {
	if p != nil {
		if w, ok := p.TypeWeights[decisionType]; ok {
			return w
		}
	}
	if w, ok := BaselineTypeWeights[decisionType]; ok {
		return w
	}
	return DefaultTypeWeight
}

// Pinned reports whether the tenant flagged the type as always high risk.
func (p *Policy) Pinned(decisionType string) bool {
	if p == nil {
		return false
	}
	for _, t := range p.AlwaysHighRisk {
		if t == decisionType {
			return true
		}
	}
	return false
}

// Store resolves the policy for a tenant.
type Store interface {
	PolicyFor(ctx context.Context, tenantID string) (*Policy, error)
}

// StaticStore serves policies from memory; tenants without an entry get the
// default policy.
type StaticStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

func NewStaticStore() *StaticStore {
	return &StaticStore{policies: make(map[string]*Policy)}
}

// Put installs or replaces a tenant policy.
func (s *StaticStore) Put(p *Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.TenantID] = p
}

func (s *StaticStore) PolicyFor(ctx context.Context, tenantID string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.policies[tenantID]; ok {
		cp := *p
		return &cp, nil
	}
	return Default(), nil
}

// PGStore reads tenant policies from PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) PolicyFor(ctx context.Context, tenantID string) (*Policy, error) {
	var (
		weights []byte
		pinned  []byte
		rules   []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select type_weights, always_high_risk, rules
		from risk_policies where tenant_id=$1
	`, tenantID).Scan(&weights, &pinned, &rules)
	if errors.Is(err, sql.ErrNoRows) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	p := &Policy{TenantID: tenantID}
	_ = json.Unmarshal(weights, &p.TypeWeights)
	_ = json.Unmarshal(pinned, &p.AlwaysHighRisk)
	_ = json.Unmarshal(rules, &p.Rules)
	return p, nil
}
