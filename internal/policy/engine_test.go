package policy

import "testing"

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func facts(decision map[string]any) map[string]any {
	return map[string]any{"decision": decision}
}

func TestEngineMatch(t *testing.T) {
	e := newEngine(t)

	matched, err := e.Match("r1", `decision.type == "refund" && decision.amount > 1000`, facts(map[string]any{
		"type":   "refund",
		"amount": int64(5000),
	}))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !matched {
		t.Fatal("expected rule to match")
	}

	matched, err = e.Match("r1", `decision.type == "refund" && decision.amount > 1000`, facts(map[string]any{
		"type":   "refund",
		"amount": int64(10),
	}))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if matched {
		t.Fatal("expected rule not to match")
	}
}

func TestEngineCompileError(t *testing.T) {
	e := newEngine(t)
	if _, err := e.Match("bad", `decision.type ==`, facts(map[string]any{"type": "x"})); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestEngineNonBooleanIsFalse(t *testing.T) {
	e := newEngine(t)
	matched, err := e.Match("nonbool", `decision.amount + 1`, facts(map[string]any{"amount": int64(1)}))
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if matched {
		t.Fatal("non-boolean result must evaluate to false")
	}
}

func TestEngineMetadataAccess(t *testing.T) {
	e := newEngine(t)
	matched, err := e.Match("meta", `decision.metadata["region"] == "eu"`, facts(map[string]any{
		"metadata": map[string]any{"region": "eu"},
	}))
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !matched {
		t.Fatal("expected metadata rule to match")
	}
}

func TestPolicyTypeWeight(t *testing.T) {
	p := &Policy{TypeWeights: map[string]int{"refund": 42}}
	if got := p.TypeWeight("refund"); got != 42 {
		t.Fatalf("override weight = %d, want 42", got)
	}
	if got := p.TypeWeight("payment"); got != BaselineTypeWeights["payment"] {
		t.Fatalf("baseline weight = %d", got)
	}
	if got := p.TypeWeight("unheard_of"); got != DefaultTypeWeight {
		t.Fatalf("default weight = %d", got)
	}
}

func TestStaticStoreDefaultsUnknownTenant(t *testing.T) {
	s := NewStaticStore()
	p, err := s.PolicyFor(nil, "nobody")
	if err != nil {
		t.Fatalf("policy for: %v", err)
	}
	if p.Pinned("anything") || len(p.Rules) != 0 {
		t.Fatalf("unknown tenant should get default policy, got %+v", p)
	}
}
