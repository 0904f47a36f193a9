package decision

import (
	"encoding/json"
	"testing"
)

func TestResolveLevelBoundaries(t *testing.T) {
	cases := []struct {
		score int
		want  Level
	}{
		{0, LevelAutoExecute},
		{19, LevelAutoExecute},
		{20, LevelAuditLog},
		{39, LevelAuditLog},
		{40, LevelManagerApproval},
		{69, LevelManagerApproval},
		{70, LevelExecutiveApproval},
		{100, LevelExecutiveApproval},
	}
	for _, c := range cases {
		if got := ResolveLevel(c.score); got != c.want {
			t.Errorf("ResolveLevel(%d) = %v, want %v", c.score, got, c.want)
		}
	}
}

func TestResolveLevelMonotonic(t *testing.T) {
	prev := ResolveLevel(0)
	for score := 1; score <= 100; score++ {
		cur := ResolveLevel(score)
		if cur < prev {
			t.Fatalf("level decreased at score %d: %v -> %v", score, prev, cur)
		}
		prev = cur
	}
}

func TestLevelRequiresApproval(t *testing.T) {
	if LevelAutoExecute.RequiresApproval() || LevelAuditLog.RequiresApproval() {
		t.Fatal("auto/audit tiers must not require approval")
	}
	if !LevelManagerApproval.RequiresApproval() || !LevelExecutiveApproval.RequiresApproval() {
		t.Fatal("manager/executive tiers must require approval")
	}
}

func TestLevelJSONRoundTrip(t *testing.T) {
	for _, lvl := range []Level{LevelAutoExecute, LevelAuditLog, LevelManagerApproval, LevelExecutiveApproval} {
		data, err := json.Marshal(lvl)
		if err != nil {
			t.Fatalf("marshal %v: %v", lvl, err)
		}
		var back Level
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != lvl {
			t.Fatalf("round trip %v -> %v", lvl, back)
		}
	}

	var bad Level
	if err := json.Unmarshal([]byte(`"critical"`), &bad); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
