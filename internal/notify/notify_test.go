package notify

import (
	"context"
	"testing"
	"time"
)

func TestNATSNotifierNilConnIsNoop(t *testing.T) {
	n := NewNATSNotifier(nil, "")
	err := n.NotifyApprovalRequested(context.Background(), ApprovalRequest{
		DecisionID: "d1",
		TenantID:   "t1",
		ApproverID: "u1",
		ExpiresAt:  time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("nil-conn notify must not fail: %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	if err := (LogNotifier{}).NotifyApprovalRequested(context.Background(), ApprovalRequest{
		DecisionID: "d1", TenantID: "t1", ApproverID: "u1",
	}); err != nil {
		t.Fatalf("log notify: %v", err)
	}
}
