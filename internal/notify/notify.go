// Package notify delivers approval-request notifications. Delivery is
// best-effort: the workflow never blocks or fails on a notifier error.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"decisiongate.org/internal/obs"
)

// ApprovalRequest is the message sent to each required approver when a
// decision enters the approval queue.
type ApprovalRequest struct {
	DecisionID    string    `json:"decision_id"`
	TenantID      string    `json:"tenant_id"`
	Type          string    `json:"type"`
	Description   string    `json:"description"`
	RiskScore     int       `json:"risk_score"`
	ApprovalLevel string    `json:"approval_level"`
	ApproverID    string    `json:"approver_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Notifier delivers approval requests.
type Notifier interface {
	NotifyApprovalRequested(ctx context.Context, req ApprovalRequest) error
}

// NATSNotifier publishes approval requests to a NATS subject per tenant.
// A nil connection degrades to a no-op so the service runs without a broker.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

// NewNATSNotifier wraps an existing connection. conn may be nil.
func NewNATSNotifier(conn *nats.Conn, subjectPrefix string) *NATSNotifier {
	if subjectPrefix == "" {
		subjectPrefix = "decisions.approvals"
	}
	return &NATSNotifier{conn: conn, subject: subjectPrefix}
}

func (n *NATSNotifier) NotifyApprovalRequested(ctx context.Context, req ApprovalRequest) error {
	if n.conn == nil {
		obs.LogEvent(map[string]any{
			"ts":       time.Now().UTC().Format(time.RFC3339Nano),
			"level":    "debug",
			"msg":      "nats disabled, skipping approval notification",
			"decision": req.DecisionID,
		})
		return nil
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal approval request: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", n.subject, req.TenantID)
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// LogNotifier writes approval requests to the structured log. Used when no
// broker is configured and in tests.
type LogNotifier struct{}

func (LogNotifier) NotifyApprovalRequested(ctx context.Context, req ApprovalRequest) error {
	obs.LogEvent(map[string]any{
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
		"level":    "info",
		"msg":      "approval requested",
		"decision": req.DecisionID,
		"tenant":   req.TenantID,
		"approver": req.ApproverID,
		"risk":     req.RiskScore,
		"tier":     req.ApprovalLevel,
		"expires":  req.ExpiresAt.Format(time.RFC3339),
	})
	return nil
}
