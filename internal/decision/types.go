// Package decision implements the approval workflow for AI-initiated
// business decisions: risk scoring, approval-level routing, the approval
// queue state machine, execution and outcome tracking.
package decision

import (
	"errors"
	"time"

	"decisiongate.org/internal/recommend"
)

// Status is the lifecycle state of a decision. Decisions are never deleted,
// only transitioned.
type Status string

const (
	StatusPending    Status = "pending"
	StatusExecuted   Status = "executed"
	StatusRejected   Status = "rejected"
	StatusRolledBack Status = "rolled_back"
)

// QueueStatus is the state of an approval queue entry. pending is the only
// non-terminal state.
type QueueStatus string

const (
	QueuePending  QueueStatus = "pending"
	QueueApproved QueueStatus = "approved"
	QueueRejected QueueStatus = "rejected"
	QueueExpired  QueueStatus = "expired"
)

// ExecutionResult records the outcome of the business side effect.
// Failure is data, not a transport error.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Decision is the persisted record of an AI-initiated business decision.
type Decision struct {
	ID             string                  `json:"id"`
	TenantID       string                  `json:"tenant_id"`
	Type           string                  `json:"type"`
	Description    string                  `json:"description"`
	Amount         int64                   `json:"amount"` // minor units
	AffectedUsers  int                     `json:"affected_users"`
	AffectsRevenue bool                    `json:"affects_revenue"`
	Reversible     bool                    `json:"reversible"`
	Metadata       map[string]string       `json:"metadata,omitempty"`
	RiskScore      int                     `json:"risk_score"`
	ApprovalLevel  Level                   `json:"approval_level"`
	Recommendation recommend.Recommendation `json:"recommendation"`
	RequestedBy    string                  `json:"requested_by"`
	Status         Status                  `json:"status"`
	ExecutionResult *ExecutionResult       `json:"execution_result,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	ExecutedAt     *time.Time              `json:"executed_at,omitempty"`
}

// QueueEntry links a pending decision to its required approvers. The entry is
// pure coordination state; the decision row stays the source of truth for
// business content.
type QueueEntry struct {
	DecisionID        string      `json:"decision_id"`
	TenantID          string      `json:"tenant_id"`
	RequiredApprovers []string    `json:"required_approvers"`
	ApprovedBy        []string    `json:"approved_by"`
	RejectedBy        []string    `json:"rejected_by"`
	Status            QueueStatus `json:"status"`
	Priority          int         `json:"priority"` // derived from risk score
	CreatedAt         time.Time   `json:"created_at"`
	ExpiresAt         time.Time   `json:"expires_at"`
	ResolvedAt        *time.Time  `json:"resolved_at,omitempty"`
}

// Expired reports whether the entry's approval window has closed at t.
func (q *QueueEntry) Expired(t time.Time) bool {
	return !t.Before(q.ExpiresAt)
}

// QuorumReached reports whether every required approver has approved.
func (q *QueueEntry) QuorumReached() bool {
	return len(q.RequiredApprovers) > 0 && len(q.ApprovedBy) >= len(q.RequiredApprovers)
}

// Outcome is the write-once audit row correlating predicted risk with the
// realized result. Never mutated after creation.
type Outcome struct {
	ID            string    `json:"id"`
	DecisionID    string    `json:"decision_id"`
	TenantID      string    `json:"tenant_id"`
	Type          string    `json:"type"`
	RiskScore     int       `json:"risk_score"`
	ApprovalLevel Level     `json:"approval_level"`
	FinalStatus   Status    `json:"final_status"`
	Approved      bool      `json:"approved"`
	Rejected      bool      `json:"rejected"`
	RolledBack    bool      `json:"rolled_back"`
	ExecSuccess   bool      `json:"exec_success"`
	ExecError     string    `json:"exec_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

var (
	ErrNotFound        = errors.New("decision: not found")
	ErrInvalidInput    = errors.New("decision: invalid input")
	ErrNotApprover     = errors.New("decision: user is not a required approver")
	ErrAlreadyResolved = errors.New("decision: approval already resolved")
	ErrConflictingVote = errors.New("decision: approver already voted the other way")
	ErrExpired         = errors.New("decision: approval window expired")
	ErrNoApprovers     = errors.New("decision: no eligible approvers")
)
