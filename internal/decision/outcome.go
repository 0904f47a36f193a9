package decision

import (
	"context"
	"time"

	"decisiongate.org/internal/ids"
	"decisiongate.org/internal/obs"
	"decisiongate.org/internal/tasks"
)

// OutcomeTracker records write-once outcome rows off the request path.
type OutcomeTracker struct {
	store  Store
	runner *tasks.Runner
	now    func() time.Time
}

// NewOutcomeTracker builds a tracker. A nil runner makes Record synchronous,
// which tests rely on.
func NewOutcomeTracker(store Store, runner *tasks.Runner) *OutcomeTracker {
	return &OutcomeTracker{store: store, runner: runner, now: time.Now}
}

// Record captures the terminal state of a decision. Best-effort: failures are
// logged, never surfaced to the workflow.
func (t *OutcomeTracker) Record(d *Decision, q *QueueEntry) {
	o := buildOutcome(d, q, t.now().UTC())
	if t.runner == nil {
		t.append(context.Background(), o)
		return
	}
	t.runner.Submit(func(ctx context.Context) {
		t.append(ctx, o)
	})
}

func (t *OutcomeTracker) append(ctx context.Context, o *Outcome) {
	if err := t.store.AppendOutcome(ctx, o); err != nil {
		obs.LogEvent(map[string]any{
			"ts":       time.Now().UTC().Format(time.RFC3339Nano),
			"level":    "error",
			"msg":      "outcome append failed",
			"decision": o.DecisionID,
			"tenant":   o.TenantID,
			"error":    err.Error(),
		})
	}
}

func buildOutcome(d *Decision, q *QueueEntry, at time.Time) *Outcome {
	o := &Outcome{
		ID:            ids.New(),
		DecisionID:    d.ID,
		TenantID:      d.TenantID,
		Type:          d.Type,
		RiskScore:     d.RiskScore,
		ApprovalLevel: d.ApprovalLevel,
		FinalStatus:   d.Status,
		Rejected:      d.Status == StatusRejected,
		RolledBack:    d.Status == StatusRolledBack,
		CreatedAt:     at,
	}
	if q != nil {
		o.Approved = q.Status == QueueApproved
	} else {
		// No queue entry means the tier executed without human sign-off.
		o.Approved = d.Status == StatusExecuted
	}
	if d.ExecutionResult != nil {
		o.ExecSuccess = d.ExecutionResult.Success
		o.ExecError = d.ExecutionResult.Error
	}
	return o
}
