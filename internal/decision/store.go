package decision

import (
	"context"
	"sort"
	"time"
)

// ListFilter narrows decision listings. Zero values mean "no filter".
type ListFilter struct {
	Status Status
	Level  *Level
	Limit  int
}

// VoteAction is an approver's verdict on a pending decision.
type VoteAction string

const (
	VoteApprove VoteAction = "approve"
	VoteReject  VoteAction = "reject"
)

// Resolution describes what a recorded vote did to the queue entry.
type Resolution int

const (
	// ResolutionNone: vote recorded, entry still pending.
	ResolutionNone Resolution = iota
	// ResolutionApproved: this vote completed quorum. Exactly one vote per
	// entry observes this value; the caller must run the executor.
	ResolutionApproved
	// ResolutionRejected: this vote rejected the entry.
	ResolutionRejected
	// ResolutionExpired: the window had closed before the vote landed; the
	// entry is now marked expired.
	ResolutionExpired
)

// VoteResult is the atomic outcome of RecordVote.
type VoteResult struct {
	Entry      QueueEntry
	Resolution Resolution
	// Duplicate is set when the approver had already voted the same way;
	// the vote did not change the entry.
	Duplicate bool
}

// Store is the persistence boundary of the workflow. Implementations must
// make RecordVote and the status transitions atomic so that concurrent votes
// cannot double-trigger execution.
type Store interface {
	// CreateDecision persists the decision and, when q is non-nil, its
	// queue entry in the same transaction.
	CreateDecision(ctx context.Context, d *Decision, q *QueueEntry) error
	GetDecision(ctx context.Context, tenantID, id string) (*Decision, error)
	ListDecisions(ctx context.Context, tenantID string, f ListFilter) ([]*Decision, error)

	GetQueueEntry(ctx context.Context, tenantID, decisionID string) (*QueueEntry, error)
	ListQueue(ctx context.Context, tenantID string) ([]*QueueEntry, error)

	// RecordVote atomically applies one approver's verdict: set-semantic
	// append, lazy expiry check, quorum/rejection transition. Only the vote
	// that flips the entry out of pending sees a terminal Resolution.
	RecordVote(ctx context.Context, tenantID, decisionID, approverID string, action VoteAction, now time.Time) (VoteResult, error)

	// CompleteExecution transitions the decision pending -> executed,
	// guarded so only the first caller succeeds.
	CompleteExecution(ctx context.Context, tenantID, decisionID string, res ExecutionResult, at time.Time) error
	// MarkRejected transitions the decision pending -> rejected.
	MarkRejected(ctx context.Context, tenantID, decisionID string, at time.Time) error

	// ExpireDue marks every pending queue entry past its expiry. Returns the
	// number of entries transitioned.
	ExpireDue(ctx context.Context, now time.Time) (int, error)

	AppendOutcome(ctx context.Context, o *Outcome) error
	ListOutcomes(ctx context.Context, tenantID string, limit int) ([]*Outcome, error)
}

// SortQueueForDisplay orders entries the way the approval inbox shows them:
// expired first, then by descending priority, then newest first. Display
// only; no effect on state transitions.
func SortQueueForDisplay(entries []*QueueEntry, now time.Time) {
	sort.SliceStable(entries, func(i, j int) bool {
		ei, ej := entries[i], entries[j]
		expI := ei.Status == QueueExpired || (ei.Status == QueuePending && ei.Expired(now))
		expJ := ej.Status == QueueExpired || (ej.Status == QueuePending && ej.Expired(now))
		if expI != expJ {
			return expI
		}
		if ei.Priority != ej.Priority {
			return ei.Priority > ej.Priority
		}
		return ei.CreatedAt.After(ej.CreatedAt)
	})
}
