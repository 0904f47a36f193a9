package decision

import (
	"context"
	"sort"
	"sync"
	"time"

	"decisiongate.org/internal/ids"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. The mutex
// gives the same atomicity for votes and status transitions that the
// Postgres store gets from row locks.
type InMemory struct {
	mu        sync.RWMutex
	decisions map[string]*Decision  // id -> decision
	queue     map[string]*QueueEntry // decision id -> entry
	outcomes  []*Outcome
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		decisions: make(map[string]*Decision),
		queue:     make(map[string]*QueueEntry),
	}
}

func (s *InMemory) CreateDecision(ctx context.Context, d *Decision, q *QueueEntry) error {
	if d == nil || d.ID == "" || d.TenantID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[d.ID]; ok {
		return ErrInvalidInput
	}
	s.decisions[d.ID] = copyDecision(d)
	if q != nil {
		s.queue[d.ID] = copyEntry(q)
	}
	return nil
}

func (s *InMemory) GetDecision(ctx context.Context, tenantID, id string) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok || d.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copyDecision(d), nil
}

func (s *InMemory) ListDecisions(ctx context.Context, tenantID string, f ListFilter) ([]*Decision, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []*Decision
	for _, d := range s.decisions {
		if d.TenantID != tenantID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.Level != nil && d.ApprovalLevel != *f.Level {
			continue
		}
		res = append(res, copyDecision(d))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *InMemory) GetQueueEntry(ctx context.Context, tenantID, decisionID string) (*QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queue[decisionID]
	if !ok || q.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copyEntry(q), nil
}

func (s *InMemory) ListQueue(ctx context.Context, tenantID string) ([]*QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*QueueEntry
	for _, q := range s.queue {
		if q.TenantID == tenantID {
			res = append(res, copyEntry(q))
		}
	}
	return res, nil
}

func (s *InMemory) RecordVote(ctx context.Context, tenantID, decisionID, approverID string, action VoteAction, now time.Time) (VoteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queue[decisionID]
	if !ok || q.TenantID != tenantID {
		return VoteResult{}, ErrNotFound
	}
	return ApplyVote(q, approverID, action, now)
}

func (s *InMemory) CompleteExecution(ctx context.Context, tenantID, decisionID string, res ExecutionResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[decisionID]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	if d.Status != StatusPending {
		return ErrAlreadyResolved
	}
	d.Status = StatusExecuted
	r := res
	d.ExecutionResult = &r
	at = at.UTC()
	d.ExecutedAt = &at
	return nil
}

func (s *InMemory) MarkRejected(ctx context.Context, tenantID, decisionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[decisionID]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	if d.Status != StatusPending {
		return ErrAlreadyResolved
	}
	d.Status = StatusRejected
	return nil
}

func (s *InMemory) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, q := range s.queue {
		if q.Status == QueuePending && q.Expired(now) {
			q.Status = QueueExpired
			t := now.UTC()
			q.ResolvedAt = &t
			n++
		}
	}
	return n, nil
}

func (s *InMemory) AppendOutcome(ctx context.Context, o *Outcome) error {
	if o == nil || o.DecisionID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.outcomes = append(s.outcomes, &cp)
	return nil
}

func (s *InMemory) ListOutcomes(ctx context.Context, tenantID string, limit int) ([]*Outcome, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*Outcome
	for i := len(s.outcomes) - 1; i >= 0 && len(res) < limit; i-- {
		if s.outcomes[i].TenantID == tenantID {
			cp := *s.outcomes[i]
			res = append(res, &cp)
		}
	}
	return res, nil
}

// ApplyVote holds the queue-entry transition logic shared by every Store
// implementation. The caller must hold whatever lock (mutex or row lock)
// makes the read-modify-write atomic.
func ApplyVote(q *QueueEntry, approverID string, action VoteAction, now time.Time) (VoteResult, error) {
	if q.Status != QueuePending {
		return VoteResult{}, ErrAlreadyResolved
	}
	// Tie-break: quorum has to land strictly before expiry. A vote arriving
	// at or after expiresAt expires the entry instead of counting.
	if q.Expired(now) {
		q.Status = QueueExpired
		t := now.UTC()
		q.ResolvedAt = &t
		return VoteResult{Entry: *copyEntry(q), Resolution: ResolutionExpired}, nil
	}
	if !contains(q.RequiredApprovers, approverID) {
		return VoteResult{}, ErrNotApprover
	}

	approved := contains(q.ApprovedBy, approverID)
	rejected := contains(q.RejectedBy, approverID)

	switch action {
	case VoteApprove:
		if rejected {
			return VoteResult{}, ErrConflictingVote
		}
		if approved {
			return VoteResult{Entry: *copyEntry(q), Duplicate: true}, nil
		}
		q.ApprovedBy = append(q.ApprovedBy, approverID)
		if q.QuorumReached() {
			q.Status = QueueApproved
			t := now.UTC()
			q.ResolvedAt = &t
			return VoteResult{Entry: *copyEntry(q), Resolution: ResolutionApproved}, nil
		}
		return VoteResult{Entry: *copyEntry(q)}, nil
	case VoteReject:
		if approved {
			return VoteResult{}, ErrConflictingVote
		}
		if rejected {
			return VoteResult{Entry: *copyEntry(q), Duplicate: true}, nil
		}
		q.RejectedBy = append(q.RejectedBy, approverID)
		// Single-reject policy: any required approver's rejection is terminal.
		q.Status = QueueRejected
		t := now.UTC()
		q.ResolvedAt = &t
		return VoteResult{Entry: *copyEntry(q), Resolution: ResolutionRejected}, nil
	default:
		return VoteResult{}, ErrInvalidInput
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func copyDecision(d *Decision) *Decision {
	cp := *d
	if d.Metadata != nil {
		cp.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			cp.Metadata[k] = v
		}
	}
	if d.ExecutionResult != nil {
		r := *d.ExecutionResult
		cp.ExecutionResult = &r
	}
	if d.ExecutedAt != nil {
		t := *d.ExecutedAt
		cp.ExecutedAt = &t
	}
	return &cp
}

func copyEntry(q *QueueEntry) *QueueEntry {
	cp := *q
	cp.RequiredApprovers = append([]string(nil), q.RequiredApprovers...)
	cp.ApprovedBy = append([]string(nil), q.ApprovedBy...)
	cp.RejectedBy = append([]string(nil), q.RejectedBy...)
	if q.ResolvedAt != nil {
		t := *q.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
