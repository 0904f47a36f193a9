package decision

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"decisiongate.org/internal/auth"
	"decisiongate.org/internal/license"
	"decisiongate.org/internal/notify"
	"decisiongate.org/internal/recommend"
)

type countingExecutor struct {
	calls atomic.Int64
	fail  bool
}

func (e *countingExecutor) Execute(ctx context.Context, d *Decision) ExecutionResult {
	e.calls.Add(1)
	if e.fail {
		return ExecutionResult{Success: false, Error: "downstream unavailable"}
	}
	return ExecutionResult{Success: true}
}

type capturingNotifier struct {
	mu   sync.Mutex
	reqs []notify.ApprovalRequest
}

func (n *capturingNotifier) NotifyApprovalRequested(ctx context.Context, req notify.ApprovalRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reqs = append(n.reqs, req)
	return nil
}

func (n *capturingNotifier) sent() []notify.ApprovalRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.ApprovalRequest(nil), n.reqs...)
}

type testEnv struct {
	svc      *Service
	store    *InMemory
	users    *auth.InMemory
	exec     *countingExecutor
	notifier *capturingNotifier
	licenses *license.StaticChecker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := NewInMemory()
	users := auth.NewInMemory()
	exec := &countingExecutor{}
	notifier := &capturingNotifier{}
	licenses := license.NewStaticChecker()
	licenses.Grant("t1", license.ModuleAIDecisions)

	svc := NewService(ServiceConfig{
		Store:       store,
		Scorer:      newTestScorer(t, nil),
		Resolver:    NewApproverResolver(users),
		Executor:    exec,
		Recommender: recommend.Static{ProviderName: "static", Result: recommend.Recommendation{Action: "Approve", Confidence: 0.9}},
		Notifier:    notifier,
		Licenses:    licenses,
		Expiry:      24 * time.Hour,
	})
	return &testEnv{svc: svc, store: store, users: users, exec: exec, notifier: notifier, licenses: licenses}
}

func (e *testEnv) addUser(t *testing.T, id string, role auth.Role) {
	t.Helper()
	err := e.users.Users(context.Background()).Create(context.Background(), &auth.User{
		ID:       id,
		TenantID: "t1",
		Email:    id + "@test.local",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
}

func lowRiskInput() SubmitInput {
	return SubmitInput{
		Type:        "refund",
		Description: "refund a duplicate charge",
		Amount:      500,
		Reversible:  boolPtr(true),
		RequestedBy: "agent-1",
	}
}

func executiveInput() SubmitInput {
	return SubmitInput{
		Type:           "contract_termination",
		Description:    "terminate vendor contract",
		AffectsRevenue: true,
		Reversible:     boolPtr(false),
		AffectedUsers:  1000,
		RequestedBy:    "agent-1",
	}
}

func TestSubmitAutoExecute(t *testing.T) {
	env := newTestEnv(t)

	d, err := env.svc.Submit(context.Background(), "t1", lowRiskInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.ApprovalLevel != LevelAutoExecute {
		t.Fatalf("level = %v, want auto_execute", d.ApprovalLevel)
	}
	if d.Status != StatusExecuted {
		t.Fatalf("status = %v, want executed", d.Status)
	}
	if d.ExecutionResult == nil || !d.ExecutionResult.Success {
		t.Fatalf("execution result = %+v, want success", d.ExecutionResult)
	}
	if got := env.exec.calls.Load(); got != 1 {
		t.Fatalf("executor calls = %d, want 1", got)
	}
	if d.Recommendation.Action != "Approve" {
		t.Fatalf("recommendation = %+v", d.Recommendation)
	}

	// Outcome is recorded synchronously when no runner is configured.
	outs, err := env.svc.Outcomes(context.Background(), "t1", 10)
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if len(outs) != 1 || !outs[0].Approved || !outs[0].ExecSuccess {
		t.Fatalf("outcomes = %+v", outs)
	}
}

func TestSubmitExecutionFailureIsData(t *testing.T) {
	env := newTestEnv(t)
	env.exec.fail = true

	d, err := env.svc.Submit(context.Background(), "t1", lowRiskInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Status != StatusExecuted {
		t.Fatalf("status = %v, want executed even on handler failure", d.Status)
	}
	if d.ExecutionResult == nil || d.ExecutionResult.Success || d.ExecutionResult.Error == "" {
		t.Fatalf("execution result = %+v, want recorded failure", d.ExecutionResult)
	}
}

func TestSubmitUnlicensedTenant(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Submit(context.Background(), "t2", lowRiskInput())
	le, ok := license.AsError(err)
	if !ok {
		t.Fatalf("err = %v, want license error", err)
	}
	if le.ModuleID != license.ModuleAIDecisions {
		t.Fatalf("module id = %q", le.ModuleID)
	}
}

func TestSubmitQueuesExecutiveApproval(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner-1", auth.RoleOwner)
	env.addUser(t, "admin-1", auth.RoleAdmin)

	d, err := env.svc.Submit(context.Background(), "t1", executiveInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.ApprovalLevel != LevelExecutiveApproval {
		t.Fatalf("level = %v", d.ApprovalLevel)
	}
	if d.Status != StatusPending {
		t.Fatalf("status = %v, want pending", d.Status)
	}
	if got := env.exec.calls.Load(); got != 0 {
		t.Fatalf("executor ran %d times before approval", got)
	}

	q, err := env.svc.QueueEntryFor(context.Background(), "t1", d.ID)
	if err != nil {
		t.Fatalf("queue entry: %v", err)
	}
	if len(q.RequiredApprovers) != 2 {
		t.Fatalf("required approvers = %v, want 2", q.RequiredApprovers)
	}
	if q.Priority != d.RiskScore {
		t.Fatalf("priority = %d, want risk score %d", q.Priority, d.RiskScore)
	}
	if sent := env.notifier.sent(); len(sent) != 2 {
		t.Fatalf("notifications = %d, want one per approver", len(sent))
	}
}

func TestSubmitNoApproversRejected(t *testing.T) {
	env := newTestEnv(t)
	// Tenant has no users at all.

	d, err := env.svc.Submit(context.Background(), "t1", executiveInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Status != StatusRejected {
		t.Fatalf("status = %v, want rejected", d.Status)
	}
	if d.ExecutionResult == nil || d.ExecutionResult.Error != "no eligible approvers" {
		t.Fatalf("execution result = %+v", d.ExecutionResult)
	}
	if _, err := env.svc.QueueEntryFor(context.Background(), "t1", d.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("queue entry err = %v, want not found", err)
	}
}

func TestVoteQuorumExecutesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner-1", auth.RoleOwner)
	env.addUser(t, "admin-1", auth.RoleAdmin)

	d, err := env.svc.Submit(context.Background(), "t1", executiveInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, entry, err := env.svc.Vote(context.Background(), "t1", d.ID, "owner-1", VoteApprove)
	if err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if got.Status != StatusPending || entry.Status != QueuePending {
		t.Fatalf("after first vote: decision %v queue %v", got.Status, entry.Status)
	}

	got, entry, err = env.svc.Vote(context.Background(), "t1", d.ID, "admin-1", VoteApprove)
	if err != nil {
		t.Fatalf("second vote: %v", err)
	}
	if entry.Status != QueueApproved {
		t.Fatalf("queue status = %v, want approved", entry.Status)
	}
	if got.Status != StatusExecuted {
		t.Fatalf("decision status = %v, want executed", got.Status)
	}
	if calls := env.exec.calls.Load(); calls != 1 {
		t.Fatalf("executor calls = %d, want exactly 1", calls)
	}
}

func TestVoteIdempotentSameWay(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner-1", auth.RoleOwner)
	env.addUser(t, "admin-1", auth.RoleAdmin)

	d, _ := env.svc.Submit(context.Background(), "t1", executiveInput())

	if _, _, err := env.svc.Vote(context.Background(), "t1", d.ID, "owner-1", VoteApprove); err != nil {
		t.Fatalf("vote: %v", err)
	}
	_, entry, err := env.svc.Vote(context.Background(), "t1", d.ID, "owner-1", VoteApprove)
	if err != nil {
		t.Fatalf("repeat vote: %v", err)
	}
	if len(entry.ApprovedBy) != 1 {
		t.Fatalf("approved_by = %v, repeat vote must not double-count", entry.ApprovedBy)
	}
}

func TestVoteConflicting(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner-1", auth.RoleOwner)
	env.addUser(t, "admin-1", auth.RoleAdmin)

	d, _ := env.svc.Submit(context.Background(), "t1", executiveInput())

	if _, _, err := env.svc.Vote(context.Background(), "t1", d.ID, "owner-1", VoteApprove); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, _, err := env.svc.Vote(context.Background(), "t1", d.ID, "owner-1", VoteReject); !errors.Is(err, ErrConflictingVote) {
		t.Fatalf("err = %v, want conflicting vote", err)
	}
}

func TestVoteNotApprover(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner-1", auth.RoleOwner)
	env.addUser(t, "admin-1", auth.RoleAdmin)
	env.addUser(t, "member-1", auth.RoleMember)

	d, _ := env.svc.Submit(context.Background(), "t1", executiveInput())

	if _, _, err := env.svc.Vote(context.Background(), "t1", d.ID, "member-1", VoteApprove); !errors.Is(err, ErrNotApprover) {
		t.Fatalf("err = %v, want not approver", err)
	}
}

func TestVoteSingleRejectTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner-1", auth.RoleOwner)
	env.addUser(t, "admin-1", auth.RoleAdmin)

	d, _ := env.svc.Submit(context.Background(), "t1", executiveInput())

	got, entry, err := env.svc.Vote(context.Background(), "t1", d.ID, "owner-1", VoteReject)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if entry.Status != QueueRejected {
		t.Fatalf("queue status = %v, want rejected", entry.Status)
	}
	if got.Status != StatusRejected {
		t.Fatalf("decision status = %v, want rejected", got.Status)
	}
	if calls := env.exec.calls.Load(); calls != 0 {
		t.Fatalf("executor ran on rejected decision")
	}

	// Terminal: a later approval cannot revive the entry.
	if _, _, err := env.svc.Vote(context.Background(), "t1", d.ID, "admin-1", VoteApprove); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("err = %v, want already resolved", err)
	}
}

func TestVoteConcurrentQuorumAtMostOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner-1", auth.RoleOwner)
	env.addUser(t, "admin-1", auth.RoleAdmin)

	d, _ := env.svc.Submit(context.Background(), "t1", executiveInput())
	if _, _, err := env.svc.Vote(context.Background(), "t1", d.ID, "owner-1", VoteApprove); err != nil {
		t.Fatalf("first vote: %v", err)
	}

	// Many concurrent copies of the quorum-completing vote: exactly one must
	// trigger execution.
	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _, _ = env.svc.Vote(context.Background(), "t1", d.ID, "admin-1", VoteApprove)
		}()
	}
	wg.Wait()

	if calls := env.exec.calls.Load(); calls != 1 {
		t.Fatalf("executor calls = %d, want exactly 1", calls)
	}
	final, err := env.svc.Get(context.Background(), "t1", d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != StatusExecuted {
		t.Fatalf("final status = %v", final.Status)
	}
}

func TestVoteAtExpiryBoundaryExpires(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner-1", auth.RoleOwner)
	env.addUser(t, "admin-1", auth.RoleAdmin)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.svc.now = func() time.Time { return base }

	d, err := env.svc.Submit(context.Background(), "t1", executiveInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// A vote landing exactly at expiresAt loses the tie and expires the entry.
	env.svc.now = func() time.Time { return base.Add(24 * time.Hour) }
	_, entry, err := env.svc.Vote(context.Background(), "t1", d.ID, "owner-1", VoteApprove)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want expired", err)
	}
	if entry == nil || entry.Status != QueueExpired {
		t.Fatalf("entry = %+v, want expired status", entry)
	}
	if calls := env.exec.calls.Load(); calls != 0 {
		t.Fatalf("executor ran on expired entry")
	}

	// The decision itself stays pending; only the approval window closed.
	final, _ := env.svc.Get(context.Background(), "t1", d.ID)
	if final.Status != StatusPending {
		t.Fatalf("decision status = %v, want pending", final.Status)
	}
}

func TestExpireDueSweep(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner-1", auth.RoleOwner)
	env.addUser(t, "admin-1", auth.RoleAdmin)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.svc.now = func() time.Time { return base }
	d, _ := env.svc.Submit(context.Background(), "t1", executiveInput())

	env.svc.now = func() time.Time { return base.Add(25 * time.Hour) }
	n, err := env.svc.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d entries, want 1", n)
	}
	q, _ := env.svc.QueueEntryFor(context.Background(), "t1", d.ID)
	if q.Status != QueueExpired {
		t.Fatalf("queue status = %v", q.Status)
	}
}

func TestManagerTierEscalatesWhenNoManager(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner-1", auth.RoleOwner)

	// pricing_change 20 + amount 15 (>=100k) + revenue 15 = 50: manager tier.
	d, err := env.svc.Submit(context.Background(), "t1", SubmitInput{
		Type:           "pricing_change",
		Description:    "raise list prices",
		Amount:         150_000,
		AffectsRevenue: true,
		Reversible:     boolPtr(true),
		RequestedBy:    "agent-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.ApprovalLevel != LevelManagerApproval {
		t.Fatalf("level = %v, want manager_approval", d.ApprovalLevel)
	}
	q, err := env.svc.QueueEntryFor(context.Background(), "t1", d.ID)
	if err != nil {
		t.Fatalf("queue entry: %v", err)
	}
	if len(q.RequiredApprovers) != 1 || q.RequiredApprovers[0] != "owner-1" {
		t.Fatalf("approvers = %v, want escalation to owner", q.RequiredApprovers)
	}
}

func TestRecommendationFallsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	env.svc.recommender = recommend.NewChain(time.Second,
		recommend.Static{ProviderName: "down", Err: errors.New("unreachable")})

	d, err := env.svc.Submit(context.Background(), "t1", lowRiskInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	rec := d.Recommendation
	if rec.Action != recommend.Fallback.Action || rec.Confidence != recommend.Fallback.Confidence || rec.Provider != recommend.Fallback.Provider {
		t.Fatalf("recommendation = %+v, want static fallback", rec)
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []SubmitInput{
		{},
		{Type: "refund"},
		{Type: "refund", Description: "x", Amount: -1},
		{Type: "refund", Description: "x", AffectedUsers: -5},
	}
	for i, in := range cases {
		if _, err := env.svc.Submit(context.Background(), "t1", in); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("case %d: err = %v, want invalid input", i, err)
		}
	}
}

func TestQueueDisplayOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []*QueueEntry{
		{DecisionID: "low", Status: QueuePending, Priority: 45, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{DecisionID: "stale", Status: QueueExpired, Priority: 50, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)},
		{DecisionID: "high", Status: QueuePending, Priority: 90, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	}
	SortQueueForDisplay(entries, now)

	got := []string{entries[0].DecisionID, entries[1].DecisionID, entries[2].DecisionID}
	want := []string{"stale", "high", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
