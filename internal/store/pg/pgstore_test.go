package pg

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"decisiongate.org/internal/decision"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func queueRow(t *testing.T, q *decision.QueueEntry) *sqlmock.Rows {
	t.Helper()
	required, _ := json.Marshal(q.RequiredApprovers)
	approved, _ := json.Marshal(q.ApprovedBy)
	rejected, _ := json.Marshal(q.RejectedBy)
	rows := sqlmock.NewRows([]string{
		"decision_id", "tenant_id", "required_approvers", "approved_by",
		"rejected_by", "status", "priority", "created_at", "expires_at", "resolved_at",
	})
	rows.AddRow(q.DecisionID, q.TenantID, required, approved, rejected,
		string(q.Status), q.Priority, q.CreatedAt, q.ExpiresAt, nil)
	return rows
}

func TestCreateDecisionWithQueueEntrySameTx(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`insert into decisions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into approval_queue`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	d := &decision.Decision{
		ID: "d1", TenantID: "t1", Type: "refund", Description: "x",
		RiskScore: 50, ApprovalLevel: decision.LevelManagerApproval,
		Status: decision.StatusPending, CreatedAt: now,
	}
	q := &decision.QueueEntry{
		DecisionID: "d1", TenantID: "t1",
		RequiredApprovers: []string{"m1"},
		Status:            decision.QueuePending,
		Priority:          50, CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := s.CreateDecision(context.Background(), d, q); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateDecisionRollsBackOnQueueFailure(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`insert into decisions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into approval_queue`).WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	d := &decision.Decision{
		ID: "d1", TenantID: "t1", Type: "refund", Description: "x",
		Status: decision.StatusPending, CreatedAt: now,
	}
	q := &decision.QueueEntry{
		DecisionID: "d1", TenantID: "t1", Status: decision.QueuePending,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := s.CreateDecision(context.Background(), d, q); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecordVoteLocksAndUpdates(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	entry := &decision.QueueEntry{
		DecisionID: "d1", TenantID: "t1",
		RequiredApprovers: []string{"m1"},
		Status:            decision.QueuePending,
		Priority:          50, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`select (.+) from approval_queue(.+)for update`).
		WithArgs("t1", "d1").
		WillReturnRows(queueRow(t, entry))
	mock.ExpectExec(`update approval_queue`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	vr, err := s.RecordVote(context.Background(), "t1", "d1", "m1", decision.VoteApprove, now)
	if err != nil {
		t.Fatalf("record vote: %v", err)
	}
	if vr.Resolution != decision.ResolutionApproved {
		t.Fatalf("resolution = %v, want approved (single approver quorum)", vr.Resolution)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecordVoteNotApproverRollsBack(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	entry := &decision.QueueEntry{
		DecisionID: "d1", TenantID: "t1",
		RequiredApprovers: []string{"m1"},
		Status:            decision.QueuePending,
		CreatedAt:         now, ExpiresAt: now.Add(time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`select (.+) from approval_queue(.+)for update`).
		WithArgs("t1", "d1").
		WillReturnRows(queueRow(t, entry))
	mock.ExpectRollback()

	_, err := s.RecordVote(context.Background(), "t1", "d1", "intruder", decision.VoteApprove, now)
	if !errors.Is(err, decision.ErrNotApprover) {
		t.Fatalf("err = %v, want not approver", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCompleteExecutionGuarded(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(`update decisions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.CompleteExecution(context.Background(), "t1", "d1",
		decision.ExecutionResult{Success: true}, now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Second completion touches zero rows; the follow-up status read
	// classifies it as already resolved.
	mock.ExpectExec(`update decisions`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select status from decisions`).
		WithArgs("t1", "d1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("executed"))
	err := s.CompleteExecution(context.Background(), "t1", "d1",
		decision.ExecutionResult{Success: true}, now)
	if !errors.Is(err, decision.ErrAlreadyResolved) {
		t.Fatalf("err = %v, want already resolved", err)
	}

	// Missing decision reads no status row at all.
	mock.ExpectExec(`update decisions`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select status from decisions`).
		WithArgs("t1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	err = s.CompleteExecution(context.Background(), "t1", "ghost",
		decision.ExecutionResult{Success: true}, now)
	if !errors.Is(err, decision.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestExpireDueCountsRows(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(`update approval_queue`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.ExpireDue(context.Background(), now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 3 {
		t.Fatalf("expired %d, want 3", n)
	}
}

func TestGetDecisionNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`select (.+) from decisions`).
		WithArgs("t1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetDecision(context.Background(), "t1", "ghost")
	if !errors.Is(err, decision.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
