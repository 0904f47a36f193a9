// Package pg implements the decision store on PostgreSQL. Vote recording and
// status transitions use row locks and guarded updates so concurrent callers
// cannot double-resolve an entry.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"decisiongate.org/internal/decision"
	"decisiongate.org/internal/ids"
)

var _ decision.Store = (*Store)(nil)

// Store persists decisions, approval queue entries and outcomes.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

const decisionColumns = `id, tenant_id, type, description, amount, affected_users,
	affects_revenue, reversible, metadata, risk_score, approval_level,
	recommendation, requested_by, status, execution_result, created_at, executed_at`

const queueColumns = `decision_id, tenant_id, required_approvers, approved_by,
	rejected_by, status, priority, created_at, expires_at, resolved_at`

func (s *Store) CreateDecision(ctx context.Context, d *decision.Decision, q *decision.QueueEntry) error {
	if d == nil || d.ID == "" || d.TenantID == "" {
		return decision.ErrInvalidInput
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	meta, _ := json.Marshal(d.Metadata)
	rec, _ := json.Marshal(d.Recommendation)
	var execResult []byte
	if d.ExecutionResult != nil {
		execResult, _ = json.Marshal(d.ExecutionResult)
	}
	_, err = tx.ExecContext(ctx, `
		insert into decisions(id, tenant_id, type, description, amount, affected_users,
			affects_revenue, reversible, metadata, risk_score, approval_level,
			recommendation, requested_by, status, execution_result, created_at)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		d.ID, d.TenantID, d.Type, d.Description, d.Amount, d.AffectedUsers,
		d.AffectsRevenue, d.Reversible, meta, d.RiskScore, d.ApprovalLevel.String(),
		rec, d.RequestedBy, string(d.Status), nullBytes(execResult), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}

	if q != nil {
		required, _ := json.Marshal(emptyIfNil(q.RequiredApprovers))
		approved, _ := json.Marshal(emptyIfNil(q.ApprovedBy))
		rejected, _ := json.Marshal(emptyIfNil(q.RejectedBy))
		_, err = tx.ExecContext(ctx, `
			insert into approval_queue(decision_id, tenant_id, required_approvers,
				approved_by, rejected_by, status, priority, created_at, expires_at)
			values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			q.DecisionID, q.TenantID, required, approved, rejected,
			string(q.Status), q.Priority, q.CreatedAt, q.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("insert approval queue entry: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetDecision(ctx context.Context, tenantID, id string) (*decision.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+decisionColumns+` from decisions where tenant_id=$1 and id=$2`,
		tenantID, id)
	return scanDecision(row)
}

func (s *Store) ListDecisions(ctx context.Context, tenantID string, f decision.ListFilter) ([]*decision.Decision, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `select ` + decisionColumns + ` from decisions where tenant_id=$1`
	args := []any{tenantID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" and status=$%d", len(args))
	}
	if f.Level != nil {
		args = append(args, f.Level.String())
		query += fmt.Sprintf(" and approval_level=$%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" order by created_at desc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*decision.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (s *Store) GetQueueEntry(ctx context.Context, tenantID, decisionID string) (*decision.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+queueColumns+` from approval_queue where tenant_id=$1 and decision_id=$2`,
		tenantID, decisionID)
	return scanQueueEntry(row)
}

func (s *Store) ListQueue(ctx context.Context, tenantID string) ([]*decision.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+queueColumns+` from approval_queue where tenant_id=$1 order by created_at desc`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*decision.QueueEntry
	for rows.Next() {
		q, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

// RecordVote locks the entry row, applies the vote in memory via the shared
// state machine, then writes the updated entry back inside the transaction.
// The row lock serializes concurrent votes; the guarded status column makes
// the transition idempotent.
func (s *Store) RecordVote(ctx context.Context, tenantID, decisionID, approverID string, action decision.VoteAction, now time.Time) (decision.VoteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decision.VoteResult{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`select `+queueColumns+` from approval_queue
		 where tenant_id=$1 and decision_id=$2 for update`,
		tenantID, decisionID)
	q, err := scanQueueEntry(row)
	if err != nil {
		return decision.VoteResult{}, err
	}

	vr, err := decision.ApplyVote(q, approverID, action, now)
	if err != nil {
		return decision.VoteResult{}, err
	}
	if !vr.Duplicate {
		if err := updateQueueEntry(ctx, tx, q); err != nil {
			return decision.VoteResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return decision.VoteResult{}, err
	}
	return vr, nil
}

func (s *Store) CompleteExecution(ctx context.Context, tenantID, decisionID string, res decision.ExecutionResult, at time.Time) error {
	payload, _ := json.Marshal(res)
	result, err := s.db.ExecContext(ctx, `
		update decisions
		set status='executed', execution_result=$1, executed_at=$2, updated_at=$2
		where tenant_id=$3 and id=$4 and status='pending'`,
		payload, at, tenantID, decisionID,
	)
	if err != nil {
		return err
	}
	return guardedRowsAffected(ctx, s.db, result, tenantID, decisionID)
}

func (s *Store) MarkRejected(ctx context.Context, tenantID, decisionID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		update decisions
		set status='rejected', updated_at=$1
		where tenant_id=$2 and id=$3 and status='pending'`,
		at, tenantID, decisionID,
	)
	if err != nil {
		return err
	}
	return guardedRowsAffected(ctx, s.db, result, tenantID, decisionID)
}

func (s *Store) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		update approval_queue
		set status='expired', resolved_at=$1
		where status='pending' and expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *Store) AppendOutcome(ctx context.Context, o *decision.Outcome) error {
	if o == nil || o.DecisionID == "" {
		return decision.ErrInvalidInput
	}
	if o.ID == "" {
		o.ID = ids.New()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into decision_outcomes(id, decision_id, tenant_id, type, risk_score,
			approval_level, final_status, approved, rejected, rolled_back,
			exec_success, exec_error, created_at)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		o.ID, o.DecisionID, o.TenantID, o.Type, o.RiskScore,
		o.ApprovalLevel.String(), string(o.FinalStatus), o.Approved, o.Rejected,
		o.RolledBack, o.ExecSuccess, o.ExecError, o.CreatedAt,
	)
	return err
}

func (s *Store) ListOutcomes(ctx context.Context, tenantID string, limit int) ([]*decision.Outcome, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, decision_id, tenant_id, type, risk_score, approval_level,
			final_status, approved, rejected, rolled_back, exec_success, exec_error, created_at
		from decision_outcomes where tenant_id=$1
		order by created_at desc limit $2`,
		tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*decision.Outcome
	for rows.Next() {
		var (
			o         decision.Outcome
			level     string
			finalStat string
		)
		if err := rows.Scan(&o.ID, &o.DecisionID, &o.TenantID, &o.Type, &o.RiskScore,
			&level, &finalStat, &o.Approved, &o.Rejected, &o.RolledBack,
			&o.ExecSuccess, &o.ExecError, &o.CreatedAt); err != nil {
			return nil, err
		}
		if lvl, err := decision.ParseLevel(level); err == nil {
			o.ApprovalLevel = lvl
		}
		o.FinalStatus = decision.Status(finalStat)
		res = append(res, &o)
	}
	return res, rows.Err()
}

// helpers -----------------------------------------------------------------

func updateQueueEntry(ctx context.Context, tx *sql.Tx, q *decision.QueueEntry) error {
	approved, _ := json.Marshal(emptyIfNil(q.ApprovedBy))
	rejected, _ := json.Marshal(emptyIfNil(q.RejectedBy))
	_, err := tx.ExecContext(ctx, `
		update approval_queue
		set approved_by=$1, rejected_by=$2, status=$3, resolved_at=$4
		where tenant_id=$5 and decision_id=$6`,
		approved, rejected, string(q.Status), nullTime(q.ResolvedAt), q.TenantID, q.DecisionID,
	)
	return err
}

// guardedRowsAffected distinguishes "already transitioned" from "missing"
// after a conditional update touched zero rows.
func guardedRowsAffected(ctx context.Context, db *sql.DB, result sql.Result, tenantID, decisionID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = db.QueryRowContext(ctx,
		`select status from decisions where tenant_id=$1 and id=$2`,
		tenantID, decisionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return decision.ErrNotFound
	}
	if err != nil {
		return err
	}
	return decision.ErrAlreadyResolved
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*decision.Decision, error) {
	var (
		d          decision.Decision
		meta       []byte
		level      string
		rec        []byte
		status     string
		execResult []byte
		executedAt sql.NullTime
	)
	err := row.Scan(&d.ID, &d.TenantID, &d.Type, &d.Description, &d.Amount,
		&d.AffectedUsers, &d.AffectsRevenue, &d.Reversible, &meta, &d.RiskScore,
		&level, &rec, &d.RequestedBy, &status, &execResult, &d.CreatedAt, &executedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, decision.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(meta, &d.Metadata)
	_ = json.Unmarshal(rec, &d.Recommendation)
	if lvl, err := decision.ParseLevel(level); err == nil {
		d.ApprovalLevel = lvl
	}
	d.Status = decision.Status(status)
	if len(execResult) > 0 && !strings.EqualFold(string(execResult), "null") {
		var er decision.ExecutionResult
		if json.Unmarshal(execResult, &er) == nil {
			d.ExecutionResult = &er
		}
	}
	if executedAt.Valid {
		t := executedAt.Time
		d.ExecutedAt = &t
	}
	return &d, nil
}

func scanQueueEntry(row rowScanner) (*decision.QueueEntry, error) {
	var (
		q          decision.QueueEntry
		required   []byte
		approved   []byte
		rejected   []byte
		status     string
		resolvedAt sql.NullTime
	)
	err := row.Scan(&q.DecisionID, &q.TenantID, &required, &approved, &rejected,
		&status, &q.Priority, &q.CreatedAt, &q.ExpiresAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, decision.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(required, &q.RequiredApprovers)
	_ = json.Unmarshal(approved, &q.ApprovedBy)
	_ = json.Unmarshal(rejected, &q.RejectedBy)
	q.Status = decision.QueueStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		q.ResolvedAt = &t
	}
	return &q, nil
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
