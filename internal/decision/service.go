package decision

import (
	"context"
	"strings"
	"time"

	"decisiongate.org/internal/audit"
	"decisiongate.org/internal/ids"
	"decisiongate.org/internal/license"
	"decisiongate.org/internal/notify"
	"decisiongate.org/internal/obs"
	"decisiongate.org/internal/recommend"
	"decisiongate.org/internal/tasks"
)

// SubmitInput is a decision request from an AI agent or operator.
type SubmitInput struct {
	Type           string
	Description    string
	Amount         int64
	AffectedUsers  int
	AffectsRevenue bool
	Reversible     *bool
	Metadata       map[string]string
	RequestedBy    string
}

// Service drives the decision workflow: score, route, queue or execute,
// record the outcome.
type Service struct {
	store       Store
	scorer      *Scorer
	resolver    *ApproverResolver
	executor    Executor
	recommender recommend.Provider
	notifier    notify.Notifier
	licenses    license.Checker
	outcomes    *OutcomeTracker
	runner      *tasks.Runner

	expiry time.Duration
	now    func() time.Time
}

// ServiceConfig wires the service. Store, Scorer, Resolver and Executor are
// required; the rest degrade gracefully when nil.
type ServiceConfig struct {
	Store       Store
	Scorer      *Scorer
	Resolver    *ApproverResolver
	Executor    Executor
	Recommender recommend.Provider
	Notifier    notify.Notifier
	Licenses    license.Checker
	Runner      *tasks.Runner
	Expiry      time.Duration
}

// DefaultExpiry is the approval window applied when config leaves it unset.
const DefaultExpiry = 24 * time.Hour

func NewService(cfg ServiceConfig) *Service {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Service{
		store:       cfg.Store,
		scorer:      cfg.Scorer,
		resolver:    cfg.Resolver,
		executor:    cfg.Executor,
		recommender: cfg.Recommender,
		notifier:    notifier,
		licenses:    cfg.Licenses,
		outcomes:    NewOutcomeTracker(cfg.Store, cfg.Runner),
		runner:      cfg.Runner,
		expiry:      expiry,
		now:         time.Now,
	}
}

// Submit scores the request, resolves its approval tier and either executes
// immediately or enqueues it for human sign-off. Always returns the persisted
// decision on success.
func (s *Service) Submit(ctx context.Context, tenantID string, in SubmitInput) (*Decision, error) {
	if err := validateSubmit(tenantID, in); err != nil {
		return nil, err
	}
	if s.licenses != nil {
		if err := s.licenses.Licensed(ctx, tenantID, license.ModuleAIDecisions); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	score := s.scorer.Score(ctx, tenantID, ScoreInput{
		Type:           in.Type,
		Amount:         in.Amount,
		AffectedUsers:  in.AffectedUsers,
		AffectsRevenue: in.AffectsRevenue,
		Reversible:     in.Reversible,
		Metadata:       in.Metadata,
	})
	level := ResolveLevel(score)

	d := &Decision{
		ID:             ids.New(),
		TenantID:       tenantID,
		Type:           in.Type,
		Description:    in.Description,
		Amount:         in.Amount,
		AffectedUsers:  in.AffectedUsers,
		AffectsRevenue: in.AffectsRevenue,
		Reversible:     in.Reversible != nil && *in.Reversible,
		Metadata:       in.Metadata,
		RiskScore:      score,
		ApprovalLevel:  level,
		Recommendation: s.recommendFor(ctx, tenantID, in, score, level),
		RequestedBy:    in.RequestedBy,
		Status:         StatusPending,
		CreatedAt:      now,
	}

	if level.RequiresApproval() {
		return s.submitForApproval(ctx, d, now)
	}
	return s.executeNow(ctx, d, now, level == LevelAuditLog)
}

func (s *Service) submitForApproval(ctx context.Context, d *Decision, now time.Time) (*Decision, error) {
	approvers, err := s.resolver.Resolve(ctx, d.TenantID, d.ApprovalLevel)
	if err != nil {
		return nil, err
	}
	if len(approvers) == 0 {
		// A decision with no reachable approver would sit pending forever.
		// Reject it up front and record why.
		d.Status = StatusRejected
		d.ExecutionResult = &ExecutionResult{Success: false, Error: "no eligible approvers"}
		if err := s.store.CreateDecision(ctx, d, nil); err != nil {
			return nil, err
		}
		obs.ObserveDecision(d.Type, d.ApprovalLevel.String(), string(d.Status))
		s.outcomes.Record(d, nil)
		return d, nil
	}

	q := &QueueEntry{
		DecisionID:        d.ID,
		TenantID:          d.TenantID,
		RequiredApprovers: approvers,
		Status:            QueuePending,
		Priority:          d.RiskScore,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.expiry),
	}
	if err := s.store.CreateDecision(ctx, d, q); err != nil {
		return nil, err
	}
	obs.ObserveDecision(d.Type, d.ApprovalLevel.String(), string(d.Status))
	s.notifyApprovers(d, q)
	return d, nil
}

func (s *Service) executeNow(ctx context.Context, d *Decision, now time.Time, auditTier bool) (*Decision, error) {
	if err := s.store.CreateDecision(ctx, d, nil); err != nil {
		return nil, err
	}
	res := s.executor.Execute(ctx, d)
	obs.ObserveExecution(res.Success)

	at := s.now().UTC()
	if err := s.store.CompleteExecution(ctx, d.TenantID, d.ID, res, at); err != nil {
		return nil, err
	}
	d.Status = StatusExecuted
	d.ExecutionResult = &res
	d.ExecutedAt = &at

	if auditTier {
		audit.LogEvent(ctx, "decision.audit_log_executed", map[string]any{
			"decision_id": d.ID,
			"type":        d.Type,
			"risk_score":  d.RiskScore,
			"success":     res.Success,
		})
	}
	obs.ObserveDecision(d.Type, d.ApprovalLevel.String(), string(d.Status))
	s.outcomes.Record(d, nil)
	return d, nil
}

// Vote records one approver's verdict. The quorum-completing approval runs
// the executor exactly once; rejection and expiry finalize the decision.
func (s *Service) Vote(ctx context.Context, tenantID, decisionID, approverID string, action VoteAction) (*Decision, *QueueEntry, error) {
	now := s.now().UTC()
	vr, err := s.store.RecordVote(ctx, tenantID, decisionID, approverID, action, now)
	if err != nil {
		return nil, nil, err
	}
	obs.ObserveVote(string(action))

	switch vr.Resolution {
	case ResolutionApproved:
		d, err := s.finalizeApproved(ctx, tenantID, decisionID, &vr.Entry)
		return d, &vr.Entry, err
	case ResolutionRejected:
		d, err := s.finalizeRejected(ctx, tenantID, decisionID, &vr.Entry, now)
		return d, &vr.Entry, err
	case ResolutionExpired:
		return nil, &vr.Entry, ErrExpired
	default:
		d, err := s.store.GetDecision(ctx, tenantID, decisionID)
		return d, &vr.Entry, err
	}
}

func (s *Service) finalizeApproved(ctx context.Context, tenantID, decisionID string, q *QueueEntry) (*Decision, error) {
	d, err := s.store.GetDecision(ctx, tenantID, decisionID)
	if err != nil {
		return nil, err
	}
	res := s.executor.Execute(ctx, d)
	obs.ObserveExecution(res.Success)

	at := s.now().UTC()
	if err := s.store.CompleteExecution(ctx, tenantID, decisionID, res, at); err != nil {
		return nil, err
	}
	d.Status = StatusExecuted
	d.ExecutionResult = &res
	d.ExecutedAt = &at

	obs.ObserveDecision(d.Type, d.ApprovalLevel.String(), string(d.Status))
	s.outcomes.Record(d, q)
	return d, nil
}

func (s *Service) finalizeRejected(ctx context.Context, tenantID, decisionID string, q *QueueEntry, now time.Time) (*Decision, error) {
	if err := s.store.MarkRejected(ctx, tenantID, decisionID, now); err != nil {
		return nil, err
	}
	d, err := s.store.GetDecision(ctx, tenantID, decisionID)
	if err != nil {
		return nil, err
	}
	obs.ObserveDecision(d.Type, d.ApprovalLevel.String(), string(d.Status))
	s.outcomes.Record(d, q)
	return d, nil
}

// Get returns a decision scoped to the tenant.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*Decision, error) {
	return s.store.GetDecision(ctx, tenantID, id)
}

// List returns the tenant's decisions, newest first.
func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) ([]*Decision, error) {
	return s.store.ListDecisions(ctx, tenantID, f)
}

// Queue returns the tenant's approval queue in display order.
func (s *Service) Queue(ctx context.Context, tenantID string) ([]*QueueEntry, error) {
	entries, err := s.store.ListQueue(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	SortQueueForDisplay(entries, s.now().UTC())
	return entries, nil
}

// QueueEntryFor returns the approval state for a single decision.
func (s *Service) QueueEntryFor(ctx context.Context, tenantID, decisionID string) (*QueueEntry, error) {
	return s.store.GetQueueEntry(ctx, tenantID, decisionID)
}

// Outcomes returns the tenant's recorded outcomes, newest first.
func (s *Service) Outcomes(ctx context.Context, tenantID string, limit int) ([]*Outcome, error) {
	return s.store.ListOutcomes(ctx, tenantID, limit)
}

// ExpireDue sweeps overdue queue entries. Called from the background ticker.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	n, err := s.store.ExpireDue(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		obs.LogEvent(map[string]any{
			"ts":      time.Now().UTC().Format(time.RFC3339Nano),
			"level":   "info",
			"msg":     "expired overdue approval entries",
			"expired": n,
		})
	}
	return n, nil
}

func (s *Service) recommendFor(ctx context.Context, tenantID string, in SubmitInput, score int, level Level) recommend.Recommendation {
	if s.recommender == nil {
		return recommend.Fallback
	}
	rec, err := s.recommender.Recommend(ctx, recommend.Request{
		TenantID:      tenantID,
		Type:          in.Type,
		Description:   in.Description,
		Amount:        in.Amount,
		AffectedUsers: in.AffectedUsers,
		RiskScore:     score,
		Level:         level.String(),
		Metadata:      in.Metadata,
	})
	if err != nil {
		// Chains swallow provider errors; a bare provider might not.
		obs.LogEvent(map[string]any{
			"ts":     time.Now().UTC().Format(time.RFC3339Nano),
			"level":  "warn",
			"msg":    "recommendation failed, using fallback",
			"tenant": tenantID,
			"error":  err.Error(),
		})
		return recommend.Fallback
	}
	return rec
}

func (s *Service) notifyApprovers(d *Decision, q *QueueEntry) {
	send := func(ctx context.Context) {
		for _, approver := range q.RequiredApprovers {
			req := notify.ApprovalRequest{
				DecisionID:    d.ID,
				TenantID:      d.TenantID,
				Type:          d.Type,
				Description:   d.Description,
				RiskScore:     d.RiskScore,
				ApprovalLevel: d.ApprovalLevel.String(),
				ApproverID:    approver,
				ExpiresAt:     q.ExpiresAt,
			}
			if err := s.notifier.NotifyApprovalRequested(ctx, req); err != nil {
				obs.LogEvent(map[string]any{
					"ts":       time.Now().UTC().Format(time.RFC3339Nano),
					"level":    "warn",
					"msg":      "approval notification failed",
					"decision": d.ID,
					"approver": approver,
					"error":    err.Error(),
				})
			}
		}
	}
	if s.runner != nil && s.runner.Submit(send) {
		return
	}
	send(context.Background())
}

func validateSubmit(tenantID string, in SubmitInput) error {
	if strings.TrimSpace(tenantID) == "" {
		return ErrInvalidInput
	}
	if strings.TrimSpace(in.Type) == "" {
		return ErrInvalidInput
	}
	if strings.TrimSpace(in.Description) == "" {
		return ErrInvalidInput
	}
	if in.Amount < 0 || in.AffectedUsers < 0 {
		return ErrInvalidInput
	}
	return nil
}
