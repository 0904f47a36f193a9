package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"decisiongate.org/internal/audit"
	"decisiongate.org/internal/decision"
	"decisiongate.org/internal/license"
)

type createDecisionRequest struct {
	Type           string            `json:"type"`
	Description    string            `json:"description"`
	Amount         int64             `json:"amount"`
	AffectedUsers  int               `json:"affected_users"`
	AffectsRevenue bool              `json:"affects_revenue"`
	Reversible     *bool             `json:"reversible"`
	Metadata       map[string]string `json:"metadata"`
}

type voteRequest struct {
	Action  string `json:"action"`
	Comment string `json:"comment"`
}

type createDecisionResponse struct {
	Success         bool                      `json:"success"`
	Decision        *decision.Decision        `json:"decision"`
	ExecutionResult *decision.ExecutionResult `json:"execution_result,omitempty"`
}

type listDecisionsResponse struct {
	Success   bool                 `json:"success"`
	Decisions []*decision.Decision `json:"decisions"`
	Count     int                  `json:"count"`
	AsOf      time.Time            `json:"as_of"`
}

type queueResponse struct {
	Success bool                   `json:"success"`
	Items   []*decision.QueueEntry `json:"items"`
	Count   int                    `json:"count"`
	AsOf    time.Time              `json:"as_of"`
}

type outcomesResponse struct {
	Success bool                `json:"success"`
	Items   []*decision.Outcome `json:"items"`
	Count   int                 `json:"count"`
	AsOf    time.Time           `json:"as_of"`
}

func (a *API) handleDecisionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createDecision(w, r)
	case http.MethodGet:
		a.listDecisions(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleDecisionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/decisions/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/vote") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/vote"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "decision not found")
			return
		}
		a.voteDecision(w, r, id)
		return
	}
	if strings.HasSuffix(path, "/approval") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/approval"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "decision not found")
			return
		}
		a.getApproval(w, r, id)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getDecision(w, r, path)
	case http.MethodPatch:
		a.voteDecision(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) createDecision(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principalOrAbort(w, r)
	if !ok {
		return
	}

	var req createDecisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeError(w, r, http.StatusBadRequest, "type is required")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, r, http.StatusBadRequest, "description is required")
		return
	}
	if req.Amount < 0 {
		writeError(w, r, http.StatusBadRequest, "amount must be >= 0")
		return
	}
	if req.AffectedUsers < 0 {
		writeError(w, r, http.StatusBadRequest, "affected_users must be >= 0")
		return
	}

	d, err := a.decisions.Submit(r.Context(), p.TenantID, decision.SubmitInput{
		Type:           strings.TrimSpace(req.Type),
		Description:    req.Description,
		Amount:         req.Amount,
		AffectedUsers:  req.AffectedUsers,
		AffectsRevenue: req.AffectsRevenue,
		Reversible:     req.Reversible,
		Metadata:       req.Metadata,
		RequestedBy:    p.UserID,
	})
	if err != nil {
		handleDecisionError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "decision.submitted", map[string]any{
		"decision_id": d.ID,
		"type":        d.Type,
		"risk_score":  d.RiskScore,
		"level":       d.ApprovalLevel.String(),
		"status":      string(d.Status),
	})

	w.Header().Set("Location", "/v1/decisions/"+d.ID)
	writeJSON(w, http.StatusCreated, createDecisionResponse{
		Success:         true,
		Decision:        d,
		ExecutionResult: d.ExecutionResult,
	})
}

func (a *API) listDecisions(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principalOrAbort(w, r)
	if !ok {
		return
	}

	var f decision.ListFilter
	if s := strings.TrimSpace(r.URL.Query().Get("status")); s != "" {
		f.Status = decision.Status(s)
	}
	ls := strings.TrimSpace(r.URL.Query().Get("approval_level"))
	if ls == "" {
		ls = strings.TrimSpace(r.URL.Query().Get("level"))
	}
	if ls != "" {
		lvl, err := decision.ParseLevel(ls)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		f.Level = &lvl
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit = limit

	key := fmt.Sprintf("decisions:%s:%s:%s:%d", p.TenantID, f.Status, ls, f.Limit)
	if a.serveCached(w, key) {
		return
	}

	items, err := a.decisions.List(r.Context(), p.TenantID, f)
	if err != nil {
		handleDecisionError(w, r, err)
		return
	}
	a.writeCachedJSON(w, key, listDecisionsResponse{
		Success:   true,
		Decisions: items,
		Count:     len(items),
		AsOf:      time.Now().UTC(),
	})
}

func (a *API) getDecision(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := a.principalOrAbort(w, r)
	if !ok {
		return
	}
	d, err := a.decisions.Get(r.Context(), p.TenantID, id)
	if err != nil {
		handleDecisionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) getApproval(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.principalOrAbort(w, r)
	if !ok {
		return
	}
	q, err := a.decisions.QueueEntryFor(r.Context(), p.TenantID, id)
	if err != nil {
		handleDecisionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// voteDecision serves both PATCH /v1/decisions/{id} and the explicit
// POST /v1/decisions/{id}/vote alias.
func (a *API) voteDecision(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost && r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPost, http.MethodPatch)
		return
	}
	p, ok := a.principalOrAbort(w, r)
	if !ok {
		return
	}
	if p.UserID == "" {
		writeError(w, r, http.StatusBadRequest, "voter identity is required")
		return
	}

	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	action := decision.VoteAction(strings.ToLower(strings.TrimSpace(req.Action)))
	if action != decision.VoteApprove && action != decision.VoteReject {
		writeError(w, r, http.StatusBadRequest, "action must be approve or reject")
		return
	}

	d, entry, err := a.decisions.Vote(r.Context(), p.TenantID, id, p.UserID, action)
	if err != nil {
		handleDecisionError(w, r, err)
		return
	}

	fields := map[string]any{
		"decision_id":  id,
		"action":       string(action),
		"queue_status": string(entry.Status),
	}
	if c := strings.TrimSpace(req.Comment); c != "" {
		fields["comment"] = c
	}
	_ = audit.LogEvent(r.Context(), "decision.vote", fields)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"decision": d,
		"approval": entry,
	})
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.principalOrAbort(w, r)
	if !ok {
		return
	}

	key := "queue:" + p.TenantID
	if a.serveCached(w, key) {
		return
	}

	items, err := a.decisions.Queue(r.Context(), p.TenantID)
	if err != nil {
		handleDecisionError(w, r, err)
		return
	}
	a.writeCachedJSON(w, key, queueResponse{
		Success: true,
		Items:   items,
		Count:   len(items),
		AsOf:    time.Now().UTC(),
	})
}

func (a *API) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.principalOrAbort(w, r)
	if !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	items, err := a.decisions.Outcomes(r.Context(), p.TenantID, limit)
	if err != nil {
		handleDecisionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomesResponse{
		Success: true,
		Items:   items,
		Count:   len(items),
		AsOf:    time.Now().UTC(),
	})
}

// --- cache helpers ---

func (a *API) serveCached(w http.ResponseWriter, key string) bool {
	if a.cache == nil {
		return false
	}
	body, ok := a.cache.Get(key)
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Cache", "hit")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	return true
}

func (a *API) writeCachedJSON(w http.ResponseWriter, key string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, nil, http.StatusInternalServerError, "internal error")
		return
	}
	if a.cache != nil {
		a.cache.Set(key, body)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// --- shared helpers ---

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, fmt.Errorf("limit must be between %d and %d", min, max)
	}
	return val, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDecisionError maps workflow errors to HTTP codes. Licensing failures
// are checked first so the module id survives into the response.
func handleDecisionError(w http.ResponseWriter, r *http.Request, err error) {
	if le, ok := license.AsError(err); ok {
		payload := map[string]any{
			"error":     "module not licensed",
			"module_id": le.ModuleID,
		}
		if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusForbidden, payload)
		return
	}
	switch {
	case errors.Is(err, decision.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, decision.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, decision.ErrNotApprover):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, decision.ErrAlreadyResolved), errors.Is(err, decision.ErrConflictingVote):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, decision.ErrExpired):
		writeError(w, r, http.StatusGone, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if r != nil {
		if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
