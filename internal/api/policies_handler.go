package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/peagelabs/peage/internal/auth"
	"github.com/peagelabs/peage/internal/policy"
	"github.com/peagelabs/peage/internal/settle"
)

// PolicyAdmin is the engine surface the admin handlers consume.
type PolicyAdmin interface {
	AllPolicies() []policy.AgentPolicy
	GetPolicy(agentID string) policy.AgentPolicy
	Update(ctx context.Context, agentID string, in policy.UpdatePolicyInput, updatedBy string) policy.AgentPolicy
	SetFrozen(ctx context.Context, agentID string, frozen bool, updatedBy string) policy.AgentPolicy
}

// DecisionLog reads recent policy decisions.
type DecisionLog interface {
	ListRecent(ctx context.Context, limit int) ([]*policy.DecisionRecord, error)
}

// SettlementLog reads recent settlement receipts.
type SettlementLog interface {
	ListRecent(ctx context.Context, limit int) ([]*settle.Receipt, error)
}

// policiesHandler groups the admin policy endpoints.
type policiesHandler struct {
	engine      PolicyAdmin
	decisions   DecisionLog
	settlements SettlementLog
}

func newPoliciesHandler(engine PolicyAdmin, decisions DecisionLog, settlements SettlementLog) *policiesHandler {
	return &policiesHandler{engine: engine, decisions: decisions, settlements: settlements}
}

// ListPolicies handles GET /api/v1/admin/policies.
func (h *policiesHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": h.engine.AllPolicies(),
	})
}

// GetPolicy handles GET /api/v1/admin/policies/{agentID}.
func (h *policiesHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetPolicy(chi.URLParam(r, "agentID")))
}

// UpdatePolicy handles PUT /api/v1/admin/policies/{agentID}.
func (h *policiesHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var in policy.UpdatePolicyInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if in.DailyLimitUSD != nil && *in.DailyLimitUSD < 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "daily_limit_usd must not be negative")
		return
	}
	if in.PerCallLimitUSD != nil && *in.PerCallLimitUSD < 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "per_call_limit_usd must not be negative")
		return
	}

	updated := h.engine.Update(r.Context(), chi.URLParam(r, "agentID"), in, actor(r))
	writeJSON(w, http.StatusOK, updated)
}

// FreezePolicy handles POST /api/v1/admin/policies/{agentID}/freeze.
func (h *policiesHandler) FreezePolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Frozen bool `json:"frozen"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	updated := h.engine.SetFrozen(r.Context(), chi.URLParam(r, "agentID"), req.Frozen, actor(r))
	writeJSON(w, http.StatusOK, updated)
}

// ListDecisions handles GET /api/v1/admin/decisions.
func (h *policiesHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.decisions.ListRecent(r.Context(), limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load decision log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": recs})
}

// ListSettlements handles GET /api/v1/admin/settlements.
func (h *policiesHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.settlements.ListRecent(r.Context(), limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load settlement log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settlements": receipts})
}

// actor names the operator behind a mutation, or "admin" for key auth.
func actor(r *http.Request) string {
	if op := auth.OperatorFromContext(r.Context()); op != nil {
		return op.Email
	}
	return "admin"
}

// limitParam reads a positive ?limit= query value with a default cap.
func limitParam(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 1000 {
		return def
	}
	return n
}
