package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/peagelabs/peage/internal/orchestrator"
	"github.com/peagelabs/peage/internal/session"
	"github.com/peagelabs/peage/internal/trace"
)

// ChatService is the orchestrator surface the chat handlers consume.
type ChatService interface {
	HandleRequest(ctx context.Context, req orchestrator.ChatRequest) (*orchestrator.ChatResponse, error)
	SessionSummary(ctx context.Context, sessionID string) (*session.Summary, error)
	Trace(traceID string) *trace.Summary
	LatestSessionTrace(sessionID string) *trace.Summary
}

// chatHandler groups the conversational endpoints.
type chatHandler struct {
	svc ChatService
}

func newChatHandler(svc ChatService) *chatHandler {
	return &chatHandler{svc: svc}
}

// Chat handles POST /api/v1/chat.
func (h *chatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ChatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "prompt is required")
		return
	}
	if req.BudgetUSD < 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "budget_usd must not be negative")
		return
	}

	resp, err := h.svc.HandleRequest(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", "failed to complete the request")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SessionSpend handles GET /api/v1/sessions/{id}/spend.
func (h *chatHandler) SessionSpend(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	summary, err := h.svc.SessionSummary(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load session spend")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetTrace handles GET /api/v1/traces/{id}.
func (h *chatHandler) GetTrace(w http.ResponseWriter, r *http.Request) {
	summary := h.svc.Trace(chi.URLParam(r, "id"))
	if summary == nil {
		writeError(w, http.StatusNotFound, "not_found", "trace not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// SessionTrace handles GET /api/v1/sessions/{id}/trace.
func (h *chatHandler) SessionTrace(w http.ResponseWriter, r *http.Request) {
	summary := h.svc.LatestSessionTrace(chi.URLParam(r, "id"))
	if summary == nil {
		writeError(w, http.StatusNotFound, "not_found", "no trace for session")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
