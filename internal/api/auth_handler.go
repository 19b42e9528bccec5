package api

import (
	"context"
	"net/http"

	"github.com/peagelabs/peage/internal/auth"
	"github.com/peagelabs/peage/internal/operator"
)

// OperatorService is the account surface the login handlers consume.
type OperatorService interface {
	Authenticate(ctx context.Context, email, password string) (*operator.Operator, error)
	CreateSession(ctx context.Context, operatorID string) (string, *operator.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// authHandler groups operator authentication endpoints.
type authHandler struct {
	operators OperatorService
}

func newAuthHandler(operators OperatorService) *authHandler {
	return &authHandler{operators: operators}
}

// Login handles POST /api/v1/admin/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "email and password are required")
		return
	}

	op, err := h.operators.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to verify credentials")
		return
	}
	if op == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	token, sess, err := h.operators.CreateSession(r.Context(), op.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": sess.ExpiresAt,
		"operator": map[string]interface{}{
			"id":    op.ID,
			"email": op.Email,
			"name":  op.Name,
		},
	})
}

// Logout handles POST /api/v1/admin/logout.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractBearerToken(r)
	if token != "" {
		_ = h.operators.DeleteSession(r.Context(), token)
	}
	w.WriteHeader(http.StatusNoContent)
}
