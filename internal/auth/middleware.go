package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey int

const operatorContextKey contextKey = iota

// ContextWithOperator returns a new context carrying the given operator.
func ContextWithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorContextKey, op)
}

// OperatorFromContext extracts the operator from the context, or nil. The
// admin key authenticates without an operator identity.
func OperatorFromContext(ctx context.Context) *Operator {
	op, _ := ctx.Value(operatorContextKey).(*Operator)
	return op
}

// AdminAuthMiddleware returns middleware guarding the admin surface. The
// bearer token is accepted when it matches the configured admin key or
// resolves to a live operator session. sessions may be nil (key only).
func AdminAuthMiddleware(adminKey string, sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r)
			if token == "" {
				writeUnauthorized(w, "missing or malformed authorization header")
				return
			}

			if adminKey != "" && KeysEqual(token, adminKey) {
				next.ServeHTTP(w, r)
				return
			}

			if sessions != nil {
				op, err := sessions.LookupSession(r.Context(), token)
				if err == nil && op != nil {
					ctx := ContextWithOperator(r.Context(), op)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			writeUnauthorized(w, "invalid credentials")
		})
	}
}

// ExtractBearerToken pulls the token from an Authorization: Bearer header.
func ExtractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    "unauthorized",
			Message: message,
		},
	})
}
