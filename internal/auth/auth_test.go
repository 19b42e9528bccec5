package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHashKeyDeterministic(t *testing.T) {
	h1 := HashKey("peage-admin-key")
	h2 := HashKey("peage-admin-key")
	if h1 != h2 {
		t.Error("expected identical hashes for identical input")
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
	if HashKey("other") == h1 {
		t.Error("expected different hashes for different input")
	}
}

func TestKeysEqual(t *testing.T) {
	if !KeysEqual("secret", "secret") {
		t.Error("expected equal keys to match")
	}
	if KeysEqual("secret", "Secret") {
		t.Error("expected case difference to mismatch")
	}
	if KeysEqual("secret", "") {
		t.Error("expected empty key to mismatch")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer tok123", "tok123"},
		{"lowercase scheme", "bearer tok123", "tok123"},
		{"missing header", "", ""},
		{"wrong scheme", "Basic tok123", ""},
		{"no token", "Bearer", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := ExtractBearerToken(r); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

type stubSessions struct {
	op *Operator
}

func (s *stubSessions) LookupSession(_ context.Context, token string) (*Operator, error) {
	if token == "valid-session" {
		return s.op, nil
	}
	return nil, nil
}

func TestAdminAuthMiddleware(t *testing.T) {
	op := &Operator{ID: "op1", Email: "ops@peage.dev"}
	var gotOperator *Operator
	handler := AdminAuthMiddleware("admin-key", &stubSessions{op: op})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotOperator = OperatorFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	tests := []struct {
		name         string
		header       string
		wantStatus   int
		wantOperator bool
	}{
		{"admin key", "Bearer admin-key", http.StatusOK, false},
		{"operator session", "Bearer valid-session", http.StatusOK, true},
		{"bad token", "Bearer nope", http.StatusUnauthorized, false},
		{"missing header", "", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotOperator = nil
			r := httptest.NewRequest(http.MethodGet, "/api/v1/admin/policies", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantOperator && (gotOperator == nil || gotOperator.ID != "op1") {
				t.Errorf("expected operator in context, got %+v", gotOperator)
			}
			if !tt.wantOperator && tt.wantStatus == http.StatusOK && gotOperator != nil {
				t.Error("expected no operator for admin-key auth")
			}
		})
	}
}

func TestAdminAuthMiddlewareKeyOnly(t *testing.T) {
	handler := AdminAuthMiddleware("admin-key", nil)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer some-session")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without session lookup, got %d", w.Code)
	}
}
