package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/peagelabs/peage/internal/auth"
	"github.com/peagelabs/peage/internal/operator"
	"github.com/peagelabs/peage/internal/orchestrator"
	"github.com/peagelabs/peage/internal/policy"
	"github.com/peagelabs/peage/internal/session"
	"github.com/peagelabs/peage/internal/settle"
	"github.com/peagelabs/peage/internal/trace"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type fakeChatService struct {
	lastReq  orchestrator.ChatRequest
	resp     *orchestrator.ChatResponse
	err      error
	summary  *session.Summary
	traces   map[string]*trace.Summary
	bySessID map[string]*trace.Summary
}

func (f *fakeChatService) HandleRequest(_ context.Context, req orchestrator.ChatRequest) (*orchestrator.ChatResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func (f *fakeChatService) SessionSummary(_ context.Context, sessionID string) (*session.Summary, error) {
	if f.summary != nil && f.summary.SessionID == sessionID {
		return f.summary, nil
	}
	return &session.Summary{SessionID: sessionID}, nil
}

func (f *fakeChatService) Trace(traceID string) *trace.Summary {
	return f.traces[traceID]
}

func (f *fakeChatService) LatestSessionTrace(sessionID string) *trace.Summary {
	return f.bySessID[sessionID]
}

type fakePolicyAdmin struct {
	policies   map[string]policy.AgentPolicy
	lastUpdate policy.UpdatePolicyInput
	lastActor  string
}

func (f *fakePolicyAdmin) AllPolicies() []policy.AgentPolicy {
	out := make([]policy.AgentPolicy, 0, len(f.policies))
	for _, p := range f.policies {
		out = append(out, p)
	}
	return out
}

func (f *fakePolicyAdmin) GetPolicy(agentID string) policy.AgentPolicy {
	if p, ok := f.policies[agentID]; ok {
		return p
	}
	return policy.AgentPolicy{AgentID: agentID}
}

func (f *fakePolicyAdmin) Update(_ context.Context, agentID string, in policy.UpdatePolicyInput, updatedBy string) policy.AgentPolicy {
	f.lastUpdate = in
	f.lastActor = updatedBy
	p := f.GetPolicy(agentID)
	if in.DailyLimitUSD != nil {
		p.DailyLimitUSD = *in.DailyLimitUSD
	}
	p.UpdatedBy = updatedBy
	return p
}

func (f *fakePolicyAdmin) SetFrozen(_ context.Context, agentID string, frozen bool, updatedBy string) policy.AgentPolicy {
	f.lastActor = updatedBy
	p := f.GetPolicy(agentID)
	p.Frozen = frozen
	p.UpdatedBy = updatedBy
	return p
}

type fakeDecisionLog struct {
	recs      []*policy.DecisionRecord
	lastLimit int
}

func (f *fakeDecisionLog) ListRecent(_ context.Context, limit int) ([]*policy.DecisionRecord, error) {
	f.lastLimit = limit
	return f.recs, nil
}

type fakeSettlementLog struct {
	receipts []*settle.Receipt
	err      error
}

func (f *fakeSettlementLog) ListRecent(_ context.Context, _ int) ([]*settle.Receipt, error) {
	return f.receipts, f.err
}

type fakeOperators struct {
	op        *operator.Operator
	authErr   error
	token     string
	deleted   []string
	createErr error
}

func (f *fakeOperators) Authenticate(_ context.Context, email, password string) (*operator.Operator, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	if f.op != nil && f.op.Email == email && password == "correct-horse" {
		return f.op, nil
	}
	return nil, nil
}

func (f *fakeOperators) CreateSession(_ context.Context, operatorID string) (string, *operator.Session, error) {
	if f.createErr != nil {
		return "", nil, f.createErr
	}
	return f.token, &operator.Session{
		OperatorID: operatorID,
		ExpiresAt:  time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeOperators) DeleteSession(_ context.Context, token string) error {
	f.deleted = append(f.deleted, token)
	return nil
}

type fakeSessionLookup struct {
	op *auth.Operator
}

func (f *fakeSessionLookup) LookupSession(_ context.Context, token string) (*auth.Operator, error) {
	if f.op != nil && token == "operator-token" {
		return f.op, nil
	}
	return nil, nil
}

const testAdminKey = "test-admin-key"

func newTestRouter(t *testing.T, chat *fakeChatService, admin *fakePolicyAdmin) (http.Handler, *fakeOperators) {
	t.Helper()
	if chat == nil {
		chat = &fakeChatService{}
	}
	if admin == nil {
		admin = &fakePolicyAdmin{policies: map[string]policy.AgentPolicy{}}
	}
	operators := &fakeOperators{
		op:    &operator.Operator{ID: "op-1", Email: "ops@example.com", Name: "Ops"},
		token: "fresh-token",
	}
	deps := RouterDeps{
		Chat:        chat,
		Engine:      admin,
		Decisions:   &fakeDecisionLog{},
		Settlements: &fakeSettlementLog{},
		Operators:   operators,
		Sessions:    &fakeSessionLookup{op: &auth.Operator{ID: "op-1", Email: "ops@example.com"}},
		AdminKey:    testAdminKey,
		CORSOrigins: []string{"*"},
	}
	return NewRouter(deps), operators
}

func doJSON(t *testing.T, handler http.Handler, method, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Health check
// ---------------------------------------------------------------------------

func TestHealthCheck(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil)

	rec := doJSON(t, handler, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
}

// ---------------------------------------------------------------------------
// Chat endpoint
// ---------------------------------------------------------------------------

func TestChat_Success(t *testing.T) {
	chat := &fakeChatService{
		resp: &orchestrator.ChatResponse{
			SessionID: "sess-1",
			TraceID:   "trace-1",
			Response:  "BTC is trading at $61,000.",
			Trace:     &trace.Summary{TraceID: "trace-1"},
		},
	}
	handler, _ := newTestRouter(t, chat, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/chat",
		`{"prompt":"what is the BTC price?","budget_usd":0.50,"session_id":"sess-1"}`, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if chat.lastReq.Prompt != "what is the BTC price?" {
		t.Errorf("prompt not forwarded, got %q", chat.lastReq.Prompt)
	}
	if chat.lastReq.BudgetUSD != 0.50 {
		t.Errorf("budget not forwarded, got %v", chat.lastReq.BudgetUSD)
	}

	var resp orchestrator.ChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.TraceID != "trace-1" {
		t.Errorf("expected trace_id trace-1, got %q", resp.TraceID)
	}
	if resp.Response == "" {
		t.Error("expected a non-empty assistant response")
	}
}

func TestChat_Validation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"empty prompt", `{"prompt":"   "}`, http.StatusUnprocessableEntity},
		{"missing prompt", `{"budget_usd":1.0}`, http.StatusUnprocessableEntity},
		{"negative budget", `{"prompt":"hi","budget_usd":-1}`, http.StatusUnprocessableEntity},
		{"malformed json", `{"prompt":`, http.StatusBadRequest},
	}

	handler, _ := newTestRouter(t, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, "/api/v1/chat", tt.body, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			var envelope struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
				t.Fatalf("failed to decode error envelope: %v", err)
			}
			if envelope.Error.Code == "" {
				t.Error("expected an error code in the envelope")
			}
		})
	}
}

func TestChat_UpstreamError(t *testing.T) {
	chat := &fakeChatService{err: errors.New("model unavailable")}
	handler, _ := newTestRouter(t, chat, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/chat", `{"prompt":"hello"}`, "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Session and trace reads
// ---------------------------------------------------------------------------

func TestSessionSpend(t *testing.T) {
	chat := &fakeChatService{
		summary: &session.Summary{SessionID: "sess-9", TotalSpendUSD: 0.07, PaidCalls: 3},
	}
	handler, _ := newTestRouter(t, chat, nil)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sessions/sess-9/spend", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got session.Summary
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.TotalSpendUSD != 0.07 || got.PaidCalls != 3 {
		t.Errorf("unexpected summary: %+v", got)
	}
}

func TestGetTrace(t *testing.T) {
	chat := &fakeChatService{
		traces: map[string]*trace.Summary{
			"trace-5": {TraceID: "trace-5", SessionID: "sess-5"},
		},
	}
	handler, _ := newTestRouter(t, chat, nil)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/traces/trace-5", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/traces/nope", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown trace, got %d", rec.Code)
	}
}

func TestSessionTrace_NotFound(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sessions/sess-x/trace", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Admin policies
// ---------------------------------------------------------------------------

func TestAdminPolicies_RequireAuth(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/admin/policies", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/admin/policies", "", "wrong-key")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 with wrong key, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/admin/policies", "", testAdminKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 with admin key, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminPolicies_OperatorSession(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/admin/policies", "", "operator-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 with operator session, got %d", rec.Code)
	}
}

func TestListPolicies(t *testing.T) {
	admin := &fakePolicyAdmin{policies: map[string]policy.AgentPolicy{
		"oracle": {AgentID: "oracle", DailyLimitUSD: 1.00},
		"wallet": {AgentID: "wallet", DailyLimitUSD: 2.00},
	}}
	handler, _ := newTestRouter(t, nil, admin)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/admin/policies", "", testAdminKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body struct {
		Policies []policy.AgentPolicy `json:"policies"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Policies) != 2 {
		t.Errorf("expected 2 policies, got %d", len(body.Policies))
	}
}

func TestUpdatePolicy(t *testing.T) {
	admin := &fakePolicyAdmin{policies: map[string]policy.AgentPolicy{
		"oracle": {AgentID: "oracle", DailyLimitUSD: 1.00},
	}}
	handler, _ := newTestRouter(t, nil, admin)

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/admin/policies/oracle",
		`{"daily_limit_usd":2.50}`, testAdminKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if admin.lastUpdate.DailyLimitUSD == nil || *admin.lastUpdate.DailyLimitUSD != 2.50 {
		t.Errorf("daily limit not forwarded: %+v", admin.lastUpdate)
	}
	if admin.lastActor != "admin" {
		t.Errorf("expected actor admin for key auth, got %q", admin.lastActor)
	}

	var got policy.AgentPolicy
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.DailyLimitUSD != 2.50 {
		t.Errorf("expected updated daily limit 2.50, got %v", got.DailyLimitUSD)
	}
}

func TestUpdatePolicy_RecordsOperatorActor(t *testing.T) {
	admin := &fakePolicyAdmin{policies: map[string]policy.AgentPolicy{}}
	handler, _ := newTestRouter(t, nil, admin)

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/admin/policies/oracle",
		`{"frozen":true}`, "operator-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if admin.lastActor != "ops@example.com" {
		t.Errorf("expected operator email as actor, got %q", admin.lastActor)
	}
}

func TestUpdatePolicy_RejectsNegativeLimits(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil)

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/admin/policies/oracle",
		`{"daily_limit_usd":-1}`, testAdminKey)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
}

func TestFreezePolicy(t *testing.T) {
	admin := &fakePolicyAdmin{policies: map[string]policy.AgentPolicy{
		"wallet": {AgentID: "wallet"},
	}}
	handler, _ := newTestRouter(t, nil, admin)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/admin/policies/wallet/freeze",
		`{"frozen":true}`, testAdminKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got policy.AgentPolicy
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !got.Frozen {
		t.Error("expected frozen=true in response")
	}
}

func TestListDecisions_LimitParam(t *testing.T) {
	decisions := &fakeDecisionLog{}
	deps := RouterDeps{
		Chat:        &fakeChatService{},
		Engine:      &fakePolicyAdmin{policies: map[string]policy.AgentPolicy{}},
		Decisions:   decisions,
		Settlements: &fakeSettlementLog{},
		Operators:   &fakeOperators{},
		Sessions:    &fakeSessionLookup{},
		AdminKey:    testAdminKey,
	}
	handler := NewRouter(deps)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/admin/decisions?limit=25", "", testAdminKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if decisions.lastLimit != 25 {
		t.Errorf("expected limit 25, got %d", decisions.lastLimit)
	}

	// Out-of-range limits fall back to the default.
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/admin/decisions?limit=5000", "", testAdminKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if decisions.lastLimit != 100 {
		t.Errorf("expected default limit 100, got %d", decisions.lastLimit)
	}
}

func TestListSettlements(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/admin/settlements", "", testAdminKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body struct {
		Settlements []*settle.Receipt `json:"settlements"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Operator login / logout
// ---------------------------------------------------------------------------

func TestLogin_Success(t *testing.T) {
	handler, operators := newTestRouter(t, nil, nil)
	operators.token = "session-token-abc"

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/admin/login",
		`{"email":"ops@example.com","password":"correct-horse"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Token    string `json:"token"`
		Operator struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"operator"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token != "session-token-abc" {
		t.Errorf("expected session token, got %q", body.Token)
	}
	if body.Operator.Email != "ops@example.com" {
		t.Errorf("expected operator email, got %q", body.Operator.Email)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/admin/login",
		`{"email":"ops@example.com","password":"wrong"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestLogin_Validation(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/admin/login", `{"email":"ops@example.com"}`, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
}

func TestLogout(t *testing.T) {
	handler, operators := newTestRouter(t, nil, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/admin/logout", "", "operator-token")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if len(operators.deleted) != 1 || operators.deleted[0] != "operator-token" {
		t.Errorf("expected the bearer token to be deleted, got %v", operators.deleted)
	}
}

// ---------------------------------------------------------------------------
// Middleware behavior
// ---------------------------------------------------------------------------

func TestRequestIDHeader(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil)

	rec := doJSON(t, handler, http.MethodGet, "/health", "", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID header")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if got := rec2.Header().Get("X-Request-ID"); got != "client-supplied" {
		t.Errorf("expected request ID to be preserved, got %q", got)
	}
}

func TestSecureHeaders(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil)

	rec := doJSON(t, handler, http.MethodGet, "/health", "", "")
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("expected DENY, got %q", got)
	}
}
