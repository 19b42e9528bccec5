package policy

import "time"

// Reason codes for policy and budget decisions. These surface verbatim in
// the decision log and in tool-result errors fed back to the model.
const (
	CodeAllowed        = "allowed"
	CodeFrozen         = "policy_frozen"
	CodeEndpoint       = "policy_endpoint"
	CodePerCall        = "policy_per_call"
	CodePayee          = "policy_payee"
	CodeDaily          = "policy_daily"
	CodeBudgetExceeded = "budget_exceeded"
	CodePaymentFailed  = "payment_failed"
)

// AgentPolicy holds the mutable per-agent spend rules. A policy is created
// with capability-derived defaults on first access, persisted on every
// update, and reloaded once at process start.
type AgentPolicy struct {
	AgentID          string    `json:"agent_id"`
	Frozen           bool      `json:"frozen"`
	DailyLimitUSD    float64   `json:"daily_limit_usd"`
	PerCallLimitUSD  float64   `json:"per_call_limit_usd"`
	AllowedEndpoints []string  `json:"allowed_endpoints"`
	AllowedPayees    []string  `json:"allowed_payees"`
	UpdatedAt        time.Time `json:"updated_at"`
	UpdatedBy        string    `json:"updated_by"`
}

// UpdatePolicyInput holds optional fields for a partial policy update.
// Only non-nil fields are applied.
type UpdatePolicyInput struct {
	Frozen           *bool     `json:"frozen,omitempty"`
	DailyLimitUSD    *float64  `json:"daily_limit_usd,omitempty"`
	PerCallLimitUSD  *float64  `json:"per_call_limit_usd,omitempty"`
	AllowedEndpoints *[]string `json:"allowed_endpoints,omitempty"`
	AllowedPayees    *[]string `json:"allowed_payees,omitempty"`
}

// EvaluateInput carries one prospective paid call into the decision engine.
type EvaluateInput struct {
	AgentID         string
	Endpoint        string
	QuotedPriceUSD  float64
	Payee           string
	TraceID         string
	SessionID       string
	BudgetBeforeUSD float64
}

// Decision is the engine's verdict on one prospective call. A deny is a
// value, never an error: the reason becomes the tool-failure message fed
// back to the model so one blocked capability does not abort the response.
type Decision struct {
	Allowed           bool    `json:"allowed"`
	Code              string  `json:"code"`
	Reason            string  `json:"reason"`
	ReservationID     string  `json:"-"`
	SpentTodayUSD     float64 `json:"spent_today_usd"`
	ReservedUSD       float64 `json:"reserved_usd"`
	RemainingDailyUSD float64 `json:"remaining_daily_usd"`
}

// DecisionRecord is one row of the append-only policy decision log. It
// captures the accounting snapshot the decision was made against, so audits
// reconstruct intent even when the call later failed.
type DecisionRecord struct {
	TraceID           string    `json:"trace_id,omitempty"`
	SessionID         string    `json:"session_id,omitempty"`
	AgentID           string    `json:"agent_id"`
	Endpoint          string    `json:"endpoint"`
	QuotedPriceUSD    float64   `json:"quoted_price_usd"`
	Decision          string    `json:"decision"` // "allow" or "deny"
	Code              string    `json:"code,omitempty"`
	Reason            string    `json:"reason"`
	SpentTodayUSD     float64   `json:"spent_today_usd"`
	ReservedUSD       float64   `json:"reserved_usd"`
	RemainingDailyUSD float64   `json:"remaining_daily_usd"`
	BudgetBeforeUSD   float64   `json:"budget_before_usd"`
	CreatedAt         time.Time `json:"created_at"`
}
