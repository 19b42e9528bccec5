package trace

// Step outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Step records one requested tool call within a trace: what was asked, what
// the budget looked like around it, and how it ended.
type Step struct {
	StepIndex       int     `json:"step_index"`
	ToolName        string  `json:"tool_name"`
	Endpoint        string  `json:"endpoint"`
	QuotedPriceUSD  float64 `json:"quoted_price_usd"`
	Outcome         string  `json:"outcome"`
	Reason          string  `json:"reason,omitempty"`
	BudgetBeforeUSD float64 `json:"budget_before_usd"`
	BudgetAfterUSD  float64 `json:"budget_after_usd"`
	ReceiptRef      string  `json:"receipt_ref,omitempty"`
	LatencyMs       int64   `json:"latency_ms,omitempty"`
}

// Budget is the session-budget frame of one request.
type Budget struct {
	LimitUSD        float64 `json:"limit_usd"`
	SpentStartUSD   float64 `json:"spent_start_usd"`
	SpentEndUSD     float64 `json:"spent_end_usd"`
	RemainingEndUSD float64 `json:"remaining_end_usd"`
}

// Summary is the complete audit trace of one chat request.
type Summary struct {
	TraceID    string `json:"trace_id"`
	SessionID  string `json:"session_id,omitempty"`
	UserPrompt string `json:"user_prompt"`
	Budget     Budget `json:"budget"`
	Steps      []Step `json:"steps"`
}
