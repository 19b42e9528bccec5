package settle

import "time"

// Receipt is the durable record of one paid capability call, settled or
// failed. It is immutable once built; failed calls are retained for audit
// but never count toward spend totals.
type Receipt struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id,omitempty"`
	TraceID       string    `json:"trace_id,omitempty"`
	AgentID       string    `json:"agent_id"`
	Endpoint      string    `json:"endpoint"`
	Method        string    `json:"method"`
	AmountUSD     float64   `json:"amount_usd"`
	Network       string    `json:"network"`
	Payee         string    `json:"payee"`
	ReceiptRef    string    `json:"receipt_ref,omitempty"`
	TxHash        string    `json:"tx_hash,omitempty"`
	SettlePayer   string    `json:"settle_payer,omitempty"`
	SettleNetwork string    `json:"settle_network,omitempty"`
	SettledAt     time.Time `json:"settled_at"`
	LatencyMs     int64     `json:"latency_ms"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
}
