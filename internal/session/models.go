package session

import (
	"time"

	"github.com/peagelabs/peage/internal/settle"
)

// Summary is the spend position of one chat session: cumulative totals plus
// a window of recent receipts.
type Summary struct {
	SessionID      string            `json:"session_id"`
	TotalSpendUSD  float64           `json:"total_spend_usd"`
	PaidCalls      int64             `json:"paid_calls"`
	UpdatedAt      time.Time         `json:"updated_at"`
	RecentReceipts []*settle.Receipt `json:"recent_receipts"`
}

// Snapshot is the durable row persisted per session. The receipt window is
// deliberately not part of the snapshot; it is rebuilt from the settlement
// log when a session is not in memory.
type Snapshot struct {
	SessionID     string    `json:"session_id"`
	TotalSpendUSD float64   `json:"total_spend_usd"`
	PaidCalls     int64     `json:"paid_calls"`
	UpdatedAt     time.Time `json:"updated_at"`
}
