package settle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Inserter is the durable sink for receipts.
type Inserter interface {
	Insert(ctx context.Context, r *Receipt) error
}

// Recorder routes every receipt to the in-memory history, the daily mirror
// (successes only) and the durable settlement log. Persistence is
// best-effort: a store failure is logged and the in-memory state stands.
type Recorder struct {
	store   Inserter
	history *History
	daily   *DailyAccumulator

	degraded sync.Once
}

// NewRecorder creates a Recorder. store may be nil (in-memory only).
func NewRecorder(store Inserter, history *History, daily *DailyAccumulator) *Recorder {
	return &Recorder{store: store, history: history, daily: daily}
}

// Record files one receipt. It never fails; durable-log errors degrade to
// in-memory-only accounting.
func (r *Recorder) Record(ctx context.Context, receipt *Receipt) {
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}
	r.history.Add(receipt)
	if receipt.Success {
		r.daily.RecordSettled(receipt.AgentID, receipt.AmountUSD)
	}

	if r.store == nil {
		return
	}
	if err := r.store.Insert(ctx, receipt); err != nil {
		r.degraded.Do(func() {
			slog.Error("settlement log persistence degraded, receipts held in memory only", "error", err)
		})
		slog.Warn("failed to persist settlement receipt",
			"receipt_id", receipt.ID,
			"agent_id", receipt.AgentID,
			"success", receipt.Success,
		)
	}
}
