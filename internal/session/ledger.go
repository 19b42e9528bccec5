// Package session tracks per-session spend: cumulative totals, a window of
// recent receipts, and a durable snapshot so totals survive a restart.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/peagelabs/peage/internal/settle"
)

const defaultWindowCap = 100

// SnapshotStore persists session totals. Implemented by Store.
type SnapshotStore interface {
	Upsert(ctx context.Context, snap *Snapshot) error
}

// SettlementSource recomputes a session's position from the settlement log
// when the session is not in memory. Implemented by settle.Store.
type SettlementSource interface {
	SessionTotals(ctx context.Context, sessionID string) (totalUSD float64, paidCalls int64, err error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*settle.Receipt, error)
}

type sessionState struct {
	totalSpendUSD float64
	paidCalls     int64
	updatedAt     time.Time
	window        []*settle.Receipt
}

// Ledger maintains per-session spend state. Safe for concurrent use. Both
// stores may be nil, in which case the ledger is memory-only.
type Ledger struct {
	snapshots   SnapshotStore
	settlements SettlementSource
	windowCap   int

	mu       sync.Mutex
	sessions map[string]*sessionState

	degraded sync.Once
	now      func() time.Time
}

// NewLedger creates a session spend ledger.
func NewLedger(snapshots SnapshotStore, settlements SettlementSource) *Ledger {
	return &Ledger{
		snapshots:   snapshots,
		settlements: settlements,
		windowCap:   defaultWindowCap,
		sessions:    make(map[string]*sessionState),
		now:         time.Now,
	}
}

// AddReceipt folds one receipt into its session's position. Receipts without
// a session id are ignored. Failed receipts join the window but never move
// the totals.
func (l *Ledger) AddReceipt(ctx context.Context, r *settle.Receipt) {
	if r.SessionID == "" {
		return
	}

	l.mu.Lock()
	state, ok := l.sessions[r.SessionID]
	if !ok {
		state = &sessionState{}
		l.sessions[r.SessionID] = state
	}

	if r.Success {
		state.totalSpendUSD += r.AmountUSD
		state.paidCalls++
	}
	state.window = append([]*settle.Receipt{r}, state.window...)
	if len(state.window) > l.windowCap {
		state.window = state.window[:l.windowCap]
	}
	state.updatedAt = l.now().UTC()

	snap := &Snapshot{
		SessionID:     r.SessionID,
		TotalSpendUSD: state.totalSpendUSD,
		PaidCalls:     state.paidCalls,
		UpdatedAt:     state.updatedAt,
	}
	l.mu.Unlock()

	l.persist(ctx, snap)
}

func (l *Ledger) persist(ctx context.Context, snap *Snapshot) {
	if l.snapshots == nil {
		return
	}
	if err := l.snapshots.Upsert(ctx, snap); err != nil {
		l.degraded.Do(func() {
			slog.Error("session snapshot store unavailable, continuing in memory", "error", err)
		})
	}
}

// GetSummary returns the session's position: from memory when the session is
// live, otherwise recomputed from the settlement log.
func (l *Ledger) GetSummary(ctx context.Context, sessionID string) (*Summary, error) {
	l.mu.Lock()
	if state, ok := l.sessions[sessionID]; ok {
		window := make([]*settle.Receipt, len(state.window))
		copy(window, state.window)
		summary := &Summary{
			SessionID:      sessionID,
			TotalSpendUSD:  state.totalSpendUSD,
			PaidCalls:      state.paidCalls,
			UpdatedAt:      state.updatedAt,
			RecentReceipts: window,
		}
		l.mu.Unlock()
		return summary, nil
	}
	l.mu.Unlock()

	if l.settlements == nil {
		return &Summary{SessionID: sessionID, RecentReceipts: []*settle.Receipt{}}, nil
	}

	// Cold session: the settlement log is the source of truth, not the
	// snapshot, so totals stay consistent with the receipts returned.
	total, paid, err := l.settlements.SessionTotals(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("recomputing session totals: %w", err)
	}
	receipts, err := l.settlements.ListBySession(ctx, sessionID, l.windowCap)
	if err != nil {
		return nil, fmt.Errorf("listing session receipts: %w", err)
	}

	summary := &Summary{
		SessionID:      sessionID,
		TotalSpendUSD:  total,
		PaidCalls:      paid,
		RecentReceipts: receipts,
	}
	if len(receipts) > 0 {
		summary.UpdatedAt = receipts[0].SettledAt
	}
	return summary, nil
}

// SpentInSession returns the session's settled spend, zero for unknown
// sessions. Used by the orchestrator's per-request budget check.
func (l *Ledger) SpentInSession(sessionID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.sessions[sessionID]; ok {
		return state.totalSpendUSD
	}
	return 0
}
