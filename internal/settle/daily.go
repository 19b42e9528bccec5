package settle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SpendStore is the durable source for an agent's settled spend.
type SpendStore interface {
	SpentSince(ctx context.Context, agentID string, since time.Time) (float64, error)
}

// DailyAccumulator computes an agent's settled spend for the current UTC day.
// The durable settlement log is the source of truth; a per-agent in-memory
// mirror is kept current on every recorded success so that a degraded store
// still yields correct in-process decisions (only cross-restart durability is
// lost).
type DailyAccumulator struct {
	store SpendStore

	mu      sync.Mutex
	day     string
	settled map[string]float64

	degraded sync.Once
	now      func() time.Time // injectable clock for testing
}

// NewDailyAccumulator creates an accumulator over the given store. store may
// be nil, in which case only the in-memory mirror is consulted.
func NewDailyAccumulator(store SpendStore) *DailyAccumulator {
	return &DailyAccumulator{
		store:   store,
		settled: make(map[string]float64),
		now:     time.Now,
	}
}

// SpentToday returns the agent's successful settled spend since UTC midnight.
func (a *DailyAccumulator) SpentToday(ctx context.Context, agentID string) float64 {
	if a.store != nil {
		total, err := a.store.SpentSince(ctx, agentID, a.startOfDay())
		if err == nil {
			return total
		}
		a.degraded.Do(func() {
			slog.Error("settlement store unreachable, daily spend falls back to in-memory tally", "error", err)
		})
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollLocked()
	return a.settled[agentID]
}

// RecordSettled adds a successful settlement amount to the in-memory mirror.
func (a *DailyAccumulator) RecordSettled(agentID string, amountUSD float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollLocked()
	a.settled[agentID] += amountUSD
}

// rollLocked resets the mirror when the UTC day has changed.
// Must be called with a.mu held.
func (a *DailyAccumulator) rollLocked() {
	today := a.now().UTC().Format("2006-01-02")
	if a.day != today {
		a.day = today
		a.settled = make(map[string]float64)
	}
}

func (a *DailyAccumulator) startOfDay() time.Time {
	now := a.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
