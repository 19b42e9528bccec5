// Package reserve implements the in-memory budget reservation ledger. A
// reservation is an ephemeral hold against an agent's daily budget for a call
// in flight; it prevents several calls in the same process from each reading
// a stale settled-spend figure before any of them lands in the durable log.
// The ledger is never persisted: a restart loses only in-flight bookkeeping,
// and the durable settlement log keeps the accounting correct.
package reserve

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type reservation struct {
	agentID   string
	amountUSD float64
	createdAt time.Time
}

// Ledger tracks outstanding reservations per agent. Safe for concurrent use.
type Ledger struct {
	mu          sync.Mutex
	held        map[string]reservation
	outstanding map[string]float64
	now         func() time.Time // injectable clock for testing
}

// NewLedger creates an empty reservation ledger.
func NewLedger() *Ledger {
	return &Ledger{
		held:        make(map[string]reservation),
		outstanding: make(map[string]float64),
		now:         time.Now,
	}
}

// Reserve unconditionally records a hold of amountUSD against agentID and
// returns the reservation id.
func (l *Ledger) Reserve(agentID string, amountUSD float64) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserveLocked(agentID, amountUSD)
}

// ReserveWithin records a hold only if spentTodayUSD plus the agent's
// outstanding reservations plus amountUSD stays within dailyLimitUSD. The
// check and the reserve happen under one lock acquisition so that no other
// caller can observe the outstanding total between them. It returns the
// outstanding total as it was before this call, for decision snapshots.
func (l *Ledger) ReserveWithin(agentID string, amountUSD, spentTodayUSD, dailyLimitUSD float64) (id string, outstanding float64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	outstanding = l.outstanding[agentID]
	if spentTodayUSD+outstanding+amountUSD > dailyLimitUSD {
		return "", outstanding, false
	}
	return l.reserveLocked(agentID, amountUSD), outstanding, true
}

func (l *Ledger) reserveLocked(agentID string, amountUSD float64) string {
	id := uuid.NewString()
	l.held[id] = reservation{
		agentID:   agentID,
		amountUSD: amountUSD,
		createdAt: l.now(),
	}
	l.outstanding[agentID] += amountUSD
	return id
}

// Release removes the hold for the given reservation id. It is idempotent:
// unknown or already-released ids are a no-op.
func (l *Ledger) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.held[id]
	if !ok {
		return
	}
	delete(l.held, id)

	total := l.outstanding[r.agentID] - r.amountUSD
	if total <= 0 {
		delete(l.outstanding, r.agentID)
		return
	}
	l.outstanding[r.agentID] = total
}

// Outstanding returns the sum of the agent's active reservations.
func (l *Ledger) Outstanding(agentID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outstanding[agentID]
}

// Active returns the number of reservations currently held across all agents.
func (l *Ledger) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
