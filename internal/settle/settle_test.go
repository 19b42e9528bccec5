package settle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockSpendStore returns a fixed total or an error.
type mockSpendStore struct {
	total float64
	err   error

	mu        sync.Mutex
	lastSince time.Time
}

func (m *mockSpendStore) SpentSince(_ context.Context, _ string, since time.Time) (float64, error) {
	m.mu.Lock()
	m.lastSince = since
	m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.total, nil
}

func TestDailyAccumulatorPrefersStore(t *testing.T) {
	store := &mockSpendStore{total: 0.97}
	a := NewDailyAccumulator(store)
	a.RecordSettled("agent-1", 0.10) // mirror diverges on purpose

	if got := a.SpentToday(context.Background(), "agent-1"); got != 0.97 {
		t.Fatalf("expected store total 0.97, got %v", got)
	}

	store.mu.Lock()
	since := store.lastSince
	store.mu.Unlock()
	if since.Hour() != 0 || since.Minute() != 0 || since.Location() != time.UTC {
		t.Errorf("expected UTC start-of-day query bound, got %v", since)
	}
}

func TestDailyAccumulatorFallsBackWhenDegraded(t *testing.T) {
	store := &mockSpendStore{err: errors.New("connection refused")}
	a := NewDailyAccumulator(store)

	a.RecordSettled("agent-1", 0.02)
	a.RecordSettled("agent-1", 0.03)

	if got := a.SpentToday(context.Background(), "agent-1"); got != 0.05 {
		t.Fatalf("expected mirror total 0.05, got %v", got)
	}
	if got := a.SpentToday(context.Background(), "agent-2"); got != 0 {
		t.Fatalf("expected 0 for untouched agent, got %v", got)
	}
}

func TestDailyAccumulatorRollsAtMidnight(t *testing.T) {
	a := NewDailyAccumulator(nil)

	day1 := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return day1 }
	a.RecordSettled("agent-1", 0.50)

	if got := a.SpentToday(context.Background(), "agent-1"); got != 0.50 {
		t.Fatalf("expected 0.50 before midnight, got %v", got)
	}

	a.now = func() time.Time { return day1.Add(2 * time.Hour) } // 01:00 next day
	if got := a.SpentToday(context.Background(), "agent-1"); got != 0 {
		t.Fatalf("expected mirror reset after day roll, got %v", got)
	}
}

func TestHistoryCapAndOrder(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(&Receipt{ID: fmt.Sprintf("r%d", i)})
	}

	recent := h.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained receipts, got %d", len(recent))
	}
	if recent[0].ID != "r4" || recent[2].ID != "r2" {
		t.Errorf("expected newest-first window [r4 r3 r2], got [%s %s %s]",
			recent[0].ID, recent[1].ID, recent[2].ID)
	}

	if got := h.Recent(1); len(got) != 1 || got[0].ID != "r4" {
		t.Errorf("expected Recent(1) = [r4], got %v", got)
	}
}

// failingInserter always errors, for degraded-path coverage.
type failingInserter struct{ calls int }

func (f *failingInserter) Insert(context.Context, *Receipt) error {
	f.calls++
	return errors.New("store down")
}

type okInserter struct{ inserted []*Receipt }

func (o *okInserter) Insert(_ context.Context, r *Receipt) error {
	o.inserted = append(o.inserted, r)
	return nil
}

func TestRecorderRoutesReceipts(t *testing.T) {
	store := &okInserter{}
	history := NewHistory(10)
	daily := NewDailyAccumulator(nil)
	rec := NewRecorder(store, history, daily)

	rec.Record(context.Background(), &Receipt{ID: "ok", AgentID: "agent-1", AmountUSD: 0.02, Success: true})
	rec.Record(context.Background(), &Receipt{ID: "bad", AgentID: "agent-1", AmountUSD: 0.02, Success: false, Error: "upstream 500"})

	if len(store.inserted) != 2 {
		t.Fatalf("expected both receipts persisted, got %d", len(store.inserted))
	}
	if len(history.Recent(0)) != 2 {
		t.Fatalf("expected both receipts in history, got %d", len(history.Recent(0)))
	}
	// Failed receipts must not count toward spend.
	if got := daily.SpentToday(context.Background(), "agent-1"); got != 0.02 {
		t.Fatalf("expected daily spend 0.02 (success only), got %v", got)
	}
}

func TestRecorderLogsAndContinuesOnStoreFailure(t *testing.T) {
	store := &failingInserter{}
	history := NewHistory(10)
	daily := NewDailyAccumulator(nil)
	rec := NewRecorder(store, history, daily)

	rec.Record(context.Background(), &Receipt{ID: "r1", AgentID: "agent-1", AmountUSD: 0.05, Success: true})

	if store.calls != 1 {
		t.Fatalf("expected one insert attempt, got %d", store.calls)
	}
	if len(history.Recent(0)) != 1 {
		t.Fatal("expected receipt retained in memory despite store failure")
	}
	if got := daily.SpentToday(context.Background(), "agent-1"); got != 0.05 {
		t.Fatalf("expected mirror updated despite store failure, got %v", got)
	}
}
