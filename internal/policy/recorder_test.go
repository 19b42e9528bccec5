package policy

import (
	"context"
	"sync"
	"testing"
	"time"
)

type captureStore struct {
	mu      sync.Mutex
	batches [][]DecisionRecord
}

func (c *captureStore) BatchInsert(_ context.Context, recs []DecisionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]DecisionRecord, len(recs))
	copy(batch, recs)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureStore) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func (c *captureStore) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func TestRecorderFlushesAtBatchSize(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store, 3, time.Hour)

	r.Record(DecisionRecord{AgentID: "oracle", Decision: "allow"})
	r.Record(DecisionRecord{AgentID: "oracle", Decision: "deny"})
	if store.batchCount() != 0 {
		t.Fatal("expected no flush below batch size")
	}

	r.Record(DecisionRecord{AgentID: "wallet", Decision: "allow"})
	if store.batchCount() != 1 {
		t.Fatalf("expected one flush at batch size, got %d", store.batchCount())
	}
	if store.total() != 3 {
		t.Fatalf("expected 3 records flushed, got %d", store.total())
	}
}

func TestRecorderFlushesOnStop(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store, 100, time.Hour)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Start(context.Background())
	}()

	r.Record(DecisionRecord{AgentID: "oracle", Decision: "deny"})
	r.Stop()
	wg.Wait()

	if store.total() != 1 {
		t.Fatalf("expected buffered record flushed on stop, got %d", store.total())
	}
}

func TestRecorderFlushesOnInterval(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store, 100, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	r.Record(DecisionRecord{AgentID: "oracle", Decision: "allow"})

	deadline := time.After(time.Second)
	for store.total() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for interval flush")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRecorderConcurrentRecords(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store, 10, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				r.Record(DecisionRecord{AgentID: "oracle", Decision: "allow"})
			}
		}()
	}
	wg.Wait()
	r.flush()

	if store.total() != 100 {
		t.Fatalf("expected 100 records across batches, got %d", store.total())
	}
}
