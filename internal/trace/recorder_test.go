package trace

import (
	"fmt"
	"testing"
)

func TestTraceLifecycle(t *testing.T) {
	r := NewRecorder()

	id := r.Begin("s1", "what is the BTC price?", 0.50, 0.10)
	if id == "" {
		t.Fatal("expected a trace id")
	}
	if r.Get(id) != nil {
		t.Fatal("in-flight trace must not be visible via Get")
	}

	r.AddStep(id, Step{
		ToolName:        "oracle_price",
		Endpoint:        "/capability/oracle/price?symbol=BTC",
		QuotedPriceUSD:  0.02,
		Outcome:         OutcomeSuccess,
		BudgetBeforeUSD: 0.40,
		BudgetAfterUSD:  0.38,
	})
	r.AddStep(id, Step{
		ToolName: "wallet_analytics",
		Outcome:  OutcomeSkipped,
		Reason:   "budget_exceeded",
	})

	summary := r.Finish(id, 0.12)
	if summary == nil {
		t.Fatal("expected finished summary")
	}
	if len(summary.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(summary.Steps))
	}
	if summary.Steps[0].StepIndex != 0 || summary.Steps[1].StepIndex != 1 {
		t.Error("expected step indexes assigned in order")
	}
	if summary.Budget.SpentEndUSD != 0.12 {
		t.Errorf("expected spent_end 0.12, got %v", summary.Budget.SpentEndUSD)
	}
	if summary.Budget.RemainingEndUSD != 0.38 {
		t.Errorf("expected remaining 0.38, got %v", summary.Budget.RemainingEndUSD)
	}

	got := r.Get(id)
	if got == nil || got.TraceID != id {
		t.Fatal("expected finished trace retrievable by id")
	}
	if latest := r.LatestForSession("s1"); latest == nil || latest.TraceID != id {
		t.Fatal("expected finished trace retrievable by session")
	}
}

func TestTraceImmutableAfterFinish(t *testing.T) {
	r := NewRecorder()
	id := r.Begin("s1", "prompt", 0.50, 0)
	r.Finish(id, 0)

	r.AddStep(id, Step{ToolName: "oracle_price"})
	if got := r.Get(id); len(got.Steps) != 0 {
		t.Errorf("expected no steps added after finish, got %d", len(got.Steps))
	}

	if again := r.Finish(id, 0.99); again != nil {
		t.Error("expected second finish to be a no-op")
	}
}

func TestLatestForSessionTracksNewest(t *testing.T) {
	r := NewRecorder()

	first := r.Begin("s1", "first", 0.50, 0)
	r.Finish(first, 0.02)
	second := r.Begin("s1", "second", 0.50, 0.02)
	r.Finish(second, 0.04)

	latest := r.LatestForSession("s1")
	if latest == nil || latest.TraceID != second {
		t.Fatalf("expected newest trace for session, got %+v", latest)
	}
}

func TestRetentionCapEvictsOldest(t *testing.T) {
	r := NewRecorder()
	r.retention = 3

	var ids []string
	for i := 0; i < 5; i++ {
		id := r.Begin("s1", fmt.Sprintf("prompt %d", i), 0.50, 0)
		r.Finish(id, 0)
		ids = append(ids, id)
	}

	if r.Get(ids[0]) != nil || r.Get(ids[1]) != nil {
		t.Error("expected oldest traces evicted")
	}
	for _, id := range ids[2:] {
		if r.Get(id) == nil {
			t.Errorf("expected trace %s retained", id)
		}
	}
}

func TestUnknownTraceLookups(t *testing.T) {
	r := NewRecorder()
	if r.Get("nope") != nil {
		t.Error("expected nil for unknown trace id")
	}
	if r.LatestForSession("nope") != nil {
		t.Error("expected nil for unknown session")
	}
}
