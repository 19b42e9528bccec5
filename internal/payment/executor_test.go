package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type scriptedInvoker struct {
	result *InvokeResult
	err    error
	delay  time.Duration
	calls  int
}

func (s *scriptedInvoker) Invoke(_ context.Context, _ Call) (*InvokeResult, error) {
	s.calls++
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.result, s.err
}

func TestExecutorSuccess(t *testing.T) {
	inv := &scriptedInvoker{
		result: &InvokeResult{
			Data:       json.RawMessage(`{"price": 65000}`),
			RawReceipt: json.RawMessage(`{"receipt": "stl_1"}`),
			StatusCode: 200,
		},
	}
	e := NewExecutor(inv)

	res, latency, err := e.Execute(context.Background(), Call{AgentID: "oracle", Endpoint: "/capability/oracle/price"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Data) != `{"price": 65000}` {
		t.Errorf("unexpected data: %s", res.Data)
	}
	if latency < 0 {
		t.Errorf("expected non-negative latency, got %v", latency)
	}
	if inv.calls != 1 {
		t.Errorf("expected exactly one invocation, got %d", inv.calls)
	}
}

func TestExecutorFailureReportsLatency(t *testing.T) {
	inv := &scriptedInvoker{err: errors.New("facilitator timeout"), delay: 10 * time.Millisecond}
	e := NewExecutor(inv)

	res, latency, err := e.Execute(context.Background(), Call{AgentID: "oracle"})
	if err == nil {
		t.Fatal("expected error")
	}
	if res != nil {
		t.Error("expected nil result on failure")
	}
	if latency < 10*time.Millisecond {
		t.Errorf("expected latency to cover the failed call, got %v", latency)
	}
	// No retry: one failed invocation stays one invocation.
	if inv.calls != 1 {
		t.Errorf("expected exactly one invocation, got %d", inv.calls)
	}
}

func TestHTTPInvokerExtractsHeaderReceipt(t *testing.T) {
	receipt := `{"txHash": "` + validHash + `", "network": "base"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/capability/oracle/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set(receiptHeader, base64.StdEncoding.EncodeToString([]byte(receipt)))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price": 65000}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(5 * time.Second)
	res, err := inv.Invoke(context.Background(), Call{
		BaseURL:  srv.URL,
		Endpoint: "/capability/oracle/price",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.RawReceipt) != receipt {
		t.Errorf("expected header receipt, got %s", res.RawReceipt)
	}
}

func TestHTTPInvokerFallsBackToBodySettlement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"price": 1}, "settlement": {"receipt": "stl_9"}}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(5 * time.Second)
	res, err := inv.Invoke(context.Background(), Call{BaseURL: srv.URL, Endpoint: "/x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.RawReceipt) != `{"receipt": "stl_9"}` {
		t.Errorf("expected body settlement receipt, got %s", res.RawReceipt)
	}
}

func TestHTTPInvokerNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(5 * time.Second)
	if _, err := inv.Invoke(context.Background(), Call{BaseURL: srv.URL, Endpoint: "/x"}); err == nil {
		t.Fatal("expected error for 402 response")
	}
}

func TestClassifyTransportError(t *testing.T) {
	if got := classifyTransportError(context.DeadlineExceeded); got != "timeout" {
		t.Errorf("expected timeout, got %q", got)
	}
	if got := classifyTransportError(context.Canceled); got != "canceled" {
		t.Errorf("expected canceled, got %q", got)
	}
	if got := classifyTransportError(errors.New("boom")); got != "other" {
		t.Errorf("expected other, got %q", got)
	}
}
