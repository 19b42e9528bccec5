// Package payment executes metered capability calls and normalizes their
// settlement receipts. The challenge/sign/retry handshake of the underlying
// metered-payment transport lives behind the Invoker interface and is opaque
// here: an invocation either returns parsed data plus a raw settlement
// receipt, or fails.
package payment

import (
	"context"
	"encoding/json"
	"time"
)

// Call identifies one metered capability invocation.
type Call struct {
	AgentID  string
	BaseURL  string
	Endpoint string
	Method   string
	Body     []byte
}

// InvokeResult is the opaque transport's answer: response data plus the raw
// settlement receipt in whatever shape this call path produced.
type InvokeResult struct {
	Data       json.RawMessage
	RawReceipt json.RawMessage
	StatusCode int
}

// Invoker is the metered-payment transport.
type Invoker interface {
	Invoke(ctx context.Context, call Call) (*InvokeResult, error)
}

// Result is a completed paid call.
type Result struct {
	Data       json.RawMessage
	RawReceipt json.RawMessage
}

// Executor performs paid calls through an Invoker and captures wall-clock
// latency. It applies no timeout of its own: if the transport's deadline
// fires, the resulting error is a failed call like any other.
type Executor struct {
	invoker Invoker
}

// NewExecutor creates an Executor over the given transport.
func NewExecutor(invoker Invoker) *Executor {
	return &Executor{invoker: invoker}
}

// Execute performs one metered call. Latency is reported for both outcomes.
func (e *Executor) Execute(ctx context.Context, call Call) (*Result, time.Duration, error) {
	start := time.Now()
	res, err := e.invoker.Invoke(ctx, call)
	latency := time.Since(start)

	if err != nil {
		return nil, latency, err
	}
	return &Result{Data: res.Data, RawReceipt: res.RawReceipt}, latency, nil
}
