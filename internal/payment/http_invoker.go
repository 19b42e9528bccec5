package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// maxResponseSize bounds capability response bodies (4 MB).
const maxResponseSize = 4 << 20

// receiptHeader carries the base64-encoded settlement receipt on responses
// from facilitator-fronted capabilities.
const receiptHeader = "X-Payment-Receipt"

// HTTPInvoker is the production Invoker: it performs the capability call over
// HTTP and extracts the raw settlement receipt from the response. The
// payment handshake itself is handled by the facilitator in front of the
// capability; by the time a 2xx arrives the call has settled.
type HTTPInvoker struct {
	client *http.Client
}

// NewHTTPInvoker creates an HTTPInvoker with the given per-call timeout.
func NewHTTPInvoker(timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPInvoker{client: &http.Client{Timeout: timeout}}
}

// Invoke performs the call. Non-2xx statuses and transport failures are
// errors; the caller records them as failed receipts.
func (h *HTTPInvoker) Invoke(ctx context.Context, call Call) (*InvokeResult, error) {
	method := call.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}

	url := strings.TrimRight(call.BaseURL, "/") + call.Endpoint
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building capability request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capability call failed (%s): %w", classifyTransportError(err), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading capability response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("capability returned status %d", resp.StatusCode)
	}

	return &InvokeResult{
		Data:       json.RawMessage(data),
		RawReceipt: extractRawReceipt(resp.Header, data),
		StatusCode: resp.StatusCode,
	}, nil
}

// extractRawReceipt pulls the settlement receipt from the response header,
// falling back to a top-level "settlement" member in the body. Receipts vary
// structurally by call path; no shape is assumed here.
func extractRawReceipt(header http.Header, body []byte) json.RawMessage {
	if enc := header.Get(receiptHeader); enc != "" {
		if raw, err := base64.StdEncoding.DecodeString(enc); err == nil && json.Valid(raw) {
			return json.RawMessage(raw)
		}
	}

	var envelope struct {
		Settlement json.RawMessage `json:"settlement"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Settlement) > 0 {
		return envelope.Settlement
	}
	return nil
}

// classifyTransportError categorizes an upstream HTTP client error.
func classifyTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Op == "dial" {
			return "connection_refused"
		}
		return "network"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	return "other"
}
