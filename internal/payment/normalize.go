package payment

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// maxReceiptDepth bounds the recursive walk over raw receipts.
const maxReceiptDepth = 8

// txHashPattern is the strict shape of an EVM transaction hash.
var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Settlement holds the fields extracted from a raw settlement receipt. Any
// field without an exact key match at some depth stays empty; receipts from
// different call paths are structurally inconsistent and must not be guessed
// at.
type Settlement struct {
	TxHash       string `json:"tx_hash,omitempty"`
	ReceiptRef   string `json:"receipt_ref,omitempty"`
	Payer        string `json:"payer,omitempty"`
	Network      string `json:"network,omitempty"`
	SettlementID string `json:"settlement_id,omitempty"`
	PaymentID    string `json:"payment_id,omitempty"`
}

// Key-name aliases per field, matched against normalized (lowercased,
// alphanumeric-only) keys.
var (
	txHashKeys     = keySet("txhash", "transactionhash", "hash")
	receiptRefKeys = keySet("receiptref", "receipt", "settlementreference", "reference")
	payerKeys      = keySet("payer", "payeraddress", "from")
	networkKeys    = keySet("network", "networkid", "chain", "chainid")
	settleIDKeys   = keySet("settlementid")
	payIDKeys      = keySet("paymentid")
)

func keySet(keys ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Normalize extracts settlement fields from a raw receipt via a depth-bounded
// walk. A nil or malformed receipt yields the zero Settlement.
func Normalize(raw json.RawMessage) Settlement {
	var s Settlement
	if len(raw) == 0 {
		return s
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return s
	}

	walk(v, 0, &s)
	return s
}

// walk visits v depth-first, filling each Settlement field from its first
// matching key. Map keys are visited in sorted order so extraction is
// deterministic regardless of decoder map ordering.
func walk(v any, depth int, s *Settlement) {
	if depth > maxReceiptDepth {
		return
	}

	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			norm := normalizeKey(k)
			if str, ok := val[k].(string); ok && str != "" {
				assign(norm, str, s)
			}
		}
		for _, k := range keys {
			walk(val[k], depth+1, s)
		}
	case []any:
		for _, item := range val {
			walk(item, depth+1, s)
		}
	}
}

func assign(normKey, value string, s *Settlement) {
	if _, ok := txHashKeys[normKey]; ok && s.TxHash == "" && txHashPattern.MatchString(value) {
		s.TxHash = value
	}
	if _, ok := receiptRefKeys[normKey]; ok && s.ReceiptRef == "" {
		s.ReceiptRef = value
	}
	if _, ok := payerKeys[normKey]; ok && s.Payer == "" {
		s.Payer = value
	}
	if _, ok := networkKeys[normKey]; ok && s.Network == "" {
		s.Network = value
	}
	if _, ok := settleIDKeys[normKey]; ok && s.SettlementID == "" {
		s.SettlementID = value
	}
	if _, ok := payIDKeys[normKey]; ok && s.PaymentID == "" {
		s.PaymentID = value
	}
}

// normalizeKey lowercases and strips everything but letters and digits, so
// "tx_hash", "TxHash" and "TX-HASH" all match "txhash".
func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
