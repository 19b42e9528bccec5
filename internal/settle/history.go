package settle

import "sync"

// defaultHistoryCap bounds the in-memory receipt window.
const defaultHistoryCap = 500

// History is a capped, newest-first in-memory window over recent receipts.
// It exists for fast admin inspection; the settlement log is authoritative.
type History struct {
	mu       sync.Mutex
	cap      int
	receipts []*Receipt
}

// NewHistory creates a History retaining at most capacity receipts.
// capacity <= 0 selects the default.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = defaultHistoryCap
	}
	return &History{cap: capacity}
}

// Add prepends a receipt, evicting the oldest past capacity.
func (h *History) Add(r *Receipt) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.receipts = append([]*Receipt{r}, h.receipts...)
	if len(h.receipts) > h.cap {
		h.receipts = h.receipts[:h.cap]
	}
}

// Recent returns up to n receipts, newest first.
func (h *History) Recent(n int) []*Receipt {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > len(h.receipts) {
		n = len(h.receipts)
	}
	out := make([]*Receipt, n)
	copy(out, h.receipts[:n])
	return out
}
