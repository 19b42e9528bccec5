package policy

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BatchInserter is the interface used by Recorder to persist decision
// records. It exists to allow testing without a real database.
type BatchInserter interface {
	BatchInsert(ctx context.Context, recs []DecisionRecord) error
}

// Recorder buffers decision records in memory and periodically flushes them
// to the store in batches. The decision log is audit data: a flush failure is
// logged, never surfaced to the decision path. Safe for concurrent use.
type Recorder struct {
	store         BatchInserter
	buffer        []DecisionRecord
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
}

// NewRecorder creates a Recorder that flushes to the given store when the
// buffer reaches batchSize or every flushInterval, whichever comes first.
func NewRecorder(store BatchInserter, batchSize int, flushInterval time.Duration) *Recorder {
	return &Recorder{
		store:         store,
		buffer:        make([]DecisionRecord, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
}

// Start begins a background goroutine that flushes buffered records on a
// timer. It blocks until Stop is called or the context is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-ctx.Done():
			r.flush()
			return
		case <-r.done:
			r.flush()
			return
		}
	}
}

// Record adds a decision record to the buffer. If the buffer reaches
// batchSize, a flush is triggered immediately.
func (r *Recorder) Record(rec DecisionRecord) {
	r.mu.Lock()
	r.buffer = append(r.buffer, rec)
	shouldFlush := len(r.buffer) >= r.batchSize
	r.mu.Unlock()

	if shouldFlush {
		r.flush()
	}
}

// flush drains all buffered records and writes them to the store. Errors are
// logged rather than returned so decisions are never blocked on the log.
func (r *Recorder) flush() {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buffer
	r.buffer = make([]DecisionRecord, 0, r.batchSize)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.store.BatchInsert(ctx, batch); err != nil {
		slog.Error("failed to flush policy decision log", "count", len(batch), "error", err)
	}
}

// Stop signals the background goroutine to exit and performs a final flush.
func (r *Recorder) Stop() {
	close(r.done)
}
