// Package trace builds per-request audit traces: every tool call the model
// asked for, the budget position around it, and its outcome.
package trace

import (
	"sync"

	"github.com/google/uuid"
)

const defaultRetention = 200

// Recorder accumulates steps for in-flight traces and retains a capped
// number of finished ones, newest first. Finished traces are immutable.
// Safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	active    map[string]*Summary
	finished  []*Summary
	bySession map[string]string
	retention int
}

// NewRecorder creates a trace recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		active:    make(map[string]*Summary),
		bySession: make(map[string]string),
		retention: defaultRetention,
	}
}

// Begin opens a trace for one request and returns its id.
func (r *Recorder) Begin(sessionID, userPrompt string, limitUSD, spentStartUSD float64) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[id] = &Summary{
		TraceID:    id,
		SessionID:  sessionID,
		UserPrompt: userPrompt,
		Budget: Budget{
			LimitUSD:      limitUSD,
			SpentStartUSD: spentStartUSD,
		},
		Steps: []Step{},
	}
	return id
}

// AddStep appends one step to an in-flight trace. The step index is assigned
// here. No-op for unknown or finished traces.
func (r *Recorder) AddStep(traceID string, step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary, ok := r.active[traceID]
	if !ok {
		return
	}
	step.StepIndex = len(summary.Steps)
	summary.Steps = append(summary.Steps, step)
}

// Finish closes a trace with its end-of-request budget position and moves it
// to the finished set. Further AddStep calls for this id are ignored.
func (r *Recorder) Finish(traceID string, spentEndUSD float64) *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary, ok := r.active[traceID]
	if !ok {
		return nil
	}
	delete(r.active, traceID)

	summary.Budget.SpentEndUSD = spentEndUSD
	remaining := summary.Budget.LimitUSD - spentEndUSD
	if remaining < 0 {
		remaining = 0
	}
	summary.Budget.RemainingEndUSD = remaining

	r.finished = append([]*Summary{summary}, r.finished...)
	if len(r.finished) > r.retention {
		evicted := r.finished[r.retention:]
		r.finished = r.finished[:r.retention]
		for _, s := range evicted {
			if r.bySession[s.SessionID] == s.TraceID {
				delete(r.bySession, s.SessionID)
			}
		}
	}
	if summary.SessionID != "" {
		r.bySession[summary.SessionID] = summary.TraceID
	}
	return summary
}

// Get returns a finished trace by id, or nil.
func (r *Recorder) Get(traceID string) *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.finished {
		if s.TraceID == traceID {
			return s
		}
	}
	return nil
}

// LatestForSession returns the most recently finished trace for a session,
// or nil.
func (r *Recorder) LatestForSession(sessionID string) *Summary {
	r.mu.Lock()
	id, ok := r.bySession[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.Get(id)
}
