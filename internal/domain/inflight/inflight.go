// Package inflight collapses duplicate evaluation triggers. Two raters
// hitting quorum on the same video within moments of each other should
// produce one queued evaluation, not two; the tracker claims a title for the
// duration of its trip through the queue and worker.
package inflight

import (
	"context"
	"sync"
	"sync/atomic"
)

// Tracker claims video titles while an evaluation for them is pending.
type Tracker interface {
	// Begin atomically claims the title. It returns true when the claim
	// succeeded and the caller should enqueue an evaluation, false when an
	// evaluation for the title is already in flight.
	Begin(ctx context.Context, title string) bool

	// End releases the claim. Callers must release after the evaluation
	// settles, whatever its outcome, or the title can never be re-queued.
	End(ctx context.Context, title string)

	Size() int64
}

// tracker is the in-memory implementation. The claim set is bounded; at
// capacity Begin declines new claims, which errs on the side of not
// enqueueing. The submit path re-triggers on the next rating, so a declined
// claim delays an evaluation rather than losing it.
type tracker struct {
	mu      sync.Mutex
	claimed map[string]struct{}
	maxSize int
	size    atomic.Int64
}

// New creates a tracker with the given options.
func New(opts ...Option) Tracker {
	t := &tracker{maxSize: 50_000}
	for _, opt := range opts {
		opt(t)
	}
	t.claimed = make(map[string]struct{})
	return t
}

func (t *tracker) Begin(_ context.Context, title string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.claimed[title]; exists {
		return false
	}
	if t.maxSize > 0 && len(t.claimed) >= t.maxSize {
		return false
	}
	t.claimed[title] = struct{}{}
	t.size.Add(1)
	return true
}

func (t *tracker) End(_ context.Context, title string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.claimed[title]; exists {
		delete(t.claimed, title)
		t.size.Add(-1)
	}
}

func (t *tracker) Size() int64 {
	return t.size.Load()
}
