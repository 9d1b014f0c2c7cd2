// Package turn provides per-turn identity, cooperative cancellation, and
// tool-result isolation. A turn owns exactly one token; tokens are never
// reused across turns.
package turn

import (
	"sync"
	"time"
)

// CancellationToken is a monotonic latch: once cancelled it stays cancelled
// for the lifetime of its turn. Safe for concurrent use.
type CancellationToken struct {
	mu        sync.Mutex
	cond      *sync.Cond
	cancelled bool
}

// NewCancellationToken creates an uncancelled token.
func NewCancellationToken() *CancellationToken {
	t := &CancellationToken{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Cancel latches the token. Repeated calls are harmless.
func (t *CancellationToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	t.cond.Broadcast()
}

// IsCancelled reports whether the token has been cancelled.
func (t *CancellationToken) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Wait blocks until the token is cancelled or the timeout elapses.
// Returns true if the token was cancelled.
func (t *CancellationToken) Wait(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	t.mu.Lock()
	defer t.mu.Unlock()

	for !t.cancelled {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		// sync.Cond has no timed wait; wake ourselves at the deadline so the
		// loop re-checks. The timer goroutine broadcasts at most once.
		timer := time.AfterFunc(remaining, t.cond.Broadcast)
		t.cond.Wait()
		timer.Stop()
	}
	return true
}
