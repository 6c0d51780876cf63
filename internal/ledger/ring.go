package ledger

import (
	"sync"
	"time"

	"github.com/blackholelabs/liqd/internal/types"
)

// terminalStatuses are the statuses an ExecutionAttempt settles into;
// anything else (simulated, submitted) is still "in motion" and is the
// preferred eviction target on overflow, so a burst of fresh activity
// never silently erases a still-pending attempt's only record.
var terminalStatuses = map[types.AttemptStatus]bool{
	types.StatusRejected:    true,
	types.StatusMinedOK:     true,
	types.StatusMinedRevert: true,
	types.StatusTimeout:     true,
}

// ring is a bounded, in-memory log of recent ExecutionAttempts used for
// health reporting. On overflow it evicts the oldest non-terminal entry
// if one exists, else the oldest entry outright, and counts every
// eviction in Overflowed.
type ring struct {
	mu         sync.Mutex
	capacity   int
	entries    []types.ExecutionAttempt
	overflowed uint64
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{capacity: capacity, entries: make([]types.ExecutionAttempt, 0, capacity)}
}

// Push appends attempt, evicting one entry first if already at capacity.
func (r *ring) Push(attempt types.ExecutionAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.capacity {
		r.evictLocked()
	}
	r.entries = append(r.entries, attempt)
}

func (r *ring) evictLocked() {
	victim := 0
	for i, e := range r.entries {
		if !terminalStatuses[e.Status] {
			victim = i
			break
		}
	}
	r.entries = append(r.entries[:victim], r.entries[victim+1:]...)
	r.overflowed++
}

// Overflowed reports how many entries have been evicted to make room for
// new ones since the ring was created.
func (r *ring) Overflowed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overflowed
}

// Since returns every recorded attempt with CreatedAt at or after cutoff,
// oldest first.
func (r *ring) Since(cutoff time.Time) []types.ExecutionAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.ExecutionAttempt, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the current number of retained entries.
func (r *ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
