// Package policy admits or rejects Candidates before simulation: chain
// and sequencer health, cooldowns, adaptive HF gate, size caps, and
// allow-list/price presence, in a fixed fail-fast order.
package policy

import (
	"sync"
	"time"

	"github.com/blackholelabs/liqd/internal/types"
)

const (
	// CooldownAfterFailure is imposed after a failed (non-revert) execution.
	CooldownAfterFailure = 60 * time.Second
	// CooldownAfterRevert is imposed after an on-chain revert.
	CooldownAfterRevert = 5 * time.Minute
	// CooldownAfterSuccess is imposed after a successful mine, preventing
	// re-liquidating the same position within one block.
	CooldownAfterSuccess = 30 * time.Second
)

// CooldownTracker records per-dedup-key cooldown expiries.
type CooldownTracker struct {
	mu       sync.Mutex
	expiries map[types.DedupKey]time.Time
}

// NewCooldownTracker builds an empty tracker.
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{expiries: make(map[types.DedupKey]time.Time)}
}

// Active reports whether key is still within its cooldown window.
func (t *CooldownTracker) Active(key types.DedupKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	expiry, ok := t.expiries[key]
	if !ok {
		return false
	}
	return time.Now().Before(expiry)
}

// RecordFailure imposes CooldownAfterFailure on key.
func (t *CooldownTracker) RecordFailure(key types.DedupKey) {
	t.impose(key, CooldownAfterFailure)
}

// RecordRevert imposes CooldownAfterRevert on key.
func (t *CooldownTracker) RecordRevert(key types.DedupKey) {
	t.impose(key, CooldownAfterRevert)
}

// RecordSuccess imposes CooldownAfterSuccess on key.
func (t *CooldownTracker) RecordSuccess(key types.DedupKey) {
	t.impose(key, CooldownAfterSuccess)
}

func (t *CooldownTracker) impose(key types.DedupKey, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	expiry := time.Now().Add(d)
	if existing, ok := t.expiries[key]; ok && existing.After(expiry) {
		return
	}
	t.expiries[key] = expiry
}
