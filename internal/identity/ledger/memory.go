package ledger

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count       int
	windowEnds  time.Time
	lockedUntil time.Time
}

// MemoryLedger is an in-process Ledger for tests and single-node setups.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	policy  Policy
	now     func() time.Time
}

// NewMemoryLedger constructs an in-memory ledger.
func NewMemoryLedger(policy Policy) *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]*memoryEntry),
		policy:  policy,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source, for tests.
func (l *MemoryLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// IsLocked reports the remaining lockout for the key, if any.
func (l *MemoryLedger) IsLocked(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return false, 0, nil
	}
	remaining := entry.lockedUntil.Sub(l.now())
	if remaining <= 0 {
		return false, 0, nil
	}
	return true, remaining, nil
}

// RecordFailure counts a failed attempt and trips the lock at the
// threshold.
func (l *MemoryLedger) RecordFailure(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	entry, ok := l.entries[key]
	if !ok || now.After(entry.windowEnds) {
		entry = &memoryEntry{windowEnds: now.Add(l.policy.Window)}
		l.entries[key] = entry
	}
	entry.count++
	if entry.count >= l.policy.Threshold {
		entry.lockedUntil = now.Add(l.policy.LockFor)
	}
	return nil
}

// RecordSuccess clears the counter and the lock unconditionally.
func (l *MemoryLedger) RecordSuccess(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

var _ Ledger = (*MemoryLedger)(nil)
