// Package ledger tracks failed login attempts per identifier and enforces
// the lockout window. Keys follow the same tenant disambiguation as the
// resolver, so a lockout in one institution never blocks the same email in
// another.
package ledger

import (
	"context"
	"time"
)

// Policy configures the lockout behaviour.
type Policy struct {
	// Threshold is the number of failures within Window that triggers a
	// lock.
	Threshold int
	// Window is the sliding window over which failures accumulate.
	Window time.Duration
	// LockFor is how long the identifier stays locked once tripped.
	LockFor time.Duration
}

// Ledger records login attempt outcomes. IsLocked together with
// RecordFailure must be atomic per key so a concurrent burst cannot slip
// past the threshold.
type Ledger interface {
	// IsLocked reports whether the key is locked and, if so, for how much
	// longer.
	IsLocked(ctx context.Context, key string) (bool, time.Duration, error)
	// RecordFailure increments the failure counter and trips the lock when
	// the threshold is reached inside the window.
	RecordFailure(ctx context.Context, key string) error
	// RecordSuccess clears the counter and any lock unconditionally.
	RecordSuccess(ctx context.Context, key string) error
}
