package identity

import (
	"errors"
	"fmt"
	"time"
)

// Expected authentication failures are returned as values from this
// taxonomy. Callers branch with errors.Is; nothing here is ever panicked.
var (
	// ErrInvalidCredentials is returned both when the email is unknown and
	// when the password mismatches, so responses cannot be used to
	// enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAmbiguousTenant is returned when a central-mode login matches
	// principals in more than one institution. It is a routing problem,
	// not a credential failure, and is deliberately distinguishable.
	ErrAmbiguousTenant = errors.New("email registered in multiple institutions")
	// ErrRateLimited is returned while the identifier is locked out.
	ErrRateLimited = errors.New("too many failed attempts")
	// ErrDuplicateInTenant is returned when the composite (institution,
	// email) pair already exists.
	ErrDuplicateInTenant = errors.New("email already registered in this institution")
	// ErrNoTenant is returned for central-mode registration without an
	// explicit institution.
	ErrNoTenant = errors.New("no institution to register against")
	// ErrNotFound is the repository miss sentinel.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable is returned when the credential store cannot
	// be reached in time. It is retryable and never conflated with a miss.
	ErrUpstreamUnavailable = errors.New("credential store unavailable")
	// ErrInvariantViolation flags corrupted state, e.g. a composite-key
	// lookup returning more than one row. Surfaced as a server fault.
	ErrInvariantViolation = errors.New("identity invariant violation")
)

// RateLimitError carries retry-after metadata alongside ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v, retry after %s", ErrRateLimited, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
