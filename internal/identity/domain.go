package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// Status describes the lifecycle state of a principal. Accounts are never
// hard-deleted; they transition to suspended instead.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Principal is an account record owned by exactly one institution. The pair
// (InstitutionID, Email) is unique; the email alone is not.
type Principal struct {
	ID            uuid.UUID
	Email         string
	Name          string
	PasswordHash  string
	InstitutionID uuid.UUID
	Roles         []string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the principal may authenticate.
func (p *Principal) Active() bool {
	return p != nil && p.Status == StatusActive
}

var emailFolder = cases.Fold()

// NormalizeEmail canonicalizes an email for lookups and ledger keys:
// surrounding whitespace is trimmed and the address is Unicode case-folded.
func NormalizeEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}
