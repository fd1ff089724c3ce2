package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/minerva-edu/minerva-edu/internal/audit"
	"github.com/minerva-edu/minerva-edu/internal/identity/ledger"
	"github.com/minerva-edu/minerva-edu/internal/tenant"
)

// Service implements identity resolution: binding a login or registration
// to exactly one principal in exactly one institution.
type Service struct {
	repo    Repository
	ledger  ledger.Ledger
	auditor audit.Emitter
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, attempts ledger.Ledger, auditor audit.Emitter, logger *slog.Logger) *Service {
	return &Service{repo: repo, ledger: attempts, auditor: auditor, logger: logger}
}

// dummyHash is compared against on unknown-email misses so a miss costs
// the same as a real password check and response timing does not reveal
// whether the email exists.
var dummyHash = mustDummyHash()

func mustDummyHash() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("minerva-timing-pad"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
}

// ledgerKey scopes attempt counting the same way lookups are scoped: per
// email in central mode, per (institution, email) under a subdomain.
func ledgerKey(tc tenant.Context, email string) string {
	if tc.Bound() {
		return tc.InstitutionID.String() + "/" + email
	}
	return email
}

// Login authenticates an email/password pair under the given tenant
// context and returns the resolved principal.
func (s *Service) Login(ctx context.Context, email, password string, tc tenant.Context) (*Principal, error) {
	email = NormalizeEmail(email)
	key := ledgerKey(tc, email)

	// The lock check runs before any credential work so a locked-out
	// response carries no timing signal about the password.
	locked, remaining, err := s.ledger.IsLocked(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if locked {
		return nil, &RateLimitError{RetryAfter: remaining}
	}

	var principal *Principal
	switch tc.Mode {
	case tenant.ModeSubdomain:
		principal, err = s.repo.FindByInstitutionAndEmail(ctx, tc.InstitutionID, email)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Identical to a password mismatch, in body and in cost;
				// the response never reveals whether the email exists here.
				_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
				return nil, ErrInvalidCredentials
			}
			return nil, err
		}
	case tenant.ModeCentral:
		matches, err := s.repo.FindAllByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		switch len(matches) {
		case 0:
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		case 1:
			principal = &matches[0]
		default:
			// Several institutions hold this email. Picking one silently
			// would let one tenant's login form authenticate into
			// another's data, so the caller is told to come back through
			// their institution's subdomain. No password check happens.
			return nil, ErrAmbiguousTenant
		}
	default:
		return nil, fmt.Errorf("%w: unknown tenant mode %q", ErrInvariantViolation, tc.Mode)
	}

	if !principal.Active() {
		// Suspended accounts fail exactly like bad credentials.
		s.recordFailure(ctx, key, principal, "suspended")
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(password)) != nil {
		s.recordFailure(ctx, key, principal, "password_mismatch")
		return nil, ErrInvalidCredentials
	}

	if err := s.ledger.RecordSuccess(ctx, key); err != nil {
		s.logger.Warn("ledger reset failed", slog.String("key", key), slog.Any("error", err))
	}
	s.auditor.Emit(ctx, audit.Event{
		Kind:      audit.KindLoginSucceeded,
		SubjectID: principal.ID.String(),
		Attributes: map[string]any{
			"institution_id": principal.InstitutionID.String(),
			"mode":           string(tc.Mode),
		},
	})
	return principal, nil
}

func (s *Service) recordFailure(ctx context.Context, key string, principal *Principal, reason string) {
	if err := s.ledger.RecordFailure(ctx, key); err != nil {
		s.logger.Warn("ledger record failed", slog.String("key", key), slog.Any("error", err))
	}
	s.auditor.Emit(ctx, audit.Event{
		Kind:      audit.KindLoginFailed,
		SubjectID: principal.ID.String(),
		Attributes: map[string]any{
			"institution_id": principal.InstitutionID.String(),
			"reason":         reason,
		},
	})
}

// RegisterInput carries the registration payload. InstitutionID may be
// zero; the tenant context then supplies the binding.
type RegisterInput struct {
	Email         string
	Password      string
	Name          string
	InstitutionID uuid.UUID
	Roles         []string
}

// Register creates a principal in exactly one institution. The same email
// may register independently under a different institution; only the
// composite pair conflicts.
func (s *Service) Register(ctx context.Context, input RegisterInput, tc tenant.Context) (*Principal, error) {
	email := NormalizeEmail(input.Email)

	institutionID := input.InstitutionID
	if institutionID == uuid.Nil {
		if !tc.Bound() {
			return nil, ErrNoTenant
		}
		institutionID = tc.InstitutionID
	}

	switch _, err := s.repo.FindByInstitutionAndEmail(ctx, institutionID, email); {
	case err == nil:
		return nil, ErrDuplicateInTenant
	case errors.Is(err, ErrNotFound):
		// Free to register. A miss in another institution is not a
		// conflict by design.
	default:
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	roles := input.Roles
	if len(roles) == 0 {
		roles = []string{"member"}
	}
	now := time.Now().UTC()
	principal := &Principal{
		ID:            uuid.New(),
		Email:         email,
		Name:          input.Name,
		PasswordHash:  string(hash),
		InstitutionID: institutionID,
		Roles:         roles,
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// The insert may still hit the composite unique index if a concurrent
	// registration won the race; that also surfaces as a duplicate.
	if err := s.repo.Create(ctx, principal); err != nil {
		return nil, err
	}

	s.auditor.Emit(ctx, audit.Event{
		Kind:      audit.KindRegistered,
		SubjectID: principal.ID.String(),
		Attributes: map[string]any{
			"institution_id": institutionID.String(),
		},
	})
	return principal, nil
}
