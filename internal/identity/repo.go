package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the credential store adapter. Lookups are exact-key only;
// everything smarter lives in the Service.
type Repository interface {
	// FindByInstitutionAndEmail resolves the composite key. Returns
	// ErrNotFound on a miss and ErrInvariantViolation if the store yields
	// more than one row for the pair.
	FindByInstitutionAndEmail(ctx context.Context, institutionID uuid.UUID, email string) (*Principal, error)
	// FindAllByEmail returns every principal carrying the email across
	// institutions.
	FindAllByEmail(ctx context.Context, email string) ([]Principal, error)
	// Create inserts a new principal. Returns ErrDuplicateInTenant when
	// the composite key already exists.
	Create(ctx context.Context, principal *Principal) error
}

const principalColumns = `id, email, name, password_hash, institution_id, roles, status, created_at, updated_at`

// PGRepository implements Repository using PostgreSQL. Every call carries a
// bounded timeout; transport failures surface as ErrUpstreamUnavailable,
// never as a miss.
type PGRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPGRepository constructs a PostgreSQL repository.
func NewPGRepository(pool *pgxpool.Pool, timeout time.Duration) *PGRepository {
	return &PGRepository{pool: pool, timeout: timeout}
}

func (r *PGRepository) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// FindByInstitutionAndEmail fetches a principal by its composite key.
func (r *PGRepository) FindByInstitutionAndEmail(ctx context.Context, institutionID uuid.UUID, email string) (*Principal, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE institution_id = $1 AND email = $2`,
		institutionID, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	matches, err := pgx.CollectRows(rows, scanPrincipal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return &matches[0], nil
	default:
		// Composite uniqueness is broken at the store layer.
		return nil, fmt.Errorf("%w: %d rows for (%s, %s)", ErrInvariantViolation, len(matches), institutionID, email)
	}
}

// FindAllByEmail fetches every principal with the email, across tenants.
func (r *PGRepository) FindAllByEmail(ctx context.Context, email string) ([]Principal, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE email = $1 ORDER BY institution_id`,
		email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	matches, err := pgx.CollectRows(rows, scanPrincipal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return matches, nil
}

// Create inserts a new principal record.
func (r *PGRepository) Create(ctx context.Context, principal *Principal) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO principals (`+principalColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		principal.ID, principal.Email, principal.Name, principal.PasswordHash,
		principal.InstitutionID, principal.Roles, string(principal.Status),
		principal.CreatedAt, principal.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateInTenant
		}
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

// isUniqueViolation reports whether err carries SQLSTATE 23505, the backstop
// for duplicate composite keys racing past the service pre-check.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanPrincipal(row pgx.CollectableRow) (Principal, error) {
	var p Principal
	var status string
	if err := row.Scan(&p.ID, &p.Email, &p.Name, &p.PasswordHash,
		&p.InstitutionID, &p.Roles, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Principal{}, err
	}
	p.Status = Status(status)
	return p, nil
}

var _ Repository = (*PGRepository)(nil)
