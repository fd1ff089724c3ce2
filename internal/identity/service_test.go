package identity

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/minerva-edu/minerva-edu/internal/audit"
	"github.com/minerva-edu/minerva-edu/internal/identity/ledger"
	"github.com/minerva-edu/minerva-edu/internal/tenant"
)

type memoryRepo struct {
	mu             sync.Mutex
	principals     []Principal
	compositeCalls int
	allByEmail     int
	failWith       error
}

func (r *memoryRepo) FindByInstitutionAndEmail(_ context.Context, institutionID uuid.UUID, email string) (*Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compositeCalls++
	if r.failWith != nil {
		return nil, r.failWith
	}
	for i := range r.principals {
		p := r.principals[i]
		if p.InstitutionID == institutionID && p.Email == email {
			out := p
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRepo) FindAllByEmail(_ context.Context, email string) ([]Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allByEmail++
	if r.failWith != nil {
		return nil, r.failWith
	}
	var out []Principal
	for _, p := range r.principals {
		if p.Email == email {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) Create(_ context.Context, principal *Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	for _, p := range r.principals {
		if p.InstitutionID == principal.InstitutionID && p.Email == principal.Email {
			return ErrDuplicateInTenant
		}
	}
	r.principals = append(r.principals, *principal)
	return nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (e *captureEmitter) Emit(_ context.Context, event audit.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *captureEmitter) kinds() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Kind)
	}
	return out
}

var testLedgerPolicy = ledger.Policy{Threshold: 3, Window: time.Minute, LockFor: 15 * time.Minute}

func newTestService(t *testing.T, repo *memoryRepo) (*Service, *ledger.MemoryLedger, *captureEmitter) {
	t.Helper()
	attempts := ledger.NewMemoryLedger(testLedgerPolicy)
	emitter := &captureEmitter{}
	return NewService(repo, attempts, emitter, slog.Default()), attempts, emitter
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func seedPrincipal(t *testing.T, repo *memoryRepo, email, password string, institutionID uuid.UUID) Principal {
	t.Helper()
	p := Principal{
		ID:            uuid.New(),
		Email:         NormalizeEmail(email),
		PasswordHash:  mustHash(t, password),
		InstitutionID: institutionID,
		Roles:         []string{"member"},
		Status:        StatusActive,
	}
	repo.principals = append(repo.principals, p)
	return p
}

func TestLoginSubdomainNeverCrossesTenants(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	instA, instB := uuid.New(), uuid.New()
	pa := seedPrincipal(t, repo, "mesmo@email.com", "senha-a", instA)
	pb := seedPrincipal(t, repo, "mesmo@email.com", "senha-b", instB)
	svc, _, _ := newTestService(t, repo)

	got, err := svc.Login(ctx, "mesmo@email.com", "senha-a", tenant.Subdomain(instA))
	require.NoError(t, err)
	require.Equal(t, pa.ID, got.ID)

	// B's password under A's binding is just a bad credential; B's account
	// is never considered.
	_, err = svc.Login(ctx, "mesmo@email.com", "senha-b", tenant.Subdomain(instA))
	require.ErrorIs(t, err, ErrInvalidCredentials)

	got, err = svc.Login(ctx, "mesmo@email.com", "senha-b", tenant.Subdomain(instB))
	require.NoError(t, err)
	require.Equal(t, pb.ID, got.ID)
}

func TestLoginSubdomainWrongPasswordQueriesCompositeOnce(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	instA := uuid.New()
	seedPrincipal(t, repo, "aluno@escola.com", "senha-certa", instA)
	svc, _, _ := newTestService(t, repo)

	_, err := svc.Login(ctx, "aluno@escola.com", "senha-errada", tenant.Subdomain(instA))
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, 1, repo.compositeCalls)
	require.Equal(t, 0, repo.allByEmail)
}

func TestLoginSubdomainUnknownEmailIsGeneric(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	svc, _, _ := newTestService(t, repo)

	_, err := svc.Login(ctx, "ninguem@escola.com", "qualquer", tenant.Subdomain(uuid.New()))
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "ninguem@escola.com", "qualquer", tenant.Central())
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginMissBurnsFullCostComparison(t *testing.T) {
	// The padding hash compared on unknown-email misses must carry the same
	// work factor as stored credentials, or timing would betray the miss.
	cost, err := bcrypt.Cost(dummyHash)
	require.NoError(t, err)
	require.Equal(t, bcrypt.DefaultCost, cost)
}

func TestLoginCentralAmbiguous(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	seedPrincipal(t, repo, "mesmo@email.com", "senha-a", uuid.New())
	seedPrincipal(t, repo, "mesmo@email.com", "senha-b", uuid.New())
	svc, attempts, _ := newTestService(t, repo)

	// Ambiguity wins regardless of whether the password would match.
	for _, password := range []string{"senha-a", "senha-b", "nope"} {
		_, err := svc.Login(ctx, "mesmo@email.com", password, tenant.Central())
		require.ErrorIs(t, err, ErrAmbiguousTenant, "password %q", password)
	}

	// Ambiguity is routing, not authentication: the single-row lookup is
	// never invoked and nothing is held against the identifier.
	require.Equal(t, 0, repo.compositeCalls)
	locked, _, err := attempts.IsLocked(ctx, "mesmo@email.com")
	require.NoError(t, err)
	require.False(t, locked)
}

func TestLoginCentralSingleMatch(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	p := seedPrincipal(t, repo, "unico@email.com", "senha", uuid.New())
	svc, _, _ := newTestService(t, repo)

	got, err := svc.Login(ctx, "unico@email.com", "senha", tenant.Central())
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)

	_, err = svc.Login(ctx, "unico@email.com", "errada", tenant.Central())
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "desconhecido@email.com", "senha", tenant.Central())
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginNormalizesEmail(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	instA := uuid.New()
	seedPrincipal(t, repo, "aluno@escola.com", "senha", instA)
	svc, _, _ := newTestService(t, repo)

	got, err := svc.Login(ctx, "  ALUNO@Escola.COM ", "senha", tenant.Subdomain(instA))
	require.NoError(t, err)
	require.Equal(t, "aluno@escola.com", got.Email)
}

func TestLoginSuspendedLooksLikeBadCredentials(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	instA := uuid.New()
	seedPrincipal(t, repo, "aluno@escola.com", "senha", instA)
	repo.principals[0].Status = StatusSuspended
	svc, _, _ := newTestService(t, repo)

	_, err := svc.Login(ctx, "aluno@escola.com", "senha", tenant.Subdomain(instA))
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginLockout(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	instA := uuid.New()
	seedPrincipal(t, repo, "aluno@escola.com", "senha-certa", instA)
	svc, _, _ := newTestService(t, repo)
	tc := tenant.Subdomain(instA)

	for i := 0; i < testLedgerPolicy.Threshold; i++ {
		_, err := svc.Login(ctx, "aluno@escola.com", "senha-errada", tc)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Locked out now, even with the right password.
	_, err := svc.Login(ctx, "aluno@escola.com", "senha-certa", tc)
	require.ErrorIs(t, err, ErrRateLimited)
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	require.Greater(t, rle.RetryAfter, time.Duration(0))

	// The composite lookup is skipped entirely while locked.
	calls := repo.compositeCalls
	_, err = svc.Login(ctx, "aluno@escola.com", "senha-certa", tc)
	require.ErrorIs(t, err, ErrRateLimited)
	require.Equal(t, calls, repo.compositeCalls)
}

func TestLoginSuccessResetsLedger(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	instA := uuid.New()
	seedPrincipal(t, repo, "aluno@escola.com", "senha-certa", instA)
	svc, attempts, _ := newTestService(t, repo)
	tc := tenant.Subdomain(instA)

	for i := 0; i < testLedgerPolicy.Threshold-1; i++ {
		_, err := svc.Login(ctx, "aluno@escola.com", "senha-errada", tc)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := svc.Login(ctx, "aluno@escola.com", "senha-certa", tc)
	require.NoError(t, err)

	// Counter is back at zero: the next failure is the first of a fresh
	// window.
	key := instA.String() + "/aluno@escola.com"
	locked, _, err := attempts.IsLocked(ctx, key)
	require.NoError(t, err)
	require.False(t, locked)
	_, err = svc.Login(ctx, "aluno@escola.com", "senha-errada", tc)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	locked, _, err = attempts.IsLocked(ctx, key)
	require.NoError(t, err)
	require.False(t, locked)
}

func TestLockoutIsTenantScoped(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	instA, instB := uuid.New(), uuid.New()
	seedPrincipal(t, repo, "mesmo@email.com", "senha-a", instA)
	seedPrincipal(t, repo, "mesmo@email.com", "senha-b", instB)
	svc, _, _ := newTestService(t, repo)

	for i := 0; i < testLedgerPolicy.Threshold; i++ {
		_, err := svc.Login(ctx, "mesmo@email.com", "errada", tenant.Subdomain(instA))
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := svc.Login(ctx, "mesmo@email.com", "senha-a", tenant.Subdomain(instA))
	require.ErrorIs(t, err, ErrRateLimited)

	// The same email under the other institution is a distinct account and
	// stays usable.
	got, err := svc.Login(ctx, "mesmo@email.com", "senha-b", tenant.Subdomain(instB))
	require.NoError(t, err)
	require.Equal(t, instB, got.InstitutionID)
}

func TestLoginUpstreamFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{failWith: ErrUpstreamUnavailable}
	svc, _, _ := newTestService(t, repo)

	_, err := svc.Login(ctx, "aluno@escola.com", "senha", tenant.Subdomain(uuid.New()))
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	require.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginInvariantViolationSurfaces(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{failWith: ErrInvariantViolation}
	svc, _, _ := newTestService(t, repo)

	_, err := svc.Login(ctx, "aluno@escola.com", "senha", tenant.Subdomain(uuid.New()))
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestLoginEmitsAuditEvents(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	instA := uuid.New()
	seedPrincipal(t, repo, "aluno@escola.com", "senha", instA)
	svc, _, emitter := newTestService(t, repo)

	_, err := svc.Login(ctx, "aluno@escola.com", "errada", tenant.Subdomain(instA))
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "aluno@escola.com", "senha", tenant.Subdomain(instA))
	require.NoError(t, err)

	require.Equal(t, []string{audit.KindLoginFailed, audit.KindLoginSucceeded}, emitter.kinds())
}

func TestRegisterSameEmailAcrossTenants(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	svc, _, emitter := newTestService(t, repo)
	instA, instB := uuid.New(), uuid.New()

	_, err := svc.Register(ctx, RegisterInput{
		Email: "mesmo@email.com", Password: "senha-a", InstitutionID: instA,
	}, tenant.Central())
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{
		Email: "mesmo@email.com", Password: "senha-b", InstitutionID: instB,
	}, tenant.Central())
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{
		Email: "mesmo@email.com", Password: "outra", InstitutionID: instA,
	}, tenant.Central())
	require.ErrorIs(t, err, ErrDuplicateInTenant)

	require.Equal(t, []string{audit.KindRegistered, audit.KindRegistered}, emitter.kinds())
}

func TestRegisterBindsSubdomainTenant(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	svc, _, _ := newTestService(t, repo)
	instA := uuid.New()

	p, err := svc.Register(ctx, RegisterInput{
		Email: "Novo@Escola.com", Password: "senha", Name: "Novo Aluno",
	}, tenant.Subdomain(instA))
	require.NoError(t, err)
	require.Equal(t, instA, p.InstitutionID)
	require.Equal(t, "novo@escola.com", p.Email)
	require.Equal(t, StatusActive, p.Status)
	require.Equal(t, []string{"member"}, p.Roles)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte("senha")))
}

func TestRegisterCentralWithoutInstitutionRejected(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, &memoryRepo{})

	_, err := svc.Register(ctx, RegisterInput{
		Email: "novo@email.com", Password: "senha",
	}, tenant.Central())
	require.ErrorIs(t, err, ErrNoTenant)
}

func TestRegisteredPrincipalCanLogin(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	svc, _, _ := newTestService(t, repo)
	instA := uuid.New()

	_, err := svc.Register(ctx, RegisterInput{
		Email: "novo@escola.com", Password: "senha", InstitutionID: instA,
	}, tenant.Central())
	require.NoError(t, err)

	got, err := svc.Login(ctx, "novo@escola.com", "senha", tenant.Subdomain(instA))
	require.NoError(t, err)
	require.Equal(t, instA, got.InstitutionID)
}
