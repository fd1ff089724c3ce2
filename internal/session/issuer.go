package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/minerva-edu/minerva-edu/internal/audit"
	"github.com/minerva-edu/minerva-edu/internal/identity"
)

const tokenIssuer = "minerva"

// Config tunes token lifetimes and signing.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issuer mints access/refresh pairs and manages refresh rotation.
type Issuer struct {
	store   Store
	auditor audit.Emitter
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewIssuer constructs an Issuer.
func NewIssuer(store Store, auditor audit.Emitter, logger *slog.Logger, cfg Config) *Issuer {
	return &Issuer{
		store:   store,
		auditor: auditor,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source, for tests.
func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}

// Issue opens a fresh session for an authenticated principal.
func (i *Issuer) Issue(ctx context.Context, principal *identity.Principal) (Pair, error) {
	secret, err := newRefreshSecret()
	if err != nil {
		return Pair{}, err
	}
	sess := Session{
		ID:            uuid.NewString(),
		PrincipalID:   principal.ID.String(),
		InstitutionID: principal.InstitutionID.String(),
		Roles:         principal.Roles,
		SecretHash:    hashSecret(secret),
		ExpiresAt:     i.now().Add(i.cfg.RefreshTTL),
	}
	if err := i.store.Save(ctx, sess); err != nil {
		return Pair{}, err
	}
	return i.mintPair(sess, secret)
}

// Refresh rotates a refresh token and mints a new pair. Presenting an
// already-consumed or revoked token invalidates every session of the
// principal and returns ErrTokenReuseDetected.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (Pair, error) {
	sessionID, providedSecret, err := decodeRefreshToken(refreshToken)
	if err != nil {
		return Pair{}, err
	}
	nextSecret, err := newRefreshSecret()
	if err != nil {
		return Pair{}, err
	}

	sess, err := i.store.Rotate(ctx, sessionID, hashSecret(providedSecret), hashSecret(nextSecret))
	if err != nil {
		if errors.Is(err, ErrTokenReuseDetected) {
			i.handleReuse(ctx, sessionID, sess)
			return Pair{}, ErrTokenReuseDetected
		}
		return Pair{}, err
	}
	return i.mintPair(*sess, nextSecret)
}

// handleReuse treats a consumed secret or a revoked tombstone as a theft
// signal: the whole family goes, forcing full re-authentication.
func (i *Issuer) handleReuse(ctx context.Context, sessionID string, sess *Session) {
	principalID := ""
	if sess != nil {
		principalID = sess.PrincipalID
	}
	if principalID != "" {
		if err := i.store.DeleteAllForPrincipal(ctx, principalID); err != nil {
			i.logger.Error("revoke sessions after reuse",
				slog.String("principal_id", principalID), slog.Any("error", err))
		}
	}
	i.auditor.Emit(ctx, audit.Event{
		Kind:      audit.KindTokenReuse,
		SubjectID: principalID,
		Attributes: map[string]any{
			"session_id": sessionID,
		},
	})
}

// Revoke ends the session behind the refresh token, leaving a tombstone in
// the store so a later presentation of the token is treated as theft rather
// than expiry. Unknown or malformed tokens are a no-op so logout stays
// idempotent.
func (i *Issuer) Revoke(ctx context.Context, refreshToken string) error {
	sessionID, _, err := decodeRefreshToken(refreshToken)
	if err != nil {
		return nil
	}
	sess, err := i.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return nil
		}
		return err
	}
	if sess.Revoked() {
		return nil
	}
	if err := i.store.Revoke(ctx, sessionID); err != nil {
		return err
	}
	i.auditor.Emit(ctx, audit.Event{
		Kind:      audit.KindSessionRevoked,
		SubjectID: sess.PrincipalID,
		Attributes: map[string]any{
			"session_id": sessionID,
		},
	})
	return nil
}

// RevokeAllForPrincipal invalidates every session of the principal.
func (i *Issuer) RevokeAllForPrincipal(ctx context.Context, principalID uuid.UUID) error {
	if err := i.store.DeleteAllForPrincipal(ctx, principalID.String()); err != nil {
		return err
	}
	i.auditor.Emit(ctx, audit.Event{
		Kind:      audit.KindSessionsInvalidated,
		SubjectID: principalID.String(),
	})
	return nil
}

// Verify checks an access token statelessly: signature and time claims
// only, no store round trip.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidAccessToken
		}
		return i.cfg.Secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return i.now() }))
	if err != nil {
		return nil, ErrInvalidAccessToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Issuer != tokenIssuer {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

func (i *Issuer) mintPair(sess Session, refreshSecret string) (Pair, error) {
	now := i.now()
	expiresAt := now.Add(i.cfg.AccessTTL)
	claims := Claims{
		InstitutionID: sess.InstitutionID,
		Roles:         sess.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   sess.PrincipalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}
	return Pair{
		AccessToken:     signed,
		RefreshToken:    encodeRefreshToken(sess.ID, refreshSecret),
		AccessExpiresAt: expiresAt,
	}, nil
}
