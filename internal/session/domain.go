// Package session mints and rotates access/refresh token pairs. Access
// tokens are stateless JWTs; refresh tokens are opaque, single-use, and the
// only state the issuer persists.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned for refresh tokens that do not decode.
	ErrMalformedToken = errors.New("malformed refresh token")
	// ErrSessionExpired is returned when the refresh session no longer
	// exists.
	ErrSessionExpired = errors.New("session expired")
	// ErrTokenReuseDetected is returned when a consumed or revoked refresh
	// token is presented again. All sessions of the principal are
	// invalidated when this fires.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrInvalidAccessToken is returned by Verify for any token that fails
	// signature, expiry, or claim checks.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrStoreUnavailable is returned when the session store cannot be
	// reached.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Pair is the result of issuing or refreshing a session.
type Pair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// Claims is the access token payload.
type Claims struct {
	InstitutionID string   `json:"inst"`
	Roles         []string `json:"roles"`
	jwt.RegisteredClaims
}

// Session is the server-side refresh state. SecretHash holds the SHA-256
// of the currently valid refresh secret; rotation swaps it atomically.
// A revoked session stays in the store as a tombstone until ExpiresAt, so
// presenting its token reads as theft rather than ordinary expiry.
type Session struct {
	ID            string
	PrincipalID   string
	InstitutionID string
	Roles         []string
	SecretHash    string
	ExpiresAt     time.Time
	RevokedAt     time.Time
}

// Revoked reports whether the session has been tombstoned.
func (s Session) Revoked() bool {
	return !s.RevokedAt.IsZero()
}

// newRefreshSecret produces the opaque random half of a refresh token.
func newRefreshSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// hashSecret derives the stored fingerprint of a refresh secret.
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// encodeRefreshToken joins session id and secret into the wire form.
func encodeRefreshToken(sessionID, secret string) string {
	return sessionID + "." + secret
}

// decodeRefreshToken splits the wire form back into session id and secret.
func decodeRefreshToken(token string) (sessionID, secret string, err error) {
	id, secret, ok := strings.Cut(token, ".")
	if !ok || id == "" || secret == "" {
		return "", "", ErrMalformedToken
	}
	return id, secret, nil
}
