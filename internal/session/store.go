package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists refresh sessions. Rotate must be atomic per session: of
// two concurrent calls presenting the same secret, exactly one may succeed.
type Store interface {
	Save(ctx context.Context, sess Session) error
	// Rotate swaps the secret hash if and only if the session is live and
	// the stored hash equals providedHash. A revoked session, or a hash
	// mismatch on a live one, returns ErrTokenReuseDetected together with
	// the session, so the caller can invalidate the principal's remaining
	// sessions. A missing session returns ErrSessionExpired.
	Rotate(ctx context.Context, sessionID, providedHash, nextHash string) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Revoke tombstones the session until its TTL instead of deleting it,
	// keeping later presentations distinguishable from expiry. Unknown ids
	// are a no-op.
	Revoke(ctx context.Context, sessionID string) error
	DeleteAllForPrincipal(ctx context.Context, principalID string) error
}

const (
	rotateMissing  = 0
	rotateRotated  = 1
	rotateMismatch = -1
	rotateRevoked  = -2
)

// rotateScript performs the compare-and-swap on the stored secret hash.
// Revoked tombstones never rotate regardless of the presented secret.
var rotateScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], "revoked_at") == 1 then
	return -2
end
local current = redis.call("HGET", KEYS[1], "secret_hash")
if not current then
	return 0
end
if current ~= ARGV[1] then
	return -1
end
redis.call("HSET", KEYS[1], "secret_hash", ARGV[2])
return 1
`)

// revokeScript marks an existing session revoked without creating a stray
// key for unknown ids.
var revokeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1])
return 1
`)

// RedisStore keeps refresh sessions in Redis hashes with the refresh TTL,
// plus a per-principal index set used for family-wide invalidation.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore constructs a Redis-backed session store.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func sessKey(id string) string      { return "sess:" + id }
func principalKey(id string) string { return "sess:principal:" + id }

// Save writes the session and indexes it under its principal.
func (s *RedisStore) Save(ctx context.Context, sess Session) error {
	roles, err := json.Marshal(sess.Roles)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessKey(sess.ID), map[string]any{
		"principal_id":   sess.PrincipalID,
		"institution_id": sess.InstitutionID,
		"roles":          string(roles),
		"secret_hash":    sess.SecretHash,
		"expires_at":     sess.ExpiresAt.Unix(),
	})
	pipe.ExpireAt(ctx, sessKey(sess.ID), sess.ExpiresAt)
	pipe.SAdd(ctx, principalKey(sess.PrincipalID), sess.ID)
	pipe.ExpireAt(ctx, principalKey(sess.PrincipalID), sess.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Rotate executes the compare-and-swap script.
func (s *RedisStore) Rotate(ctx context.Context, sessionID, providedHash, nextHash string) (*Session, error) {
	status, err := rotateScript.Run(ctx, s.client, []string{sessKey(sessionID)}, providedHash, nextHash).Int()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	switch status {
	case rotateMissing:
		return nil, ErrSessionExpired
	case rotateMismatch, rotateRevoked:
		sess, getErr := s.Get(ctx, sessionID)
		if getErr != nil {
			return nil, ErrTokenReuseDetected
		}
		return sess, ErrTokenReuseDetected
	case rotateRotated:
		sess, err := s.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return sess, nil
	default:
		return nil, fmt.Errorf("%w: unexpected rotate status %d", ErrStoreUnavailable, status)
	}
}

// Get loads a session by id.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.client.HGetAll(ctx, sessKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionExpired
	}
	var roles []string
	if raw := fields["roles"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &roles); err != nil {
			return nil, fmt.Errorf("%w: corrupt roles field: %v", ErrStoreUnavailable, err)
		}
	}
	var expiresAt time.Time
	var unix int64
	if _, err := fmt.Sscanf(fields["expires_at"], "%d", &unix); err == nil {
		expiresAt = time.Unix(unix, 0).UTC()
	}
	var revokedAt time.Time
	if raw := fields["revoked_at"]; raw != "" {
		var revokedUnix int64
		if _, err := fmt.Sscanf(raw, "%d", &revokedUnix); err == nil {
			revokedAt = time.Unix(revokedUnix, 0).UTC()
		}
	}
	return &Session{
		ID:            sessionID,
		PrincipalID:   fields["principal_id"],
		InstitutionID: fields["institution_id"],
		Roles:         roles,
		SecretHash:    fields["secret_hash"],
		ExpiresAt:     expiresAt,
		RevokedAt:     revokedAt,
	}, nil
}

// Revoke tombstones a single session until its TTL. Unknown ids are a
// no-op.
func (s *RedisStore) Revoke(ctx context.Context, sessionID string) error {
	err := revokeScript.Run(ctx, s.client, []string{sessKey(sessionID)}, time.Now().Unix()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteAllForPrincipal removes every session of the principal.
func (s *RedisStore) DeleteAllForPrincipal(ctx context.Context, principalID string) error {
	ids, err := s.client.SMembers(ctx, principalKey(principalID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessKey(id))
	}
	keys = append(keys, principalKey(principalID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
