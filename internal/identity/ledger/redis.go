package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordFailureScript increments the window counter and trips the lock in a
// single atomic unit, so concurrent failures cannot race past the
// threshold.
var recordFailureScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if count >= tonumber(ARGV[2]) then
	redis.call("SET", KEYS[2], "1", "PX", ARGV[3])
end
return count
`)

// RedisLedger implements Ledger on Redis. The failure counter carries the
// sliding window as its TTL; the lock is a separate key whose TTL is the
// remaining lockout.
type RedisLedger struct {
	client redis.UniversalClient
	policy Policy
}

// NewRedisLedger constructs a Redis-backed ledger.
func NewRedisLedger(client redis.UniversalClient, policy Policy) *RedisLedger {
	return &RedisLedger{client: client, policy: policy}
}

func failKey(key string) string { return "ledger:fail:" + key }
func lockKey(key string) string { return "ledger:lock:" + key }

// IsLocked reports the remaining lockout for the key, if any.
func (l *RedisLedger) IsLocked(ctx context.Context, key string) (bool, time.Duration, error) {
	ttl, err := l.client.PTTL(ctx, lockKey(key)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ledger: lock lookup: %w", err)
	}
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

// RecordFailure counts a failed attempt and trips the lock at the
// threshold.
func (l *RedisLedger) RecordFailure(ctx context.Context, key string) error {
	err := recordFailureScript.Run(ctx, l.client,
		[]string{failKey(key), lockKey(key)},
		l.policy.Window.Milliseconds(),
		l.policy.Threshold,
		l.policy.LockFor.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("ledger: record failure: %w", err)
	}
	return nil
}

// RecordSuccess clears the counter and the lock unconditionally.
func (l *RedisLedger) RecordSuccess(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, failKey(key), lockKey(key)).Err(); err != nil {
		return fmt.Errorf("ledger: record success: %w", err)
	}
	return nil
}

var _ Ledger = (*RedisLedger)(nil)
