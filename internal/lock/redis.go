package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Deletes the key only while it still carries this holder's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

const defaultRetryInterval = 10 * time.Millisecond

// RedisLocker holds a key as a Redis lease: SET NX PX with a random token,
// retried until the wait timeout passes.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	wait   time.Duration
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client redis.UniversalClient, prefix string, wait, ttl time.Duration) *RedisLocker {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "ledger:lock:account"
	}

	return &RedisLocker{
		client: client,
		prefix: trimmedPrefix,
		wait:   wait,
		ttl:    ttl,
		retry:  defaultRetryInterval,
	}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (Lease, error) {
	redisKey := fmt.Sprintf("%s:%s", r.prefix, key)
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", redisKey, err)
		}
		if ok {
			return &redisLease{client: r.client, key: redisKey, token: token}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNotAcquired
		}

		timer := time.NewTimer(min(r.retry, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type redisLease struct {
	client   redis.UniversalClient
	key      string
	token    string
	released bool
}

func (l *redisLease) Unlock(ctx context.Context) error {
	if l.released {
		return nil
	}

	deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("redis unlock %s: %w", l.key, err)
	}
	l.released = true
	if deleted == 0 {
		return ErrLeaseLost
	}
	return nil
}
