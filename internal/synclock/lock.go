// Package synclock serializes sync runs per provider account. Two concurrent
// runs for the same account would race on the usage upsert, so every
// orchestrator invocation must hold the account lock for its full duration.
package synclock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLocked = errors.New("sync already in progress for account")

// Locker implements a token-checked mutex per platform account id.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Locker{client: client, ttl: ttl}
}

// releaseScript deletes the lock only when the caller still owns it, so a
// run that outlived its TTL cannot release a lock acquired by a newer run.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Acquire takes the lock for accountID or returns ErrLocked. The returned
// release func is safe to call exactly once, typically via defer.
func (l *Locker) Acquire(ctx context.Context, accountID string) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("sync locker not initialized")
	}
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}

	key := lockKey(accountID)
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, nil
}

// Debounce reports whether an auto-sync for accountID should be skipped
// because one completed within the window. A successful call arms the
// debounce window; manual syncs bypass this entirely.
func (l *Locker) Debounce(ctx context.Context, accountID string, window time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, errors.New("sync locker not initialized")
	}
	if window <= 0 {
		return false, nil
	}
	ok, err := l.client.SetNX(ctx, debounceKey(accountID), time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, fmt.Errorf("check sync debounce: %w", err)
	}
	return !ok, nil
}

func lockKey(accountID string) string {
	return "costix:sync:lock:" + accountID
}

func debounceKey(accountID string) string {
	return "costix:sync:debounce:" + accountID
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
