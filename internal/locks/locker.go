// Package locks serializes per-installation ledger mutations. The remote
// ledger store has no transactional isolation, so the read-modify-write cycle
// is guarded by a redis lock keyed on the installation.
package locks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	// defaultTTL must outlast the slowest critical section run under the
	// lock, which is a settlement's charge-then-reset spanning one billing
	// API call (15s request timeout) plus the ledger writes around it.
	defaultTTL      = 45 * time.Second
	acquireInterval = 50 * time.Millisecond
	acquireTimeout  = 5 * time.Second
)

var ErrLockNotAcquired = errors.New("lock_not_acquired")

type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// WithInstallationLock runs fn while holding the installation's mutation lock.
// Without a configured redis client the call degrades to running fn unlocked;
// concurrent deductions then race exactly as the remote store allows.
func (l *Locker) WithInstallationLock(ctx context.Context, installationID string, fn func(ctx context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}

	key := "fitglance:ledger:" + installationID
	deadline := time.Now().Add(acquireTimeout)
	for {
		token, ok, err := l.TryLock(ctx, key, defaultTTL)
		if err != nil {
			return err
		}
		if ok {
			defer func() { _ = l.Release(ctx, key, token) }()
			return fn(ctx)
		}
		if time.Now().After(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquireInterval):
		}
	}
}
