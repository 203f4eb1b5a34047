// Package distlock provides a Redis-backed mutex for work that must run on
// one instance at a time, such as the sequence processing pass. The lock
// carries a TTL so a crashed holder frees it without intervention, and a
// random owner token so Release never drops a lock another process acquired
// after expiry.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Mutex is a named distributed lock. A single Mutex must not be shared
// across goroutines; each competitor creates its own.
type Mutex struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// New creates a mutex for the given name. The TTL bounds how long a dead
// holder can block other instances.
func New(rdb *redis.Client, name string, ttl time.Duration) *Mutex {
	b := make([]byte, 16)
	rand.Read(b)
	return &Mutex{
		rdb:   rdb,
		key:   "lock:" + name,
		token: hex.EncodeToString(b),
		ttl:   ttl,
	}
}

// Acquire attempts to take the lock without blocking. Returns false when
// another instance holds it.
func (m *Mutex) Acquire(ctx context.Context) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, m.key, m.token, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", m.key, err)
	}
	return ok, nil
}

// Release frees the lock if this mutex still owns it. Releasing a lock that
// expired and was re-acquired elsewhere is a no-op.
func (m *Mutex) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, m.rdb, []string{m.key}, m.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", m.key, err)
	}
	return nil
}

// Extend pushes the TTL out for a pass running longer than expected. Fails
// silently to a no-op when ownership was already lost.
func (m *Mutex) Extend(ctx context.Context, ttl time.Duration) error {
	if err := extendScript.Run(ctx, m.rdb, []string{m.key}, m.token, ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("extend %s: %w", m.key, err)
	}
	return nil
}
