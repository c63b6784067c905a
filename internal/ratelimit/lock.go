package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// LockName identifies a worker that must run on one node at a time.
type LockName string

const (
	LockOutboxDispatcher LockName = "outbox.dispatcher"
	LockExpirySweeper    LockName = "expiry.sweeper"
)

// Key is the redis key holding the lock.
func (n LockName) Key() string {
	return "signflow:lock:" + string(n)
}

// Lease is a held worker lock. Token fences Release so a worker whose lease
// ran out cannot drop a lock another node has since taken.
type Lease struct {
	Name      LockName
	Token     string
	ExpiresAt time.Time
}

var (
	ErrLockNotConfigured = errors.New("worker lock requires redis")
	ErrInvalidLock       = errors.New("worker lock needs a name and a positive ttl")
)

// compare-and-delete on the lease token
const releaseLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type Locker struct {
	client  *redis.Client
	release *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(releaseLeaseScript),
	}
}

// Acquire returns a nil lease without error when another node holds name.
func (l *Locker) Acquire(ctx context.Context, name LockName, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockNotConfigured
	}
	if name == "" || ttl <= 0 {
		return nil, ErrInvalidLock
	}

	lease := &Lease{Name: name, Token: uuid.NewString(), ExpiresAt: time.Now().Add(ttl)}
	held, err := l.client.SetNX(ctx, name.Key(), lease.Token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, nil
	}
	return lease, nil
}

// Release reports false when the lease had already expired.
func (l *Locker) Release(ctx context.Context, lease *Lease) (bool, error) {
	if l == nil || l.client == nil || lease == nil {
		return false, nil
	}
	deleted, err := l.release.Run(ctx, l.client, []string{lease.Name.Key()}, lease.Token).Int64()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}
