package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/market-orders/internal/port"
)

// LocalLocker is an in-process port.Locker for single-instance deployments.
// Held keys expire after their ttl just like the Redis implementation.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]holder
	now  func() time.Time
}

type holder struct {
	token   string
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held: make(map[string]holder),
		now:  time.Now,
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (port.Lease, error) {
	if err := ctx.Err(); err != nil {
		return port.Lease{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return port.Lease{}, port.ErrLockNotAcquired
	}

	token := uuid.NewString()
	l.held[key] = holder{token: token, expires: now.Add(ttl)}

	return port.Lease{Key: key, Token: token}, nil
}

func (l *LocalLocker) Release(ctx context.Context, lease port.Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.held[lease.Key]; ok && h.token == lease.Token {
		delete(l.held, lease.Key)
	}
	return nil
}

// Held reports whether key is currently locked.
func (l *LocalLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.held[key]
	return ok && l.now().Before(h.expires)
}
