package port

import (
	"context"
	"errors"
	"time"
)

// ErrLockNotAcquired is returned by Acquire when another holder owns the key.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lease identifies one successful acquisition. Token distinguishes the
// holder so that an expired lease cannot release somebody else's lock.
type Lease struct {
	Key   string
	Token string
}

type Locker interface {
	// Acquire takes the lock for at most ttl. It does not wait.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)

	// Release frees the lock if the lease still owns it
	Release(ctx context.Context, lease Lease) error
}
