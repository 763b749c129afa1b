// Package mutex runs critical sections keyed by an arbitrary string on top
// of a port.Locker. At most one action per key is in flight; the scope of
// that guarantee is the scope of the locker (process or shared store).
package mutex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/rl1809/market-orders/internal/core/domain"
	"github.com/rl1809/market-orders/internal/port"
)

const (
	DefaultTTL         = 10 * time.Second
	DefaultBaseBackoff = 50 * time.Millisecond
	DefaultMaxBackoff  = 1 * time.Second

	releaseTimeout = 2 * time.Second
)

type Coordinator struct {
	locker      port.Locker
	log         *slog.Logger
	ttl         time.Duration
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type Option func(*Coordinator)

// WithTTL bounds how long a single holder may keep a key.
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithBackoff(base, maxWait time.Duration) Option {
	return func(c *Coordinator) {
		if base > 0 {
			c.baseBackoff = base
		}
		if maxWait >= base {
			c.maxBackoff = maxWait
		}
	}
}

func NewCoordinator(locker port.Locker, log *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		locker:      locker,
		log:         log,
		ttl:         DefaultTTL,
		baseBackoff: DefaultBaseBackoff,
		maxBackoff:  DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunExclusive acquires key (up to maxAttempts tries with backoff), runs
// action and releases the key on every exit path, panics included. The
// action's context expires together with the lease.
func (c *Coordinator) RunExclusive(ctx context.Context, key string, maxAttempts int, action func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	lease, err := c.acquire(ctx, key, maxAttempts)
	if err != nil {
		return err
	}
	defer c.release(ctx, lease)

	actionCtx, cancel := context.WithTimeout(ctx, c.ttl)
	defer cancel()

	return action(actionCtx)
}

func (c *Coordinator) acquire(ctx context.Context, key string, maxAttempts int) (port.Lease, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lease, err := c.locker.Acquire(ctx, key, c.ttl)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, port.ErrLockNotAcquired) {
			return port.Lease{}, fmt.Errorf("acquire %s: %w", key, err)
		}
		if attempt == maxAttempts-1 {
			break
		}

		wait := c.backoff(attempt)
		c.log.Debug("lock busy, retrying", "key", key, "attempt", attempt+1, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return port.Lease{}, ctx.Err()
		case <-timer.C:
		}
	}

	return port.Lease{}, fmt.Errorf("%s after %d attempts: %w", key, maxAttempts, domain.ErrLockContention)
}

func (c *Coordinator) release(ctx context.Context, lease port.Lease) {
	// the request context may already be cancelled; the key must still be freed
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := c.locker.Release(releaseCtx, lease); err != nil {
		c.log.Warn("lock release failed", "key", lease.Key, "err", err)
	}
}

// backoff is exponential with up to 50% jitter, capped at maxBackoff.
func (c *Coordinator) backoff(attempt int) time.Duration {
	exp := c.baseBackoff << attempt
	if exp <= 0 || exp > c.maxBackoff {
		exp = c.maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(exp/2) + 1))
	return exp + jitter
}
