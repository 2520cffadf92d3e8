// Package lock defines the lease lock contract shared by the operation guard
// and the reconciliation service. Implementations hold leases in a shared store
// (Redis, PostgreSQL) so exclusion holds across server instances.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotObtained is returned when the key is currently leased by someone else.
var ErrNotObtained = errors.New("lock: not obtained")

// Lease is a held lock. Release is idempotent.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker obtains leases that expire after ttl even if never released.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// ObtainWait retries Obtain every interval until the lease is obtained or ctx is done.
func ObtainWait(ctx context.Context, l Locker, key string, ttl, interval time.Duration) (Lease, error) {
	for {
		lease, err := l.Obtain(ctx, key, ttl)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, ErrNotObtained) {
			return nil, err
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Local is a single-process Locker for development and tests.
type Local struct {
	mu     sync.Mutex
	leases map[string]localEntry
	now    func() time.Time
	seq    uint64
}

type localEntry struct {
	token     uint64
	expiresAt time.Time
}

// NewLocal creates an in-process Locker.
func NewLocal() *Local {
	return &Local{
		leases: make(map[string]localEntry),
		now:    time.Now,
	}
}

// Obtain implements Locker.
func (l *Local) Obtain(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.leases[key]; ok && now.Before(e.expiresAt) {
		return nil, ErrNotObtained
	}

	l.seq++
	l.leases[key] = localEntry{token: l.seq, expiresAt: now.Add(ttl)}
	return &localLease{owner: l, key: key, token: l.seq}, nil
}

type localLease struct {
	owner *Local
	key   string
	token uint64
}

func (ll *localLease) Release(context.Context) error {
	ll.owner.mu.Lock()
	defer ll.owner.mu.Unlock()
	// an expired lease may already belong to someone else
	if e, ok := ll.owner.leases[ll.key]; ok && e.token == ll.token {
		delete(ll.owner.leases, ll.key)
	}
	return nil
}
