package integrity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/lock"
	"lotledger/pkg/logger"
)

// DefaultOperationTTL bounds how long a forgotten guard can block its key.
const DefaultOperationTTL = 30 * time.Second

// OperationGuard rejects a second concurrent stock-affecting request for the
// same (method, route, item). Leases live in a shared store so the exclusion
// holds across instances.
type OperationGuard struct {
	locker lock.Locker
	ttl    time.Duration
}

// NewOperationGuard creates the guard. ttl <= 0 selects DefaultOperationTTL.
func NewOperationGuard(locker lock.Locker, ttl time.Duration) *OperationGuard {
	if ttl <= 0 {
		ttl = DefaultOperationTTL
	}
	return &OperationGuard{locker: locker, ttl: ttl}
}

// OperationKey builds the guard key.
func OperationKey(method, route, item string) string {
	return fmt.Sprintf("opguard:%s:%s:%s", method, route, item)
}

// Enter takes the guard for the key. The returned release must be called when
// the operation completes; the lease expires on its own after the TTL.
func (g *OperationGuard) Enter(ctx context.Context, method, route, item string) (release func(), err error) {
	key := OperationKey(method, route, item)

	lease, err := g.locker.Obtain(ctx, key, g.ttl)
	if errors.Is(err, lock.ErrNotObtained) {
		return nil, apperror.NewConcurrentOperation(key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain operation guard: %w", err)
	}

	return func() {
		// the request context may already be cancelled
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lease.Release(rctx); err != nil {
			logger.Warn(ctx, "operation guard release failed", "key", key, "error", err)
		}
	}, nil
}
