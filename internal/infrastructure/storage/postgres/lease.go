package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lotledger/internal/core/id"
	"lotledger/internal/core/lock"
)

// LeaseStore is a lock.Locker backed by the sys_leases table. A lease is a row
// with an owner token and an expiry; an expired row can be taken over.
type LeaseStore struct {
	pool *pgxpool.Pool
}

// NewLeaseStore creates a lease store.
func NewLeaseStore(pool *pgxpool.Pool) *LeaseStore {
	return &LeaseStore{pool: pool}
}

var _ lock.Locker = (*LeaseStore)(nil)

// Obtain implements lock.Locker.
func (s *LeaseStore) Obtain(ctx context.Context, key string, ttl time.Duration) (lock.Lease, error) {
	token := id.New().String()
	now := time.Now().UTC()

	// Insert, or take over an expired lease. A live lease makes the
	// conditional update a no-op and no row is affected.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO sys_leases (lease_key, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (lease_key) DO UPDATE SET
			token = EXCLUDED.token,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
		WHERE sys_leases.expires_at <= $4
	`, key, token, now.Add(ttl), now)
	if err != nil {
		return nil, fmt.Errorf("obtain lease %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, lock.ErrNotObtained
	}

	return &pgLease{pool: s.pool, key: key, token: token}, nil
}

// PurgeExpired removes leases that expired without being released.
func (s *LeaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sys_leases WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

type pgLease struct {
	pool  *pgxpool.Pool
	key   string
	token string
}

// Release deletes the row only while this lease still owns it.
func (l *pgLease) Release(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM sys_leases WHERE lease_key = $1 AND token = $2`, l.key, l.token)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
