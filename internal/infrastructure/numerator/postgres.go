// Package numerator implements entry numbering on PostgreSQL and Redis.
package numerator

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	corenumerator "lotledger/internal/core/numerator"
)

// Querier is the part of a pool or transaction the service needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service issues numbers from the sys_sequences table. Every number comes
// from one atomic INSERT ... ON CONFLICT DO UPDATE ... RETURNING.
type Service struct {
	querier Querier
}

var _ corenumerator.Generator = (*Service)(nil)

// New creates the PostgreSQL numerator. The querier should be the pool:
// numbers are drawn outside business transactions so a rollback never
// hands the same number out twice.
func New(querier Querier) *Service {
	return &Service{querier: querier}
}

// GetNextNumber implements corenumerator.Generator.
func (s *Service) GetNextNumber(ctx context.Context, cfg corenumerator.Config, day time.Time) (string, error) {
	key := corenumerator.BuildKey(cfg, day)

	var num int64
	err := s.querier.QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (key) DO UPDATE
		SET current_val = sys_sequences.current_val + 1, updated_at = NOW()
		RETURNING current_val
	`, key).Scan(&num)
	if err != nil {
		return "", fmt.Errorf("increment sequence %s: %w", key, err)
	}
	return corenumerator.FormatNumber(cfg, day, num), nil
}
