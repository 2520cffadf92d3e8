// Package catalog_repo provides PostgreSQL implementations of the catalog and
// product collaborators used by the ledger.
package catalog_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotledger/internal/core/apperror"
	"lotledger/internal/infrastructure/storage/postgres"
)

// baseRepo provides the shared insert and lookup paths for a table mapped by
// "db" tags.
type baseRepo[T any] struct {
	txManager  *postgres.TxManager
	tableName  string
	entity     string
	selectCols []string
}

func newBaseRepo[T any](txManager *postgres.TxManager, tableName, entity string) baseRepo[T] {
	return baseRepo[T]{
		txManager:  txManager,
		tableName:  tableName,
		entity:     entity,
		selectCols: postgres.ExtractDBColumns[T](),
	}
}

func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *baseRepo[T]) baseSelect() squirrel.SelectBuilder {
	return builder().Select(r.selectCols...).From(r.tableName)
}

func (r *baseRepo[T]) insert(ctx context.Context, v *T) error {
	sql, args, err := builder().Insert(r.tableName).SetMap(postgres.StructToMap(v)).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapWriteError(r.entity, err)
	}
	return nil
}

// getOne returns the first row matching where, or NotFound keyed by ref.
func (r *baseRepo[T]) getOne(ctx context.Context, q squirrel.SelectBuilder, ref any) (*T, error) {
	sql, args, err := q.Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var v T
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &v, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(r.entity, ref)
		}
		return nil, fmt.Errorf("get %s: %w", r.entity, err)
	}
	return &v, nil
}

// exec runs a write that must touch a row, or NotFound keyed by ref.
func (r *baseRepo[T]) exec(ctx context.Context, q squirrel.Sqlizer, ref any) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build statement: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.MapWriteError(r.entity, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(r.entity, ref)
	}
	return nil
}
