// Package reconcile_repo implements the duplicate reconciliation store on PostgreSQL.
package reconcile_repo

import (
	"context"
	"fmt"
	"regexp"
	"slices"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotledger/internal/core/id"
	"lotledger/internal/domain/reconcile"
	"lotledger/internal/infrastructure/storage/postgres"
)

// Key specs name tables and columns directly in SQL, so they are checked
// against this pattern before use.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store implements reconcile.Store.
type Store struct {
	txManager *postgres.TxManager
}

var _ reconcile.Store = (*Store)(nil)

// New creates the store.
func New(txManager *postgres.TxManager) *Store {
	return &Store{txManager: txManager}
}

func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func checkSpec(spec reconcile.KeySpec) error {
	if !identRe.MatchString(spec.Table) {
		return fmt.Errorf("invalid table name %q", spec.Table)
	}
	if len(spec.Columns) == 0 {
		return fmt.Errorf("key spec %s has no columns", spec.Name)
	}
	for _, c := range spec.Columns {
		if !identRe.MatchString(c) {
			return fmt.Errorf("invalid column name %q", c)
		}
	}
	for _, c := range spec.Nullable {
		if !slices.Contains(spec.Columns, c) {
			return fmt.Errorf("nullable column %q is not part of key %s", c, spec.Name)
		}
	}
	return nil
}

// keyExpr renders column c as the text compared against Key.Values.
func keyExpr(spec reconcile.KeySpec, c string) string {
	if spec.IsNullable(c) {
		return "COALESCE(" + c + "::text, '" + reconcile.NullValue + "')"
	}
	return c + "::text"
}

func rowsByKeyQuery(key reconcile.Key) (squirrel.SelectBuilder, error) {
	if err := checkSpec(key.Spec); err != nil {
		return squirrel.SelectBuilder{}, err
	}
	if len(key.Values) != len(key.Spec.Columns) {
		return squirrel.SelectBuilder{}, fmt.Errorf("key %s: %d values for %d columns",
			key.Spec.Name, len(key.Values), len(key.Spec.Columns))
	}

	q := builder().Select("id", "created_at").From(key.Spec.Table)
	for i, c := range key.Spec.Columns {
		// compare as text so one query shape serves uuid and varchar keys
		q = q.Where(keyExpr(key.Spec, c)+" = ?", key.Values[i])
	}
	return q.OrderBy("created_at DESC", "id DESC"), nil
}

// RowsByKey implements reconcile.Store.
func (s *Store) RowsByKey(ctx context.Context, key reconcile.Key) ([]reconcile.Row, error) {
	q, err := rowsByKeyQuery(key)
	if err != nil {
		return nil, err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []reconcile.Row
	if err := pgxscan.Select(ctx, s.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select rows by key: %w", err)
	}
	return rows, nil
}

func duplicateKeysQuery(spec reconcile.KeySpec) (squirrel.SelectBuilder, error) {
	if err := checkSpec(spec); err != nil {
		return squirrel.SelectBuilder{}, err
	}

	cols := make([]string, len(spec.Columns))
	q := builder().Select().From(spec.Table)
	for i, c := range spec.Columns {
		cols[i] = keyExpr(spec, c)
		if !spec.IsNullable(c) {
			q = q.Where(c + " IS NOT NULL")
		}
	}
	return q.Columns(cols...).
		GroupBy(spec.Columns...).
		Having("COUNT(*) > 1"), nil
}

// DuplicateKeys implements reconcile.Store.
func (s *Store) DuplicateKeys(ctx context.Context, spec reconcile.KeySpec) ([]reconcile.Key, error) {
	q, err := duplicateKeysQuery(spec)
	if err != nil {
		return nil, err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.txManager.GetQuerier(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find duplicate keys: %w", err)
	}
	defer rows.Close()

	var keys []reconcile.Key
	for rows.Next() {
		vals := make([]string, len(spec.Columns))
		dest := make([]any, len(vals))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan duplicate key: %w", err)
		}
		keys = append(keys, reconcile.Key{Spec: spec, Values: vals})
	}
	return keys, rows.Err()
}

func deleteRowsQuery(spec reconcile.KeySpec, ids []id.ID) (squirrel.DeleteBuilder, error) {
	if err := checkSpec(spec); err != nil {
		return squirrel.DeleteBuilder{}, err
	}
	return builder().Delete(spec.Table).Where("id = ANY(?)", ids), nil
}

// DeleteRows implements reconcile.Store.
func (s *Store) DeleteRows(ctx context.Context, spec reconcile.KeySpec, ids []id.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q, err := deleteRowsQuery(spec, ids)
	if err != nil {
		return 0, err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	tag, err := s.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete duplicate rows: %w", err)
	}
	return tag.RowsAffected(), nil
}
