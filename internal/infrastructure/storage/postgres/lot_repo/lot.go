// Package lot_repo provides the PostgreSQL implementation of the lot ledger repository.
package lot_repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/domain/lots"
	"lotledger/internal/infrastructure/storage/postgres"
)

const tableName = "lot_entries"

var columns = postgres.ExtractDBColumns[lots.Entry]()

var orderings = map[string]string{
	"":             "rotation_priority ASC, intake_date ASC, id ASC",
	"rotation":     "rotation_priority ASC, intake_date ASC, id ASC",
	"-intake_date": "intake_date DESC, id DESC",
	"entry_number": "entry_number ASC",
	"-created_at":  "created_at DESC, id DESC",
}

// Repo stores lot entries in lot_entries.
type Repo struct {
	txManager *postgres.TxManager
}

var _ lots.Repository = (*Repo)(nil)

// New creates the lot repository.
func New(txManager *postgres.TxManager) *Repo {
	return &Repo{txManager: txManager}
}

func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *Repo) baseSelect() squirrel.SelectBuilder {
	return builder().Select(columns...).From(tableName)
}

// Create implements lots.Repository.
func (r *Repo) Create(ctx context.Context, e *lots.Entry) error {
	q := builder().Insert(tableName).SetMap(postgres.StructToMap(e))

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapWriteError("lot_entry", err)
	}
	return nil
}

func (r *Repo) updateQuery(e *lots.Entry) squirrel.UpdateBuilder {
	data := postgres.OmitColumns(postgres.StructToMap(e),
		"id", "version", "entry_number", "created_at", "created_by")

	return builder().
		Update(tableName).
		SetMap(data).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": e.ID}).
		Where(squirrel.Eq{"version": e.Version})
}

// Update implements lots.Repository with an optimistic version check.
func (r *Repo) Update(ctx context.Context, e *lots.Entry) error {
	sql, args, err := r.updateQuery(e).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.MapWriteError("lot_entry", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("lot_entry", e.ID)
	}
	e.Version++
	return nil
}

func deleteQuery(entryID id.ID, version int) squirrel.DeleteBuilder {
	return builder().
		Delete(tableName).
		Where(squirrel.Eq{"id": entryID}).
		Where(squirrel.Eq{"version": version})
}

// Delete implements lots.Repository with the same version check as Update.
func (r *Repo) Delete(ctx context.Context, entryID id.ID, version int) error {
	sql, args, err := deleteQuery(entryID, version).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete lot entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("lot_entry", entryID)
	}
	return nil
}

// GetByID implements lots.Repository.
func (r *Repo) GetByID(ctx context.Context, entryID id.ID) (*lots.Entry, error) {
	sql, args, err := r.baseSelect().Where(squirrel.Eq{"id": entryID}).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var e lots.Entry
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &e, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("lot_entry", entryID)
		}
		return nil, fmt.Errorf("get lot entry: %w", err)
	}
	return &e, nil
}

// applyFilter adds the WHERE conditions of f.
func applyFilter(q squirrel.SelectBuilder, f lots.ListFilter) squirrel.SelectBuilder {
	if f.State != nil {
		q = q.Where(squirrel.Eq{"state": *f.State})
	}
	if f.CatalogRef != nil {
		q = q.Where(squirrel.Eq{"catalog_ref": *f.CatalogRef})
	}
	if f.CreatedBy != "" {
		q = q.Where(squirrel.ILike{"created_by": "%" + escapeLike(f.CreatedBy) + "%"})
	}
	if f.DateFrom != nil {
		q = q.Where(squirrel.GtOrEq{"intake_date": *f.DateFrom})
	}
	if f.DateTo != nil {
		q = q.Where(squirrel.LtOrEq{"intake_date": *f.DateTo})
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + escapeLike(s) + "%"
		q = q.Where(squirrel.Or{
			squirrel.ILike{"product_name": pattern},
			squirrel.ILike{"product_code": pattern},
			squirrel.ILike{"entry_number": pattern},
			squirrel.ILike{"lot_code": pattern},
			squirrel.ILike{"supplier": pattern},
		})
	}
	return q
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *Repo) listQuery(f lots.ListFilter) (squirrel.SelectBuilder, error) {
	order, ok := orderings[f.OrderBy]
	if !ok {
		return squirrel.SelectBuilder{}, apperror.NewInvalidInput(fmt.Sprintf("unknown ordering %q", f.OrderBy))
	}
	q := applyFilter(r.baseSelect(), f).OrderBy(order)
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q, nil
}

// List implements lots.Repository.
func (r *Repo) List(ctx context.Context, f lots.ListFilter) ([]*lots.Entry, int64, error) {
	q, err := r.listQuery(f)
	if err != nil {
		return nil, 0, err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	var items []*lots.Entry
	if err := pgxscan.Select(ctx, querier, &items, sql, args...); err != nil {
		return nil, 0, fmt.Errorf("list lot entries: %w", err)
	}

	countSQL, countArgs, err := applyFilter(builder().Select("COUNT(*)").From(tableName), f).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}
	var total int64
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count lot entries: %w", err)
	}
	return items, total, nil
}

func summaryQuery(f lots.ListFilter) squirrel.SelectBuilder {
	// state filter from the caller still applies; the summary only ever
	// covers active lots
	q := builder().
		Select(
			"COALESCE(SUM(qty_available), 0)::bigint AS total_available",
			"COALESCE(SUM(qty_available::numeric / 10000 * purchase_price), 0) AS total_value",
		).
		From(tableName).
		Where(squirrel.Eq{"state": lots.StateActive})
	return applyFilter(q, f)
}

// Summarize implements lots.Repository.
func (r *Repo) Summarize(ctx context.Context, f lots.ListFilter) (lots.ListSummary, error) {
	var out lots.ListSummary
	sql, args, err := summaryQuery(f).ToSql()
	if err != nil {
		return out, fmt.Errorf("build summary: %w", err)
	}
	err = r.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&out.TotalAvailable, &out.TotalValue)
	if err != nil {
		return out, fmt.Errorf("summarize lot entries: %w", err)
	}
	return out, nil
}

// ListByCatalog implements lots.Repository.
func (r *Repo) ListByCatalog(ctx context.Context, catalogRef id.ID, states []lots.State) ([]*lots.Entry, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"catalog_ref": catalogRef}).
		OrderBy(orderings["rotation"])
	if len(states) > 0 {
		q = q.Where(squirrel.Eq{"state": states})
	}
	return r.selectEntries(ctx, q)
}

// ListByStates implements lots.Repository.
func (r *Repo) ListByStates(ctx context.Context, states []lots.State) ([]*lots.Entry, error) {
	q := r.baseSelect().OrderBy(orderings["rotation"])
	if len(states) > 0 {
		q = q.Where(squirrel.Eq{"state": states})
	}
	return r.selectEntries(ctx, q)
}

func (r *Repo) selectEntries(ctx context.Context, q squirrel.SelectBuilder) ([]*lots.Entry, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []*lots.Entry
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("select lot entries: %w", err)
	}
	return out, nil
}

// CountByState implements lots.Repository.
func (r *Repo) CountByState(ctx context.Context) (map[lots.State]int64, error) {
	sql, args, err := builder().
		Select("state", "COUNT(*) AS n").
		From(tableName).
		GroupBy("state").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count: %w", err)
	}

	var rows []struct {
		State lots.State `db:"state"`
		N     int64      `db:"n"`
	}
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}

	out := make(map[lots.State]int64, len(rows))
	for _, row := range rows {
		out[row.State] = row.N
	}
	return out, nil
}

// CatalogRefs implements lots.Repository.
func (r *Repo) CatalogRefs(ctx context.Context) ([]id.ID, error) {
	sql, args, err := builder().
		Select("DISTINCT catalog_ref").
		From(tableName).
		OrderBy("catalog_ref").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var refs []id.ID
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &refs, sql, args...); err != nil {
		return nil, fmt.Errorf("list catalog refs: %w", err)
	}
	return refs, nil
}
