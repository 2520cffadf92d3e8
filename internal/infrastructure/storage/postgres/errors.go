package postgres

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"lotledger/internal/core/apperror"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var keyDetailRe = regexp.MustCompile(`Key \((.+?)\)=\((.*?)\)`)

// parseDetail extracts the column/value map from a unique-violation detail:
// "Key (catalog_ref, category_ref)=(a, b) already exists."
func parseDetail(detail string) map[string]string {
	m := keyDetailRe.FindStringSubmatch(detail)
	if m == nil {
		return nil
	}
	cols := strings.Split(m[1], ", ")
	if len(cols) == 1 {
		return map[string]string{cols[0]: m[2]}
	}
	vals := strings.Split(m[2], ", ")
	if len(cols) != len(vals) {
		return nil
	}
	out := make(map[string]string, len(cols))
	for i, c := range cols {
		out[c] = vals[i]
	}
	return out
}

// MapWriteError turns driver errors into application errors. A unique
// violation becomes DUPLICATE_ENTRY carrying the constraint name and the
// structured key so reconciliation can target the offending rows.
func MapWriteError(entity string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgUniqueViolation:
		key := parseDetail(pgErr.Detail)
		field, value := pgErr.ColumnName, ""
		if len(key) == 1 {
			for k, v := range key {
				field, value = k, v
			}
		}
		appErr := apperror.NewDuplicate(entity, field, value).
			WithDetail("constraint", pgErr.ConstraintName).
			WithCause(err)
		if key != nil {
			appErr.WithDetail("key", key)
		}
		return appErr
	case pgForeignKeyViolation:
		return apperror.NewInvalidInput("referenced record does not exist").
			WithDetail("entity", entity).
			WithDetail("constraint", pgErr.ConstraintName).
			WithCause(err)
	}
	return err
}

// IsNoRows reports a QueryRow miss.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
