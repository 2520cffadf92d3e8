package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
)

func TestMapWriteError_UniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "products_catalog_ref_category_ref_key",
		Detail:         "Key (catalog_ref, category_ref)=(c1, g1) already exists.",
	}

	err := MapWriteError("product", fmt.Errorf("insert: %w", pgErr))

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeDuplicate, appErr.Code)
	assert.Equal(t, "products_catalog_ref_category_ref_key", appErr.Details["constraint"])
	assert.Equal(t, map[string]string{"catalog_ref": "c1", "category_ref": "g1"}, appErr.Details["key"])
	assert.ErrorIs(t, err, pgErr)
}

func TestMapWriteError_SingleColumn(t *testing.T) {
	err := MapWriteError("lot_entry", &pgconn.PgError{
		Code:   "23505",
		Detail: "Key (entry_number)=(ENT-20260305-001) already exists.",
	})

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "entry_number", appErr.Details["field"])
	assert.Equal(t, "ENT-20260305-001", appErr.Details["value"])
}

func TestMapWriteError_Passthrough(t *testing.T) {
	plain := errors.New("connection refused")
	assert.Equal(t, plain, MapWriteError("lot_entry", plain))

	fk := MapWriteError("lot_entry", &pgconn.PgError{Code: "23503"})
	assert.True(t, apperror.HasCode(fk, apperror.CodeInvalidInput))
}

func TestParseDetail(t *testing.T) {
	assert.Nil(t, parseDetail("no key here"))
	assert.Equal(t, map[string]string{"code": "A, B"}, parseDetail("Key (code)=(A, B) already exists."))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isRetryable(fmt.Errorf("update: %w", &pgconn.PgError{Code: "40P01"})))
	assert.False(t, isRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isRetryable(errors.New("connection reset")))
}
