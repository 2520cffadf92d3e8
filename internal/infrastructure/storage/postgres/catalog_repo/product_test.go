package catalog_repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

func TestAdjustStockQuery(t *testing.T) {
	pid := id.New()
	sql, args, err := adjustStockQuery(pid, types.NewQuantity(-3), types.NewQuantity(3)).ToSql()
	require.NoError(t, err)

	assert.Equal(t, "UPDATE products SET "+
		"quantity_on_hand = GREATEST(quantity_on_hand + $1, 0), "+
		"quantity_sold = GREATEST(quantity_sold + $2, 0) "+
		"WHERE id = $3", sql)
	assert.Equal(t, []any{types.NewQuantity(-3), types.NewQuantity(3), pid.String()}, args)
}

func TestSelectColumns(t *testing.T) {
	items := NewItemRepo(nil)
	sql, _, err := items.baseSelect().Where("code = ?", "A").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, code, name, price, active, created_at FROM catalog_items WHERE code = $1", sql)

	products := NewProductRepo(nil)
	assert.Equal(t, []string{
		"id", "catalog_ref", "category_ref", "code", "name", "price",
		"quantity_on_hand", "quantity_sold", "created_at",
	}, products.selectCols)
}
