package catalog_repo

import (
	"context"

	"github.com/Masterminds/squirrel"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/catalog"
	"lotledger/internal/infrastructure/storage/postgres"
)

// ProductRepo stores the sales-facing products and their stock counters.
type ProductRepo struct {
	baseRepo[catalog.Product]
}

var _ catalog.ProductRepository = (*ProductRepo)(nil)

// NewProductRepo creates the product repository.
func NewProductRepo(txManager *postgres.TxManager) *ProductRepo {
	return &ProductRepo{baseRepo: newBaseRepo[catalog.Product](txManager, "products", "product")}
}

func (r *ProductRepo) GetByID(ctx context.Context, productID id.ID) (*catalog.Product, error) {
	return r.getOne(ctx, r.baseSelect().Where(squirrel.Eq{"id": productID}), productID)
}

func (r *ProductRepo) FindByCatalogRef(ctx context.Context, catalogRef id.ID) (*catalog.Product, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"catalog_ref": catalogRef}).
		OrderBy("created_at ASC", "id ASC")
	return r.getOne(ctx, q, catalogRef)
}

// Create inserts a product. Used by fixtures and the seed command.
func (r *ProductRepo) Create(ctx context.Context, p *catalog.Product) error {
	return r.insert(ctx, p)
}

func (r *ProductRepo) SetCatalogRef(ctx context.Context, productID, catalogRef id.ID) error {
	q := builder().
		Update(r.tableName).
		Set("catalog_ref", catalogRef).
		Where(squirrel.Eq{"id": productID})
	return r.exec(ctx, q, productID)
}

func adjustStockQuery(productID id.ID, onHandDelta, soldDelta types.Quantity) squirrel.UpdateBuilder {
	return builder().
		Update("products").
		Set("quantity_on_hand", squirrel.Expr("GREATEST(quantity_on_hand + ?, 0)", onHandDelta)).
		Set("quantity_sold", squirrel.Expr("GREATEST(quantity_sold + ?, 0)", soldDelta)).
		Where(squirrel.Eq{"id": productID})
}

// AdjustStock applies deltas in one statement so concurrent writers do not
// lose updates. Counters never go below zero.
func (r *ProductRepo) AdjustStock(ctx context.Context, productID id.ID, onHandDelta, soldDelta types.Quantity) error {
	return r.exec(ctx, adjustStockQuery(productID, onHandDelta, soldDelta), productID)
}

func (r *ProductRepo) SetStock(ctx context.Context, productID id.ID, onHand, sold types.Quantity) error {
	q := builder().
		Update(r.tableName).
		Set("quantity_on_hand", onHand).
		Set("quantity_sold", sold).
		Where(squirrel.Eq{"id": productID})
	return r.exec(ctx, q, productID)
}
