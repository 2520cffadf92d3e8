package catalog_repo

import (
	"context"

	"github.com/Masterminds/squirrel"

	"lotledger/internal/core/id"
	"lotledger/internal/domain/catalog"
	"lotledger/internal/infrastructure/storage/postgres"
)

// ItemRepo stores catalog items in catalog_items.
type ItemRepo struct {
	baseRepo[catalog.Item]
}

var _ catalog.ItemRepository = (*ItemRepo)(nil)

// NewItemRepo creates the catalog item repository.
func NewItemRepo(txManager *postgres.TxManager) *ItemRepo {
	return &ItemRepo{baseRepo: newBaseRepo[catalog.Item](txManager, "catalog_items", "catalog_item")}
}

func (r *ItemRepo) GetByID(ctx context.Context, itemID id.ID) (*catalog.Item, error) {
	return r.getOne(ctx, r.baseSelect().Where(squirrel.Eq{"id": itemID}), itemID)
}

func (r *ItemRepo) GetByCode(ctx context.Context, code string) (*catalog.Item, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"code": code}).
		OrderBy("active DESC", "created_at ASC")
	return r.getOne(ctx, q, code)
}

func (r *ItemRepo) Create(ctx context.Context, item *catalog.Item) error {
	return r.insert(ctx, item)
}
