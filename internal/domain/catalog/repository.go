package catalog

import (
	"context"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

// ItemRepository is the catalog collaborator.
type ItemRepository interface {
	// GetByID returns apperror NotFound when absent.
	GetByID(ctx context.Context, itemID id.ID) (*Item, error)
	// GetByCode returns apperror NotFound when absent.
	GetByCode(ctx context.Context, code string) (*Item, error)
	// Create persists an item with the id it carries.
	Create(ctx context.Context, item *Item) error
}

// ProductRepository is the product/sellable-item collaborator.
type ProductRepository interface {
	// GetByID returns apperror NotFound when absent.
	GetByID(ctx context.Context, productID id.ID) (*Product, error)
	// FindByCatalogRef returns the oldest product linked to the catalog item,
	// or apperror NotFound.
	FindByCatalogRef(ctx context.Context, catalogRef id.ID) (*Product, error)
	// SetCatalogRef relinks the product to a catalog item.
	SetCatalogRef(ctx context.Context, productID, catalogRef id.ID) error
	// AdjustStock applies deltas to the denormalized counters.
	AdjustStock(ctx context.Context, productID id.ID, onHandDelta, soldDelta types.Quantity) error
	// SetStock overwrites the denormalized counters.
	SetStock(ctx context.Context, productID id.ID, onHand, sold types.Quantity) error
}
