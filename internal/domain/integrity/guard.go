// Package integrity verifies the catalog linkage of a sellable product before a
// stock operation runs, repairing missing or dangling links where it can.
package integrity

import (
	"context"
	"fmt"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/domain/catalog"
	"lotledger/pkg/logger"
)

// Repair kinds reported in ValidatedContext.Repaired.
const (
	RepairLinked    = "catalog_linked"
	RepairRecreated = "catalog_recreated"
)

// ValidatedContext is the product and catalog item a stock operation may use.
type ValidatedContext struct {
	Product  *catalog.Product
	Item     *catalog.Item
	Repaired []string
}

// Config tunes the guard.
type Config struct {
	// RepairMaxAttempts caps self-repair writes per validation.
	RepairMaxAttempts int
}

// Guard validates product to catalog linkage.
type Guard struct {
	items    catalog.ItemRepository
	products catalog.ProductRepository
	cfg      Config
}

// NewGuard creates the integrity guard.
func NewGuard(items catalog.ItemRepository, products catalog.ProductRepository, cfg Config) *Guard {
	if cfg.RepairMaxAttempts <= 0 {
		cfg.RepairMaxAttempts = 2
	}
	return &Guard{items: items, products: products, cfg: cfg}
}

// Validate resolves the product and its catalog item.
//
// A product without a catalog link gets a catalog record synthesized from its
// own fields (DATA_CORRUPTION when that fails). A link to a missing record is
// healed by recreating the record under the same id (REFERENCE_CORRUPTION when
// that fails). An inactive catalog record yields CATALOG_ITEM_INACTIVE.
//
// Repairs are written immediately and are not part of the caller's transaction.
func (g *Guard) Validate(ctx context.Context, productID id.ID) (*ValidatedContext, error) {
	product, err := g.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	vc := &ValidatedContext{Product: product}

	if product.CatalogRef == nil || id.IsNil(*product.CatalogRef) {
		item, err := g.link(ctx, product)
		if err != nil {
			return nil, apperror.NewDataCorruption("product", productID.String()).
				WithDetail("reason", "missing catalog link").
				WithCause(err)
		}
		ref := item.ID
		product.CatalogRef = &ref
		vc.Item = item
		vc.Repaired = append(vc.Repaired, RepairLinked)
	} else {
		item, err := g.items.GetByID(ctx, *product.CatalogRef)
		switch {
		case err == nil:
			vc.Item = item
		case apperror.IsNotFound(err):
			item, err = g.recreate(ctx, product)
			if err != nil {
				return nil, apperror.NewReferenceCorruption("product", productID.String(), product.CatalogRef.String()).
					WithCause(err)
			}
			vc.Item = item
			vc.Repaired = append(vc.Repaired, RepairRecreated)
		default:
			return nil, fmt.Errorf("load catalog item: %w", err)
		}
	}

	if !vc.Item.Active {
		return nil, apperror.NewCatalogItemInactive(vc.Item.ID.String()).
			WithDetail("product_id", productID.String())
	}
	return vc, nil
}

// link attaches a catalog record to an unlinked product, reusing a record with
// the same code when one exists.
func (g *Guard) link(ctx context.Context, p *catalog.Product) (*catalog.Item, error) {
	var item *catalog.Item
	if p.Code != "" {
		existing, err := g.items.GetByCode(ctx, p.Code)
		if err == nil {
			item = existing
		} else if !apperror.IsNotFound(err) {
			return nil, err
		}
	}

	err := g.attempt(ctx, "link", p.ID, func(ctx context.Context) error {
		if item == nil {
			candidate := p.SynthesizeItem(id.ID{})
			if err := g.items.Create(ctx, candidate); err != nil {
				return fmt.Errorf("create catalog item: %w", err)
			}
			item = candidate
		}
		return g.products.SetCatalogRef(ctx, p.ID, item.ID)
	})
	if err != nil {
		return nil, err
	}

	logger.Warn(ctx, "product relinked to catalog",
		"product_id", p.ID,
		"catalog_ref", item.ID,
	)
	return item, nil
}

// recreate writes a replacement catalog record under the dangling id so that
// existing references stay valid.
func (g *Guard) recreate(ctx context.Context, p *catalog.Product) (*catalog.Item, error) {
	ref := *p.CatalogRef
	var item *catalog.Item

	err := g.attempt(ctx, "recreate", p.ID, func(ctx context.Context) error {
		candidate := p.SynthesizeItem(ref)
		err := g.items.Create(ctx, candidate)
		if err == nil {
			item = candidate
			return nil
		}
		// a concurrent repair may have won
		if existing, getErr := g.items.GetByID(ctx, ref); getErr == nil {
			item = existing
			return nil
		}
		return fmt.Errorf("create catalog item: %w", err)
	})
	if err != nil {
		return nil, err
	}

	logger.Warn(ctx, "dangling catalog reference recreated",
		"product_id", p.ID,
		"catalog_ref", ref,
	)
	return item, nil
}

func (g *Guard) attempt(ctx context.Context, op string, productID id.ID, fn func(ctx context.Context) error) error {
	var err error
	for n := 1; n <= g.cfg.RepairMaxAttempts; n++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		logger.Warn(ctx, "catalog repair attempt failed",
			"op", op,
			"product_id", productID,
			"attempt", n,
			"error", err,
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
