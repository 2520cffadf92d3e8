// Package catalog describes the catalog and sellable-product collaborators the
// ledger depends on. Their CRUD lives outside the ledger; only the shape and the
// operations the ledger needs are defined here.
package catalog

import (
	"time"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

// Item is the canonical definition of a stockable product.
type Item struct {
	ID        id.ID       `db:"id" json:"id"`
	Code      string      `db:"code" json:"code"`
	Name      string      `db:"name" json:"name"`
	Price     types.Money `db:"price" json:"price"`
	Active    bool        `db:"active" json:"active"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}

// Product is the sales-facing view of a catalog item. It carries denormalized
// stock counters maintained by the ledger.
type Product struct {
	ID             id.ID          `db:"id" json:"id"`
	CatalogRef     *id.ID         `db:"catalog_ref" json:"catalogRef,omitempty"`
	CategoryRef    *id.ID         `db:"category_ref" json:"categoryRef,omitempty"`
	Code           string         `db:"code" json:"code"`
	Name           string         `db:"name" json:"name"`
	Price          types.Money    `db:"price" json:"price"`
	QuantityOnHand types.Quantity `db:"quantity_on_hand" json:"quantityOnHand"`
	QuantitySold   types.Quantity `db:"quantity_sold" json:"quantitySold"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
}

// SynthesizeItem builds a minimal catalog record from the product's own fields.
// The zero itemID means "generate a new id".
func (p *Product) SynthesizeItem(itemID id.ID) *Item {
	if id.IsNil(itemID) {
		itemID = id.New()
	}
	code := p.Code
	if code == "" {
		code = "AUTO-" + p.ID.String()[:8]
	}
	name := p.Name
	if name == "" {
		name = code
	}
	return &Item{
		ID:        itemID,
		Code:      code,
		Name:      name,
		Price:     p.Price,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
}
