package dto

import (
	"time"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/lots"
)

// CreateLotRequest records a stock intake. CatalogRef is ignored on the
// product-scoped route, where the integrity guard supplies it.
type CreateLotRequest struct {
	CatalogRef       id.ID          `json:"catalogRef"`
	ProductRef       *id.ID         `json:"productRef"`
	Quantity         types.Quantity `json:"quantity"`
	PurchasePrice    types.Money    `json:"purchasePrice"`
	SalePrice        *types.Money   `json:"salePrice"`
	LotCode          string         `json:"lotCode"`
	Supplier         string         `json:"supplier"`
	IntakeDate       *time.Time     `json:"intakeDate"`
	ExpiryDate       *time.Time     `json:"expiryDate"`
	Config           *lots.Config   `json:"config"`
	RotationPriority *int64         `json:"rotationPriority"`
}

// ToInput converts the request into service input.
func (r CreateLotRequest) ToInput() lots.CreateInput {
	return lots.CreateInput{
		CatalogRef:       r.CatalogRef,
		ProductRef:       r.ProductRef,
		Quantity:         r.Quantity,
		PurchasePrice:    r.PurchasePrice,
		SalePrice:        r.SalePrice,
		LotCode:          r.LotCode,
		Supplier:         r.Supplier,
		IntakeDate:       r.IntakeDate,
		ExpiryDate:       r.ExpiryDate,
		Config:           r.Config,
		RotationPriority: r.RotationPriority,
	}
}

// ConsumeRequest draws stock from a lot or an item.
type ConsumeRequest struct {
	Quantity types.Quantity     `json:"quantity"`
	Reason   lots.ConsumeReason `json:"reason"`
}

// RestockRequest returns stock to a lot.
type RestockRequest struct {
	Quantity types.Quantity     `json:"quantity"`
	Reason   lots.RestockReason `json:"reason"`
}

// SetStateRequest is an administrative state change.
type SetStateRequest struct {
	State lots.State `json:"state" binding:"required"`
	Note  string     `json:"note"`
}

// UpdatePriceRequest edits prices; omitted fields are unchanged.
type UpdatePriceRequest struct {
	PurchasePrice *types.Money `json:"purchasePrice"`
	SalePrice     *types.Money `json:"salePrice"`
}

// SetAlertRequest raises (active) or clears a manual alert.
type SetAlertRequest struct {
	Type    lots.AlertType `json:"type" binding:"required"`
	Active  bool           `json:"active"`
	Message string         `json:"message"`
}

// ListLotsQuery holds list filters from the query string.
type ListLotsQuery struct {
	State      string     `form:"state"`
	CatalogRef string     `form:"catalogRef"`
	CreatedBy  string     `form:"createdBy"`
	DateFrom   *time.Time `form:"dateFrom" time_format:"2006-01-02"`
	DateTo     *time.Time `form:"dateTo" time_format:"2006-01-02"`
	Search     string     `form:"search"`
	OrderBy    string     `form:"orderBy"`
	Limit      int        `form:"limit"`
	Offset     int        `form:"offset"`
}

// ConsumeFromItemResponse lists the lots drawn from.
type ConsumeFromItemResponse struct {
	CatalogRef  id.ID             `json:"catalogRef"`
	Quantity    types.Quantity    `json:"quantity"`
	Allocations []lots.Allocation `json:"allocations"`
}

// CreateLotResponse adds the repairs the integrity guard made before creating.
type CreateLotResponse struct {
	*lots.Entry
	Repaired []string `json:"repaired,omitempty"`
}

// ResolveKeyRequest names one duplicate key to resolve.
type ResolveKeyRequest struct {
	Spec   string   `json:"spec" binding:"required"`
	Values []string `json:"values" binding:"required,min=1"`
}
