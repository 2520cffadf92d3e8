package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"lotledger/internal/core/id"
	"lotledger/internal/domain/integrity"
	"lotledger/internal/infrastructure/http/v1/dto"
)

// ProductValidator checks and repairs the product/catalog link.
type ProductValidator interface {
	Validate(ctx context.Context, productID id.ID) (*integrity.ValidatedContext, error)
}

// ProductHandler handles product-scoped intake.
type ProductHandler struct {
	*BaseHandler
	guard ProductValidator
	lots  LotService
}

// NewProductHandler creates a product handler.
func NewProductHandler(guard ProductValidator, lots LotService) *ProductHandler {
	return &ProductHandler{
		BaseHandler: NewBaseHandler(),
		guard:       guard,
		lots:        lots,
	}
}

// CreateLot validates the product's catalog link, repairing it if needed, and
// records an intake against the resolved catalog item.
// POST /products/:productId/lots
func (h *ProductHandler) CreateLot(c *gin.Context) {
	productID, ok := h.ParseID(c, "productId")
	if !ok {
		return
	}
	var req dto.CreateLotRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	vc, err := h.guard.Validate(ctx, productID)
	if err != nil {
		h.Error(c, err)
		return
	}

	in := req.ToInput()
	in.CatalogRef = vc.Item.ID
	in.ProductRef = &productID

	entry, err := h.lots.CreateEntry(ctx, in)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.CreateLotResponse{Entry: entry, Repaired: vc.Repaired})
}
