package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"lotledger/internal/core/apperror"
	"lotledger/internal/domain/reconcile"
	"lotledger/internal/infrastructure/http/v1/dto"
)

// Reconciler removes duplicate rows.
type Reconciler interface {
	FullSweep(ctx context.Context) (*reconcile.SweepResult, error)
	ResolveByKey(ctx context.Context, key reconcile.Key) (*reconcile.ResolveResult, error)
	Specs() []reconcile.KeySpec
}

// AdminHandler exposes maintenance operations.
type AdminHandler struct {
	*BaseHandler
	reconciler Reconciler
	lots       LotService
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(reconciler Reconciler, lots LotService) *AdminHandler {
	return &AdminHandler{
		BaseHandler: NewBaseHandler(),
		reconciler:  reconciler,
		lots:        lots,
	}
}

// Sweep resolves every duplicate key.
// POST /admin/reconcile/sweep
func (h *AdminHandler) Sweep(c *gin.Context) {
	res, err := h.reconciler.FullSweep(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}

// Resolve resolves one named key.
// POST /admin/reconcile/resolve
func (h *AdminHandler) Resolve(c *gin.Context) {
	var req dto.ResolveKeyRequest
	if !h.BindJSON(c, &req) {
		return
	}

	var spec *reconcile.KeySpec
	for _, s := range h.reconciler.Specs() {
		if s.Name == req.Spec {
			spec = &s
			break
		}
	}
	if spec == nil {
		h.Error(c, apperror.NewInvalidInput("unknown key spec").WithDetail("spec", req.Spec))
		return
	}
	if len(req.Values) != len(spec.Columns) {
		h.Error(c, apperror.NewInvalidInput("value count does not match key columns").
			WithDetail("columns", spec.Columns))
		return
	}

	res, err := h.reconciler.ResolveByKey(c.Request.Context(), reconcile.Key{Spec: *spec, Values: req.Values})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}

// Specs lists the uniqueness rules the reconciler heals.
// GET /admin/reconcile/specs
func (h *AdminHandler) Specs(c *gin.Context) {
	h.OK(c, dto.NewItemsResponse(h.reconciler.Specs()))
}

// RecomputeAll rebuilds the counters of every product that has lots.
// POST /admin/recompute
func (h *AdminHandler) RecomputeAll(c *gin.Context) {
	results, err := h.lots.RecomputeAll(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewItemsResponse(results))
}
