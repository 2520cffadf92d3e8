package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/lots"
	"lotledger/internal/infrastructure/http/v1/dto"
	"lotledger/internal/infrastructure/storage/postgres"
)

// LotService is the ledger surface used by the HTTP layer.
type LotService interface {
	CreateEntry(ctx context.Context, in lots.CreateInput) (*lots.Entry, error)
	GetEntry(ctx context.Context, entryID id.ID) (*lots.Entry, error)
	ListEntries(ctx context.Context, filter lots.ListFilter) (*lots.ListResult, error)
	Consume(ctx context.Context, entryID id.ID, qty types.Quantity, reason lots.ConsumeReason) (*lots.Entry, error)
	ConsumeFromItem(ctx context.Context, catalogRef id.ID, qty types.Quantity, reason lots.ConsumeReason) ([]lots.Allocation, error)
	Restock(ctx context.Context, entryID id.ID, qty types.Quantity, reason lots.RestockReason) (*lots.Entry, error)
	SetState(ctx context.Context, entryID id.ID, target lots.State, note string) (*lots.Entry, error)
	UpdatePrice(ctx context.Context, entryID id.ID, purchase, sale *types.Money) (*lots.Entry, error)
	SetAlert(ctx context.Context, entryID id.ID, t lots.AlertType, active bool, msg string) (*lots.Entry, error)
	Delete(ctx context.Context, entryID id.ID) error
	SummaryForCatalogItem(ctx context.Context, catalogRef id.ID) (*lots.ItemSummary, error)
	GeneralStatistics(ctx context.Context, opts lots.StatsOptions) (*lots.Statistics, error)
	Recompute(ctx context.Context, catalogRef id.ID) (*lots.RecomputeResult, error)
	RecomputeAll(ctx context.Context) ([]lots.RecomputeResult, error)
}

// MovementHistory reads the audit trail of a lot.
type MovementHistory interface {
	History(ctx context.Context, entryID id.ID, limit int) ([]postgres.MovementRecord, error)
}

const (
	defaultListLimit    = 50
	maxListLimit        = 500
	defaultHistoryLimit = 100
)

// LotHandler handles lot entry endpoints.
type LotHandler struct {
	*BaseHandler
	service   LotService
	movements MovementHistory
}

// NewLotHandler creates the handler. movements may be nil, in which case the
// history endpoint answers 404.
func NewLotHandler(service LotService, movements MovementHistory) *LotHandler {
	return &LotHandler{
		BaseHandler: NewBaseHandler(),
		service:     service,
		movements:   movements,
	}
}

// Create records a stock intake.
// POST /lots
func (h *LotHandler) Create(c *gin.Context) {
	var req dto.CreateLotRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if id.IsNil(req.CatalogRef) {
		h.Error(c, apperror.NewInvalidInput("catalogRef is required"))
		return
	}

	entry, err := h.service.CreateEntry(c.Request.Context(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.CreateLotResponse{Entry: entry})
}

// List returns a filtered page of entries.
// GET /lots
func (h *LotHandler) List(c *gin.Context) {
	var q dto.ListLotsQuery
	if !h.BindQuery(c, &q) {
		return
	}

	filter, err := listFilter(q)
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.service.ListEntries(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

func listFilter(q dto.ListLotsQuery) (lots.ListFilter, error) {
	f := lots.ListFilter{
		CreatedBy: q.CreatedBy,
		DateFrom:  q.DateFrom,
		Search:    q.Search,
		OrderBy:   q.OrderBy,
		Limit:     q.Limit,
		Offset:    q.Offset,
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		return f, apperror.NewInvalidInput("offset must not be negative")
	}

	if q.State != "" {
		st := lots.State(q.State)
		if !st.IsValid() {
			return f, apperror.NewInvalidInput("unknown state").WithDetail("state", q.State)
		}
		f.State = &st
	}
	if q.CatalogRef != "" {
		ref, err := id.Parse(q.CatalogRef)
		if err != nil {
			return f, apperror.NewInvalidInput("invalid catalogRef").WithDetail("catalogRef", q.CatalogRef)
		}
		f.CatalogRef = &ref
	}
	if q.DateTo != nil {
		// the whole end day is included
		end := q.DateTo.Add(24*time.Hour - time.Nanosecond)
		f.DateTo = &end
	}
	return f, nil
}

// Get returns one entry.
// GET /lots/:id
func (h *LotHandler) Get(c *gin.Context) {
	entryID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	entry, err := h.service.GetEntry(c.Request.Context(), entryID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, entry)
}

// Consume draws stock from one lot.
// POST /lots/:id/consume
func (h *LotHandler) Consume(c *gin.Context) {
	entryID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.ConsumeRequest
	if !h.BindJSON(c, &req) {
		return
	}

	entry, err := h.service.Consume(c.Request.Context(), entryID, req.Quantity, req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, entry)
}

// Restock returns stock to a lot.
// POST /lots/:id/restock
func (h *LotHandler) Restock(c *gin.Context) {
	entryID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.RestockRequest
	if !h.BindJSON(c, &req) {
		return
	}

	entry, err := h.service.Restock(c.Request.Context(), entryID, req.Quantity, req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, entry)
}

// SetState changes the state administratively.
// PUT /lots/:id/state
func (h *LotHandler) SetState(c *gin.Context) {
	entryID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.SetStateRequest
	if !h.BindJSON(c, &req) {
		return
	}

	entry, err := h.service.SetState(c.Request.Context(), entryID, req.State, req.Note)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, entry)
}

// UpdatePrice edits purchase and sale prices.
// PUT /lots/:id/price
func (h *LotHandler) UpdatePrice(c *gin.Context) {
	entryID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdatePriceRequest
	if !h.BindJSON(c, &req) {
		return
	}

	entry, err := h.service.UpdatePrice(c.Request.Context(), entryID, req.PurchasePrice, req.SalePrice)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, entry)
}

// SetAlert raises or clears a quality or review alert.
// PUT /lots/:id/alerts
func (h *LotHandler) SetAlert(c *gin.Context) {
	entryID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.SetAlertRequest
	if !h.BindJSON(c, &req) {
		return
	}

	entry, err := h.service.SetAlert(c.Request.Context(), entryID, req.Type, req.Active, req.Message)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, entry)
}

// Delete removes an untouched lot.
// DELETE /lots/:id
func (h *LotHandler) Delete(c *gin.Context) {
	entryID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), entryID); err != nil {
		h.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Movements returns the audit trail of a lot, newest first.
// GET /lots/:id/movements
func (h *LotHandler) Movements(c *gin.Context) {
	entryID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	if h.movements == nil {
		h.Error(c, apperror.NewNotFound("movement_log", entryID))
		return
	}

	limit := h.ParseIntQuery(c, "limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultHistoryLimit
	}
	records, err := h.movements.History(c.Request.Context(), entryID, limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewItemsResponse(records))
}

// Statistics returns the ledger-wide overview.
// GET /statistics
func (h *LotHandler) Statistics(c *gin.Context) {
	opts := lots.StatsOptions{ExpiryWindowDays: h.ParseIntQuery(c, "expiryWindowDays", 0)}
	if opts.ExpiryWindowDays < 0 {
		h.Error(c, apperror.NewInvalidInput("expiryWindowDays must not be negative"))
		return
	}

	stats, err := h.service.GeneralStatistics(c.Request.Context(), opts)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, stats)
}

// ItemSummary aggregates the lots of one catalog item.
// GET /items/:catalogRef/summary
func (h *LotHandler) ItemSummary(c *gin.Context) {
	ref, ok := h.ParseID(c, "catalogRef")
	if !ok {
		return
	}
	summary, err := h.service.SummaryForCatalogItem(c.Request.Context(), ref)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, summary)
}

// ConsumeFromItem draws stock across the item's lots in rotation order.
// POST /items/:catalogRef/consume
func (h *LotHandler) ConsumeFromItem(c *gin.Context) {
	ref, ok := h.ParseID(c, "catalogRef")
	if !ok {
		return
	}
	var req dto.ConsumeRequest
	if !h.BindJSON(c, &req) {
		return
	}

	allocs, err := h.service.ConsumeFromItem(c.Request.Context(), ref, req.Quantity, req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ConsumeFromItemResponse{
		CatalogRef:  ref,
		Quantity:    req.Quantity,
		Allocations: allocs,
	})
}

// Recompute rebuilds the product counters of one item.
// POST /items/:catalogRef/recompute
func (h *LotHandler) Recompute(c *gin.Context) {
	ref, ok := h.ParseID(c, "catalogRef")
	if !ok {
		return
	}
	res, err := h.service.Recompute(c.Request.Context(), ref)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}
