package lots

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/pkg/logger"
)

// LotAlert is an alert together with the lot that raised it.
type LotAlert struct {
	EntryID     id.ID  `json:"entryId"`
	EntryNumber string `json:"entryNumber"`
	Alert
}

// ItemSummary aggregates the non-inactive lots of one catalog item.
type ItemSummary struct {
	CatalogRef     id.ID          `json:"catalogRef"`
	TotalAvailable types.Quantity `json:"totalAvailable"`
	TotalReserved  types.Quantity `json:"totalReserved"`
	TotalValue     types.Money    `json:"totalValue"`
	LotCount       int            `json:"lotCount"`
	NextExpiry     *time.Time     `json:"nextExpiry,omitempty"`
	ActiveAlerts   []LotAlert     `json:"activeAlerts"`
}

var nonInactiveStates = []State{StateActive, StateDepleted, StateExpired, StateHeld, StateFullyReserved}

// SummaryForCatalogItem aggregates stock, value, expiry and alerts of an item.
func (s *Service) SummaryForCatalogItem(ctx context.Context, catalogRef id.ID) (*ItemSummary, error) {
	entries, err := s.repo.ListByCatalog(ctx, catalogRef, nonInactiveStates)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}

	now := s.now()
	summary := &ItemSummary{
		CatalogRef:   catalogRef,
		TotalValue:   decimal.Zero,
		LotCount:     len(entries),
		ActiveAlerts: []LotAlert{},
	}
	for _, e := range entries {
		summary.TotalAvailable += e.Available
		summary.TotalReserved += e.Reserved
		summary.TotalValue = summary.TotalValue.Add(e.Valuation())

		if e.ExpiryDate != nil && e.Available.IsPositive() {
			if summary.NextExpiry == nil || e.ExpiryDate.Before(*summary.NextExpiry) {
				exp := *e.ExpiryDate
				summary.NextExpiry = &exp
			}
		}

		// evaluated against now, the stored alerts may predate the window
		e.refreshAlerts(now, s.cfg.ExpiryWindowDays)
		for _, a := range e.Alerts.ActiveAlerts() {
			summary.ActiveAlerts = append(summary.ActiveAlerts, LotAlert{
				EntryID:     e.ID,
				EntryNumber: e.EntryNumber,
				Alert:       a,
			})
		}
	}
	return summary, nil
}

// StatsOptions tunes GeneralStatistics.
type StatsOptions struct {
	// ExpiryWindowDays overrides the service default for lots without their own window.
	ExpiryWindowDays int
}

// Counts breaks entries down by state.
type Counts struct {
	Total    int64           `json:"total"`
	Active   int64           `json:"active"`
	Inactive int64           `json:"inactive"`
	ByState  map[State]int64 `json:"byState"`
}

// LotRef identifies a lot in statistics lists.
type LotRef struct {
	EntryID      id.ID          `json:"entryId"`
	EntryNumber  string         `json:"entryNumber"`
	CatalogRef   id.ID          `json:"catalogRef"`
	ProductName  string         `json:"productName"`
	Available    types.Quantity `json:"available"`
	MinimumStock types.Quantity `json:"minimumStock,omitempty"`
	ExpiryDate   *time.Time     `json:"expiryDate,omitempty"`
	DaysLeft     *int           `json:"daysLeft,omitempty"`
}

// StatisticsAlerts lists lots needing attention.
type StatisticsAlerts struct {
	ExpiringSoon []LotRef `json:"proximosVencer"`
	LowStock     []LotRef `json:"stockBajo"`
}

// Statistics is the ledger-wide overview.
type Statistics struct {
	Counts           Counts           `json:"counts"`
	Valuation        types.Money      `json:"valuation"`
	ItemsInStock     int              `json:"itemsInStock"`
	ExpiryWindowDays int              `json:"expiryWindowDays"`
	Alerts           StatisticsAlerts `json:"alerts"`
	GeneratedAt      time.Time        `json:"generatedAt"`
}

func refOf(e *Entry, now time.Time) LotRef {
	ref := LotRef{
		EntryID:      e.ID,
		EntryNumber:  e.EntryNumber,
		CatalogRef:   e.CatalogRef,
		ProductName:  e.ProductName,
		Available:    e.Available,
		MinimumStock: e.Config.MinimumStock,
		ExpiryDate:   e.ExpiryDate,
	}
	if e.ExpiryDate != nil {
		days := int(e.ExpiryDate.Sub(now).Hours() / 24)
		ref.DaysLeft = &days
	}
	return ref
}

// GeneralStatistics computes counts, valuation over active lots, the number of
// items with stock, and the expiring-soon and low-stock lists. Its reads are
// not taken from one snapshot.
func (s *Service) GeneralStatistics(ctx context.Context, opts StatsOptions) (*Statistics, error) {
	window := opts.ExpiryWindowDays
	if window <= 0 {
		window = s.cfg.ExpiryWindowDays
	}

	byState, err := s.repo.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("count lots: %w", err)
	}
	active, err := s.repo.ListByStates(ctx, []State{StateActive})
	if err != nil {
		return nil, fmt.Errorf("list active lots: %w", err)
	}

	now := s.now()
	stats := &Statistics{
		Counts: Counts{
			Active:   byState[StateActive],
			Inactive: byState[StateInactive],
			ByState:  byState,
		},
		Valuation:        decimal.Zero,
		ExpiryWindowDays: window,
		Alerts: StatisticsAlerts{
			ExpiringSoon: []LotRef{},
			LowStock:     []LotRef{},
		},
		GeneratedAt: now,
	}
	for _, n := range byState {
		stats.Counts.Total += n
	}

	inStock := make(map[id.ID]struct{})
	for _, e := range active {
		stats.Valuation = stats.Valuation.Add(e.Valuation())
		if e.Available.IsPositive() {
			inStock[e.CatalogRef] = struct{}{}
		}
		if e.Available.IsPositive() && e.ExpiresWithin(now, window) {
			stats.Alerts.ExpiringSoon = append(stats.Alerts.ExpiringSoon, refOf(e, now))
		}
		if e.IsLowStock() {
			stats.Alerts.LowStock = append(stats.Alerts.LowStock, refOf(e, now))
		}
	}
	stats.ItemsInStock = len(inStock)

	sort.Slice(stats.Alerts.ExpiringSoon, func(i, j int) bool {
		return stats.Alerts.ExpiringSoon[i].ExpiryDate.Before(*stats.Alerts.ExpiringSoon[j].ExpiryDate)
	})
	return stats, nil
}

// RecomputeResult reports a product counter rebuild.
type RecomputeResult struct {
	CatalogRef     id.ID          `json:"catalogRef"`
	ProductID      id.ID          `json:"productId"`
	QuantityOnHand types.Quantity `json:"quantityOnHand"`
	QuantitySold   types.Quantity `json:"quantitySold"`
	Drift          types.Quantity `json:"drift"`
}

// Recompute rebuilds the product's denormalized counters from its lots:
// on hand is the available stock of non-inactive lots, sold is sold minus returned.
func (s *Service) Recompute(ctx context.Context, catalogRef id.ID) (*RecomputeResult, error) {
	product, err := s.products.FindByCatalogRef(ctx, catalogRef)
	if err != nil {
		return nil, err
	}

	entries, err := s.repo.ListByCatalog(ctx, catalogRef, nil)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}

	var onHand, sold types.Quantity
	for _, e := range entries {
		if e.State != StateInactive {
			onHand += e.Available
		}
		sold += e.Sold - e.Returned
	}

	res := &RecomputeResult{
		CatalogRef:     catalogRef,
		ProductID:      product.ID,
		QuantityOnHand: onHand,
		QuantitySold:   sold,
		Drift:          product.QuantityOnHand - onHand,
	}
	if product.QuantityOnHand == onHand && product.QuantitySold == sold {
		return res, nil
	}

	if err := s.products.SetStock(ctx, product.ID, onHand, sold); err != nil {
		return nil, fmt.Errorf("set product stock: %w", err)
	}
	logger.Info(ctx, "product stock recomputed",
		"catalog_ref", catalogRef,
		"product_id", product.ID,
		"on_hand", onHand,
		"sold", sold,
		"drift", res.Drift,
	)
	return res, nil
}

// RecomputeAll runs Recompute for every catalog item that has lots. Items
// without a product view are skipped.
func (s *Service) RecomputeAll(ctx context.Context) ([]RecomputeResult, error) {
	refs, err := s.repo.CatalogRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog refs: %w", err)
	}

	var (
		results []RecomputeResult
		errs    []error
	)
	for _, ref := range refs {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := s.Recompute(ctx, ref)
		if err != nil {
			if apperror.IsNotFound(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("recompute %s: %w", ref, err))
			continue
		}
		results = append(results, *res)
	}
	return results, errors.Join(errs...)
}

// RefreshDueAlerts persists alerts on active lots whose cached next alert
// time has passed. Returns the number of lots updated.
func (s *Service) RefreshDueAlerts(ctx context.Context) (int, error) {
	active, err := s.repo.ListByStates(ctx, []State{StateActive})
	if err != nil {
		return 0, fmt.Errorf("list active lots: %w", err)
	}

	now := s.now()
	updated := 0
	for _, e := range active {
		if e.NextAlertAt == nil || e.NextAlertAt.After(now) {
			continue
		}
		if _, err := s.mutate(ctx, e.ID, func(*Entry) error { return nil }); err != nil {
			logger.Warn(ctx, "alert refresh failed", "entry_id", e.ID, "error", err)
			continue
		}
		updated++
	}
	return updated, nil
}
