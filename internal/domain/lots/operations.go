package lots

import (
	"context"
	"fmt"

	"lotledger/internal/core/apperror"
	appctx "lotledger/internal/core/context"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/pkg/logger"
)

// Roles allowed to draw from lots that require authorization.
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
)

func authorized(ctx context.Context) bool {
	return appctx.HasAnyRole(ctx, RoleAdmin, RoleSupervisor)
}

// mutate re-reads the entry, applies fn and writes it back with a version
// check, retrying on conflicts up to CASMaxRetries times.
func (s *Service) mutate(ctx context.Context, entryID id.ID, fn func(e *Entry) error) (*Entry, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.CASMaxRetries; attempt++ {
		e, err := s.repo.GetByID(ctx, entryID)
		if err != nil {
			return nil, err
		}

		if err := fn(e); err != nil {
			return nil, err
		}

		now := s.now()
		e.UpdatedAt = now
		if actor := appctx.GetUserID(ctx); actor != "" {
			e.UpdatedBy = actor
		}
		e.refreshAlerts(now, s.cfg.ExpiryWindowDays)

		err = s.repo.Update(ctx, e)
		if err == nil {
			return e, nil
		}
		if !apperror.IsConcurrentModification(err) {
			return nil, fmt.Errorf("update entry: %w", err)
		}

		lastErr = err
		logger.Debug(ctx, "lot version conflict, retrying",
			"entry_id", entryID,
			"attempt", attempt,
		)
	}
	return nil, lastErr
}

// change mutates one lot and enqueues its event in the same transaction. The
// movement log is written after commit.
func (s *Service) change(ctx context.Context, entryID id.ID, kind MovementKind, reason string, qty types.Quantity, fn func(e *Entry) error) (*Entry, error) {
	var (
		e *Entry
		m Movement
	)
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		e, err = s.mutate(ctx, entryID, fn)
		if err != nil {
			return err
		}
		m = s.movement(ctx, e, kind, reason, qty)
		return s.publish(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	s.logMovement(ctx, m)
	return e, nil
}

func checkConsume(ctx context.Context, e *Entry, qty types.Quantity, reason ConsumeReason) error {
	if e.Config.RequiresAuthorization && !authorized(ctx) {
		return apperror.NewForbidden("lot requires authorization to consume").
			WithDetail("entry_id", e.ID.String())
	}
	if reason == ConsumeSale || reason == "" {
		if !e.Config.AllowPartialSale && qty < e.Available {
			return apperror.NewInvalidState("lot must be sold whole", e.State).
				WithDetail("entry_id", e.ID.String()).
				WithDetail("available", e.Available.Float64())
		}
	}
	return nil
}

// Consume draws qty from one lot. The lot must be active with available stock.
func (s *Service) Consume(ctx context.Context, entryID id.ID, qty types.Quantity, reason ConsumeReason) (*Entry, error) {
	if !qty.IsPositive() {
		return nil, apperror.NewInvalidInput("quantity must be positive").
			WithDetail("quantity", qty.Float64())
	}

	e, err := s.change(ctx, entryID, MovementConsume, string(reason), qty, func(e *Entry) error {
		if err := checkConsume(ctx, e, qty, reason); err != nil {
			return err
		}
		return e.applyConsume(qty, reason)
	})
	if err != nil {
		return nil, err
	}

	s.afterConsume(ctx, e, qty, reason)
	return e, nil
}

func (s *Service) afterConsume(ctx context.Context, e *Entry, qty types.Quantity, reason ConsumeReason) {
	sold := types.Quantity(0)
	if reason == ConsumeSale || reason == "" {
		sold = qty
	}
	s.syncProduct(ctx, e.ProductRef, -qty, sold)

	logger.Info(ctx, "lot consumed",
		"entry_id", e.ID,
		"entry_number", e.EntryNumber,
		"quantity", qty,
		"reason", reason,
		"available", e.Available,
		"state", e.State,
	)
}

// Allocation is the share of a consumeFromItem request drawn from one lot.
type Allocation struct {
	EntryID     id.ID          `json:"entryId"`
	EntryNumber string         `json:"entryNumber"`
	Quantity    types.Quantity `json:"quantity"`
	Remaining   types.Quantity `json:"remaining"`
	State       State          `json:"state"`
}

// ConsumeFromItem draws qty from the item's active lots in rotation order,
// splitting across lots. Either the whole quantity is consumed or nothing is.
func (s *Service) ConsumeFromItem(ctx context.Context, catalogRef id.ID, qty types.Quantity, reason ConsumeReason) ([]Allocation, error) {
	if !qty.IsPositive() {
		return nil, apperror.NewInvalidInput("quantity must be positive").
			WithDetail("quantity", qty.Float64())
	}

	var (
		allocations []Allocation
		touched     []*Entry
		moves       []Movement
	)
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		allocations, touched, moves = nil, nil, nil

		candidates, err := s.repo.ListByCatalog(ctx, catalogRef, []State{StateActive})
		if err != nil {
			return fmt.Errorf("list lots: %w", err)
		}

		var total types.Quantity
		usable := candidates[:0]
		for _, e := range candidates {
			if !e.IsConsumable() {
				continue
			}
			if e.Config.RequiresAuthorization && !authorized(ctx) {
				continue
			}
			usable = append(usable, e)
			total += e.Available
		}
		if total < qty {
			return apperror.NewInsufficientStock(catalogRef.String(), qty.Float64(), total.Float64()).
				WithDetail("lots", len(usable))
		}

		remaining := qty
		for _, candidate := range usable {
			if remaining.IsZero() {
				break
			}
			take := types.Min(remaining, candidate.Available)
			if !candidate.Config.AllowPartialSale && take != candidate.Available && (reason == ConsumeSale || reason == "") {
				continue
			}

			e, err := s.mutate(ctx, candidate.ID, func(e *Entry) error {
				return e.applyConsume(take, reason)
			})
			if err != nil {
				return err
			}
			m := s.movement(ctx, e, MovementConsume, string(reason), take)
			if err := s.publish(ctx, m); err != nil {
				return err
			}

			moves = append(moves, m)
			allocations = append(allocations, Allocation{
				EntryID:     e.ID,
				EntryNumber: e.EntryNumber,
				Quantity:    take,
				Remaining:   e.Available,
				State:       e.State,
			})
			touched = append(touched, e)
			remaining -= take
		}

		if remaining.IsPositive() {
			// whole-sale-only lots could not cover the rest
			return apperror.NewInsufficientStock(catalogRef.String(), qty.Float64(), (qty - remaining).Float64()).
				WithDetail("reason", "remaining lots must be sold whole")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, e := range touched {
		s.logMovement(ctx, moves[i])
		s.afterConsume(ctx, e, allocations[i].Quantity, reason)
	}
	return allocations, nil
}

// Restock returns qty to a lot. The resulting available stock may not exceed
// initial - sold + returned.
func (s *Service) Restock(ctx context.Context, entryID id.ID, qty types.Quantity, reason RestockReason) (*Entry, error) {
	if !qty.IsPositive() {
		return nil, apperror.NewInvalidInput("quantity must be positive").
			WithDetail("quantity", qty.Float64())
	}

	e, err := s.change(ctx, entryID, MovementRestock, string(reason), qty, func(e *Entry) error {
		return e.applyRestock(qty, reason)
	})
	if err != nil {
		return nil, err
	}

	sold := types.Quantity(0)
	if reason == RestockReturn || reason == "" {
		sold = -qty
	}
	s.syncProduct(ctx, e.ProductRef, qty, sold)

	logger.Info(ctx, "lot restocked",
		"entry_id", e.ID,
		"entry_number", e.EntryNumber,
		"quantity", qty,
		"reason", reason,
		"available", e.Available,
	)
	return e, nil
}

// SetState applies an administrative state change.
func (s *Service) SetState(ctx context.Context, entryID id.ID, target State, note string) (*Entry, error) {
	var from State
	e, err := s.change(ctx, entryID, MovementState, note, 0, func(e *Entry) error {
		from = e.State
		return e.applyState(target)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "lot state changed",
		"entry_id", e.ID,
		"from", from,
		"to", e.State,
		"note", note,
	)
	return e, nil
}

// UpdatePrice edits prices. A new purchase price recomputes totalCost.
func (s *Service) UpdatePrice(ctx context.Context, entryID id.ID, purchase, sale *types.Money) (*Entry, error) {
	if purchase == nil && sale == nil {
		return nil, apperror.NewInvalidInput("nothing to update")
	}
	if purchase != nil && !purchase.IsPositive() {
		return nil, apperror.NewInvalidInput("purchase price must be positive")
	}
	if sale != nil && sale.IsNegative() {
		return nil, apperror.NewInvalidInput("sale price must not be negative")
	}

	e, err := s.change(ctx, entryID, MovementPrice, "", 0, func(e *Entry) error {
		if purchase != nil {
			e.PurchasePrice = *purchase
			e.TotalCost = e.Initial.Mul(*purchase)
		}
		if sale != nil {
			v := *sale
			e.SalePrice = &v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// SetAlert raises or clears a manual quality or review alert on a lot.
// Raising an alert that is already active replaces its message.
func (s *Service) SetAlert(ctx context.Context, entryID id.ID, t AlertType, active bool, msg string) (*Entry, error) {
	if !authorized(ctx) {
		return nil, apperror.NewForbidden("manual alerts require a supervisor")
	}
	e, err := s.change(ctx, entryID, MovementAlert, string(t), 0, func(e *Entry) error {
		return e.applyAlert(t, active, msg, s.now())
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "lot alert set",
		"entry_id", e.ID,
		"type", t,
		"active", active,
	)
	return e, nil
}

// Delete removes a lot that was never touched (available == initial) and
// reverses the stock it added to the product view.
func (s *Service) Delete(ctx context.Context, entryID id.ID) error {
	var (
		deleted *Entry
		m       Movement
	)
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetByID(ctx, entryID)
		if err != nil {
			return err
		}
		if e.Available != e.Initial || e.Reserved != 0 || e.Sold != 0 || e.Lost != 0 || e.Returned != 0 {
			return apperror.NewInvalidState("only untouched lots can be deleted", e.State).
				WithDetail("entry_id", e.ID.String()).
				WithDetail("initial", e.Initial.Float64()).
				WithDetail("available", e.Available.Float64())
		}

		if err := s.repo.Delete(ctx, e.ID, e.Version); err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}
		if e.ProductRef != nil {
			if err := s.products.AdjustStock(ctx, *e.ProductRef, -e.Initial, 0); err != nil {
				return fmt.Errorf("reverse product stock: %w", err)
			}
		}
		deleted = e
		m = s.movement(ctx, e, MovementDelete, "", e.Initial)
		return s.publish(ctx, m)
	})
	if err != nil {
		return err
	}

	s.logMovement(ctx, m)
	logger.Info(ctx, "lot entry deleted",
		"entry_id", deleted.ID,
		"entry_number", deleted.EntryNumber,
	)
	return nil
}
