// Package lots implements the inventory lot ledger: one record per physical
// intake batch, with quantity buckets, a small state machine and alerting.
package lots

import (
	"fmt"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

// State is the lifecycle state of a lot.
type State string

const (
	StateActive        State = "active"
	StateDepleted      State = "depleted"
	StateExpired       State = "expired"
	StateHeld          State = "held"
	StateFullyReserved State = "fully_reserved"
	StateInactive      State = "inactive"
)

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	switch s {
	case StateActive, StateDepleted, StateExpired, StateHeld, StateFullyReserved, StateInactive:
		return true
	}
	return false
}

// Config holds per-lot alerting and sales settings.
type Config struct {
	AllowPartialSale      bool           `json:"allowPartialSale"`
	// ExpiryAlertDays of 0 uses the service expiry window.
	ExpiryAlertDays       int            `json:"expiryAlertDays"`
	MinimumStock          types.Quantity `json:"minimumStock"`
	RequiresAuthorization bool           `json:"requiresAuthorization"`
}

// DefaultConfig returns the settings applied when the caller passes none.
func DefaultConfig() Config {
	return Config{
		AllowPartialSale: true,
	}
}

// Entry is a lot entry: the persisted unit of stock.
type Entry struct {
	ID          id.ID  `db:"id" json:"id"`
	Version     int    `db:"version" json:"version"`
	EntryNumber string `db:"entry_number" json:"entryNumber"`

	CatalogRef id.ID  `db:"catalog_ref" json:"catalogRef"`
	ProductRef *id.ID `db:"product_ref" json:"productRef,omitempty"`

	// Copied at creation, not re-synced.
	ProductCode string `db:"product_code" json:"productCode"`
	ProductName string `db:"product_name" json:"productName"`

	LotCode    string     `db:"lot_code" json:"lotCode,omitempty"`
	Supplier   string     `db:"supplier" json:"supplier,omitempty"`
	IntakeDate time.Time  `db:"intake_date" json:"intakeDate"`
	ExpiryDate *time.Time `db:"expiry_date" json:"expiryDate,omitempty"`

	Initial   types.Quantity `db:"qty_initial" json:"initial"`
	Available types.Quantity `db:"qty_available" json:"available"`
	Reserved  types.Quantity `db:"qty_reserved" json:"reserved"`
	Sold      types.Quantity `db:"qty_sold" json:"sold"`
	Returned  types.Quantity `db:"qty_returned" json:"returned"`
	Lost      types.Quantity `db:"qty_lost" json:"lost"`

	PurchasePrice types.Money  `db:"purchase_price" json:"purchasePrice"`
	SalePrice     *types.Money `db:"sale_price" json:"salePrice,omitempty"`
	TotalCost     types.Money  `db:"total_cost" json:"totalCost"`

	State            State `db:"state" json:"state"`
	RotationPriority int64 `db:"rotation_priority" json:"rotationPriority"`

	Alerts      Alerts     `db:"alerts" json:"alerts"`
	NextAlertAt *time.Time `db:"next_alert_at" json:"nextAlertAt,omitempty"`
	Config      Config     `db:"config" json:"config"`

	CreatedBy      string    `db:"created_by" json:"createdBy"`
	CreatedByEmail string    `db:"created_by_email" json:"createdByEmail,omitempty"`
	CreatedByRole  string    `db:"created_by_role" json:"createdByRole,omitempty"`
	UpdatedBy      string    `db:"updated_by" json:"updatedBy,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Validate checks the quantity invariants of a lot at rest.
func (e *Entry) Validate() error {
	for name, q := range map[string]types.Quantity{
		"initial": e.Initial, "available": e.Available, "reserved": e.Reserved,
		"sold": e.Sold, "returned": e.Returned, "lost": e.Lost,
	} {
		if q.IsNegative() {
			return invariantError(e, fmt.Sprintf("%s quantity is negative", name))
		}
	}
	if e.Available > e.Initial {
		return invariantError(e, "available exceeds initial quantity")
	}
	if e.Available+e.Reserved+e.Sold+e.Lost-e.Returned > e.Initial {
		return invariantError(e, "quantity buckets exceed initial quantity")
	}
	if e.Available > e.Initial-e.Sold+e.Returned {
		return invariantError(e, "available exceeds initial minus net sold")
	}
	return nil
}

func invariantError(e *Entry, msg string) error {
	return apperror.NewInvalidState(msg, e.State).
		WithDetail("entry_id", e.ID.String()).
		WithDetail("initial", e.Initial.Float64()).
		WithDetail("available", e.Available.Float64()).
		WithDetail("reserved", e.Reserved.Float64()).
		WithDetail("sold", e.Sold.Float64()).
		WithDetail("returned", e.Returned.Float64()).
		WithDetail("lost", e.Lost.Float64())
}

// IsConsumable reports whether stock can be drawn from the lot.
func (e *Entry) IsConsumable() bool {
	return e.State == StateActive && e.Available.IsPositive()
}

// Valuation is available stock at purchase price.
func (e *Entry) Valuation() types.Money {
	return e.Available.Mul(e.PurchasePrice)
}

// ExpiresWithin reports whether the lot expires within its alert window.
// The lot's own ExpiryAlertDays wins over defaultDays when set.
func (e *Entry) ExpiresWithin(now time.Time, defaultDays int) bool {
	if e.ExpiryDate == nil {
		return false
	}
	days := e.Config.ExpiryAlertDays
	if days <= 0 {
		days = defaultDays
	}
	return !e.ExpiryDate.After(now.AddDate(0, 0, days))
}

// IsLowStock reports whether available stock is at or below the configured minimum.
func (e *Entry) IsLowStock() bool {
	return e.Config.MinimumStock.IsPositive() && e.Available <= e.Config.MinimumStock
}

// ConsumeReason selects the bucket that receives consumed stock.
type ConsumeReason string

const (
	ConsumeSale        ConsumeReason = "sale"
	ConsumeLoss        ConsumeReason = "loss"
	ConsumeReservation ConsumeReason = "reservation"
)

// RestockReason selects the bucket that stock returns from.
type RestockReason string

const (
	RestockReturn             RestockReason = "return"
	RestockReservationRelease RestockReason = "reservation_release"
	RestockLossRecovered      RestockReason = "loss_recovered"
)

// applyConsume draws qty from available. It does not persist.
func (e *Entry) applyConsume(qty types.Quantity, reason ConsumeReason) error {
	if !e.IsConsumable() {
		return apperror.NewInvalidState("lot is not consumable", e.State).
			WithDetail("entry_id", e.ID.String()).
			WithDetail("available", e.Available.Float64())
	}
	if qty > e.Available {
		return apperror.NewInsufficientStock(e.ID.String(), qty.Float64(), e.Available.Float64()).
			WithDetail("entry_number", e.EntryNumber)
	}

	switch reason {
	case ConsumeSale, "":
		e.Sold += qty
	case ConsumeLoss:
		e.Lost += qty
	case ConsumeReservation:
		e.Reserved += qty
	default:
		return apperror.NewInvalidInput(fmt.Sprintf("unknown consume reason %q", reason))
	}
	e.Available -= qty

	if e.Available.IsZero() {
		e.State = StateDepleted
	}
	return e.Validate()
}

// applyRestock returns qty to available. It does not persist.
func (e *Entry) applyRestock(qty types.Quantity, reason RestockReason) error {
	switch reason {
	case RestockReturn, "":
		// only sold stock can come back as a return
		if qty > e.Sold-e.Returned {
			return apperror.NewInvalidState("return exceeds net sold quantity", e.State).
				WithDetail("sold", e.Sold.Float64()).
				WithDetail("returned", e.Returned.Float64()).
				WithDetail("requested", qty.Float64())
		}
		e.Returned += qty
	case RestockReservationRelease:
		if qty > e.Reserved {
			return apperror.NewInvalidState("release exceeds reserved quantity", e.State).
				WithDetail("reserved", e.Reserved.Float64()).
				WithDetail("requested", qty.Float64())
		}
		e.Reserved -= qty
	case RestockLossRecovered:
		if qty > e.Lost {
			return apperror.NewInvalidState("recovery exceeds lost quantity", e.State).
				WithDetail("lost", e.Lost.Float64()).
				WithDetail("requested", qty.Float64())
		}
		e.Lost -= qty
	default:
		return apperror.NewInvalidInput(fmt.Sprintf("unknown restock reason %q", reason))
	}
	e.Available += qty

	// depleted holds only while available is zero
	if e.State == StateDepleted && e.Available.IsPositive() {
		e.State = StateActive
	}
	return e.Validate()
}

// applyState performs an administrative state change. It does not persist.
func (e *Entry) applyState(target State) error {
	if !target.IsValid() {
		return apperror.NewInvalidInput(fmt.Sprintf("unknown state %q", target))
	}
	switch target {
	case StateDepleted:
		return apperror.NewInvalidState("depleted is set automatically when stock runs out", e.State)
	case StateActive:
		if !e.Available.IsPositive() {
			return apperror.NewInvalidState("cannot reactivate a lot without available stock", e.State).
				WithDetail("entry_id", e.ID.String())
		}
	}
	e.State = target
	return nil
}
