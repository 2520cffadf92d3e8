package lots

import (
	"context"
	"time"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

// ListFilter selects lot entries for listing.
type ListFilter struct {
	State      *State
	CatalogRef *id.ID
	// CreatedBy matches the creating user as a substring.
	CreatedBy string
	// DateFrom/DateTo bound the intake date (inclusive).
	DateFrom *time.Time
	DateTo   *time.Time
	// Search matches product name/code, entry number, lot code and supplier.
	Search string

	// OrderBy: "rotation" (default), "-intake_date", "entry_number", "-created_at"
	OrderBy string
	Limit   int
	Offset  int
}

// ListSummary aggregates the filtered set over active entries only.
type ListSummary struct {
	TotalAvailable types.Quantity `json:"totalAvailable"`
	TotalValue     types.Money    `json:"totalValue"`
}

// ListResult contains paginated results with the aggregate summary.
type ListResult struct {
	Items      []*Entry    `json:"items"`
	TotalCount int64       `json:"totalCount"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
	Summary    ListSummary `json:"summary"`
}

// Repository persists lot entries.
type Repository interface {
	// Create inserts the entry. A uniqueness violation surfaces as an
	// apperror DUPLICATE_ENTRY error.
	Create(ctx context.Context, e *Entry) error

	// Update writes the entry when the stored version equals e.Version and
	// increments e.Version. A stale version yields CONCURRENT_MODIFICATION.
	Update(ctx context.Context, e *Entry) error

	// Delete removes the entry at the given version. A stale version yields
	// CONCURRENT_MODIFICATION.
	Delete(ctx context.Context, entryID id.ID, version int) error

	// GetByID returns apperror NotFound when absent.
	GetByID(ctx context.Context, entryID id.ID) (*Entry, error)

	// List applies the filter and pagination.
	List(ctx context.Context, filter ListFilter) ([]*Entry, int64, error)

	// Summarize aggregates available stock and valuation for the filter over
	// active entries.
	Summarize(ctx context.Context, filter ListFilter) (ListSummary, error)

	// ListByCatalog returns the item's entries in the given states ordered by
	// rotation priority then intake date. Empty states means all.
	ListByCatalog(ctx context.Context, catalogRef id.ID, states []State) ([]*Entry, error)

	// ListByStates returns all entries in the given states.
	ListByStates(ctx context.Context, states []State) ([]*Entry, error)

	// CountByState counts entries per state.
	CountByState(ctx context.Context) (map[State]int64, error)

	// CatalogRefs returns the distinct catalog items that have lots.
	CatalogRefs(ctx context.Context) ([]id.ID, error)
}

// MovementKind classifies a ledger movement.
type MovementKind string

const (
	MovementIntake  MovementKind = "intake"
	MovementConsume MovementKind = "consume"
	MovementRestock MovementKind = "restock"
	MovementState   MovementKind = "state"
	MovementPrice   MovementKind = "price"
	MovementDelete  MovementKind = "delete"
	MovementAlert   MovementKind = "alert"
)

// Movement is an audit record of one mutation.
type Movement struct {
	EntryID    id.ID          `json:"entryId"`
	CatalogRef id.ID          `json:"catalogRef"`
	Kind       MovementKind   `json:"kind"`
	Reason     string         `json:"reason,omitempty"`
	Quantity   types.Quantity `json:"quantity"`
	Actor      string         `json:"actor,omitempty"`
	At         time.Time      `json:"at"`
	Snapshot   *Entry         `json:"snapshot,omitempty"`
}

// MovementLog records movements. Failures never roll back the mutation.
type MovementLog interface {
	Record(ctx context.Context, m Movement) error
}

// EventPublisher announces ledger changes to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, m Movement) error
}
