package lots

import (
	"context"
	"fmt"
	"time"

	"lotledger/internal/core/apperror"
	appctx "lotledger/internal/core/context"
	"lotledger/internal/core/id"
	"lotledger/internal/core/numerator"
	"lotledger/internal/core/tx"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/catalog"
	"lotledger/pkg/logger"
)

// DefaultExpiryWindowDays is the expiry alert window for lots without their own.
const DefaultExpiryWindowDays = 7

// DuplicateHandler heals uniqueness violations and retries the failed write once.
type DuplicateHandler interface {
	IsDuplicateKeyError(err error) bool
	HandleDuplicateErrorAndRetry(ctx context.Context, err error, retry func(ctx context.Context) error) error
}

// Deps are the collaborators of the ledger service. Duplicates, Movements and
// Events are optional.
type Deps struct {
	Repo       Repository
	Items      catalog.ItemRepository
	Products   catalog.ProductRepository
	Numerator  numerator.Generator
	TxManager  tx.Manager
	Duplicates DuplicateHandler
	Movements  MovementLog
	Events     EventPublisher
}

// ServiceConfig tunes the ledger service.
type ServiceConfig struct {
	// ExpiryWindowDays applies to lots that set no ExpiryAlertDays.
	ExpiryWindowDays int
	// CASMaxRetries bounds re-read/re-apply attempts on version conflicts.
	CASMaxRetries int
	// Location defines the calendar day used for entry numbers.
	Location *time.Location
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ExpiryWindowDays: DefaultExpiryWindowDays,
		CASMaxRetries:    5,
		Location:         time.UTC,
	}
}

// Service is the lot ledger.
type Service struct {
	repo       Repository
	items      catalog.ItemRepository
	products   catalog.ProductRepository
	numerator  numerator.Generator
	txm        tx.Manager
	duplicates DuplicateHandler
	movements  MovementLog
	events     EventPublisher

	cfg ServiceConfig
	now func() time.Time
}

// NewService creates the lot ledger service.
func NewService(deps Deps, cfg ServiceConfig) *Service {
	if cfg.ExpiryWindowDays <= 0 {
		cfg.ExpiryWindowDays = DefaultExpiryWindowDays
	}
	if cfg.CASMaxRetries <= 0 {
		cfg.CASMaxRetries = 5
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	txm := deps.TxManager
	if txm == nil {
		txm = tx.Nop{}
	}
	return &Service{
		repo:       deps.Repo,
		items:      deps.Items,
		products:   deps.Products,
		numerator:  deps.Numerator,
		txm:        txm,
		duplicates: deps.Duplicates,
		movements:  deps.Movements,
		events:     deps.Events,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput describes a stock intake.
type CreateInput struct {
	CatalogRef    id.ID
	ProductRef    *id.ID
	Quantity      types.Quantity
	PurchasePrice types.Money
	SalePrice     *types.Money
	LotCode       string
	Supplier      string
	IntakeDate    *time.Time
	ExpiryDate    *time.Time
	Config        *Config
	// RotationPriority defaults to the intake date epoch.
	RotationPriority *int64
}

func (in CreateInput) validate() error {
	if id.IsNil(in.CatalogRef) {
		return apperror.NewInvalidInput("catalog reference is required")
	}
	if !in.Quantity.IsPositive() {
		return apperror.NewInvalidInput("quantity must be positive").
			WithDetail("quantity", in.Quantity.Float64())
	}
	if !in.PurchasePrice.IsPositive() {
		return apperror.NewInvalidInput("purchase price must be positive").
			WithDetail("purchase_price", in.PurchasePrice.String())
	}
	if in.SalePrice != nil && in.SalePrice.IsNegative() {
		return apperror.NewInvalidInput("sale price must not be negative")
	}
	if in.ExpiryDate != nil && in.IntakeDate != nil && in.ExpiryDate.Before(*in.IntakeDate) {
		return apperror.NewInvalidInput("expiry date precedes intake date")
	}
	if in.Config != nil && in.Config.MinimumStock.IsNegative() {
		return apperror.NewInvalidInput("minimum stock must not be negative")
	}
	return nil
}

// CreateEntry records a new lot with available = initial = quantity.
// A uniqueness violation on insert is healed by the duplicate handler and the
// insert is retried exactly once with a fresh entry number.
func (s *Service) CreateEntry(ctx context.Context, in CreateInput) (*Entry, error) {
	user := appctx.GetUser(ctx)
	if user == nil || user.UserID == "" {
		return nil, apperror.NewInvalidInput("creating user is required")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	item, err := s.items.GetByID(ctx, in.CatalogRef)
	if err != nil {
		return nil, err
	}
	if !item.Active {
		return nil, apperror.NewNotFound("catalog_item", in.CatalogRef.String()).
			WithDetail("reason", "inactive")
	}

	productRef := in.ProductRef
	if productRef == nil {
		productRef = s.lookupProduct(ctx, in.CatalogRef)
	}

	now := s.now()
	intake := now
	if in.IntakeDate != nil {
		intake = in.IntakeDate.UTC()
	}
	cfg := DefaultConfig()
	if in.Config != nil {
		cfg = *in.Config
	}
	priority := intake.Unix()
	if in.RotationPriority != nil {
		priority = *in.RotationPriority
	}

	entry := &Entry{
		ID:               id.New(),
		Version:          1,
		CatalogRef:       item.ID,
		ProductRef:       productRef,
		ProductCode:      item.Code,
		ProductName:      item.Name,
		LotCode:          in.LotCode,
		Supplier:         in.Supplier,
		IntakeDate:       intake,
		ExpiryDate:       in.ExpiryDate,
		Initial:          in.Quantity,
		Available:        in.Quantity,
		PurchasePrice:    in.PurchasePrice,
		SalePrice:        in.SalePrice,
		TotalCost:        in.Quantity.Mul(in.PurchasePrice),
		State:            StateActive,
		RotationPriority: priority,
		Alerts:           Alerts{},
		Config:           cfg,
		CreatedBy:        user.UserID,
		CreatedByEmail:   user.Email,
		CreatedByRole:    user.Role,
		UpdatedBy:        user.UserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	entry.refreshAlerts(now, s.cfg.ExpiryWindowDays)

	// the number is drawn outside the transaction so a rollback never reuses it
	insert := func(ctx context.Context) error {
		number, err := s.numerator.GetNextNumber(ctx, numerator.LotEntryConfig(), now.In(s.cfg.Location))
		if err != nil {
			return fmt.Errorf("next entry number: %w", err)
		}
		entry.EntryNumber = number
		return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := s.repo.Create(ctx, entry); err != nil {
				return err
			}
			return s.publish(ctx, s.movement(ctx, entry, MovementIntake, "", entry.Initial))
		})
	}

	err = insert(ctx)
	if err != nil && s.duplicates != nil && s.duplicates.IsDuplicateKeyError(err) {
		logger.Warn(ctx, "duplicate key on lot insert, reconciling",
			"entry_number", entry.EntryNumber,
			"error", err,
		)
		err = s.duplicates.HandleDuplicateErrorAndRetry(ctx, err, insert)
	}
	if err != nil {
		return nil, err
	}

	s.syncProduct(ctx, entry.ProductRef, entry.Initial, 0)
	s.logMovement(ctx, s.movement(ctx, entry, MovementIntake, "", entry.Initial))

	logger.Info(ctx, "lot entry created",
		"entry_id", entry.ID,
		"entry_number", entry.EntryNumber,
		"catalog_ref", entry.CatalogRef,
		"quantity", entry.Initial,
	)

	return entry, nil
}

// GetEntry returns one lot entry.
func (s *Service) GetEntry(ctx context.Context, entryID id.ID) (*Entry, error) {
	return s.repo.GetByID(ctx, entryID)
}

// ListEntries returns a page of entries with the aggregate summary of the
// filtered set. Summary and page are separate reads without a shared snapshot.
func (s *Service) ListEntries(ctx context.Context, filter ListFilter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.State != nil && !filter.State.IsValid() {
		return nil, apperror.NewInvalidInput(fmt.Sprintf("unknown state %q", *filter.State))
	}

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	summary, err := s.repo.Summarize(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("summarize entries: %w", err)
	}

	return &ListResult{
		Items:      items,
		TotalCount: total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
		Summary:    summary,
	}, nil
}

func (s *Service) lookupProduct(ctx context.Context, catalogRef id.ID) *id.ID {
	p, err := s.products.FindByCatalogRef(ctx, catalogRef)
	if err != nil {
		if !apperror.IsNotFound(err) {
			logger.Warn(ctx, "product lookup failed", "catalog_ref", catalogRef, "error", err)
		}
		return nil
	}
	return &p.ID
}

// syncProduct applies stock deltas to the product view. Best-effort: drift is
// corrected by Recompute.
func (s *Service) syncProduct(ctx context.Context, productRef *id.ID, onHand, sold types.Quantity) {
	if productRef == nil || (onHand == 0 && sold == 0) {
		return
	}
	if err := s.products.AdjustStock(ctx, *productRef, onHand, sold); err != nil {
		logger.Warn(ctx, "product stock sync failed",
			"product_id", *productRef,
			"on_hand_delta", onHand,
			"sold_delta", sold,
			"error", err,
		)
	}
}

func (s *Service) movement(ctx context.Context, e *Entry, kind MovementKind, reason string, qty types.Quantity) Movement {
	snapshot := *e
	return Movement{
		EntryID:    e.ID,
		CatalogRef: e.CatalogRef,
		Kind:       kind,
		Reason:     reason,
		Quantity:   qty,
		Actor:      appctx.GetUserID(ctx),
		At:         s.now(),
		Snapshot:   &snapshot,
	}
}

// publish enqueues the lot event. It must run in the mutation's transaction:
// a failure rolls the mutation back.
func (s *Service) publish(ctx context.Context, m Movement) error {
	if s.events == nil {
		return nil
	}
	if err := s.events.Publish(ctx, m); err != nil {
		return fmt.Errorf("enqueue %s event: %w", m.Kind, err)
	}
	return nil
}

// logMovement writes the audit log after commit. Best-effort.
func (s *Service) logMovement(ctx context.Context, m Movement) {
	if s.movements == nil {
		return
	}
	if err := s.movements.Record(ctx, m); err != nil {
		logger.Warn(ctx, "movement log failed", "entry_id", m.EntryID, "kind", m.Kind, "error", err)
	}
}
