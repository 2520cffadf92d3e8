package lots

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"lotledger/internal/core/apperror"
	appctx "lotledger/internal/core/context"
	"lotledger/internal/core/id"
	"lotledger/internal/core/numerator"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/catalog"
)

func clone(e *Entry) *Entry {
	c := *e
	c.Alerts = append(Alerts(nil), e.Alerts...)
	return &c
}

type memRepo struct {
	mu      sync.Mutex
	entries map[id.ID]*Entry

	// conflicts makes the next n updates fail as stale.
	conflicts int
	updates   int
}

func newMemRepo() *memRepo {
	return &memRepo{entries: make(map[id.ID]*Entry)}
}

func (r *memRepo) Create(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.entries {
		if x.EntryNumber == e.EntryNumber {
			return apperror.NewDuplicate("lot_entry", "entry_number", e.EntryNumber).
				WithDetail("constraint", "lot_entries_entry_number_key").
				WithDetail("key", map[string]string{"entry_number": e.EntryNumber})
		}
	}
	r.entries[e.ID] = clone(e)
	return nil
}

func (r *memRepo) Update(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	cur, ok := r.entries[e.ID]
	if !ok {
		return apperror.NewNotFound("lot_entry", e.ID)
	}
	if r.conflicts > 0 {
		r.conflicts--
		cur.Version++
		return apperror.NewConcurrentModification("lot_entry", e.ID)
	}
	if cur.Version != e.Version {
		return apperror.NewConcurrentModification("lot_entry", e.ID)
	}
	e.Version++
	r.entries[e.ID] = clone(e)
	return nil
}

func (r *memRepo) Delete(_ context.Context, entryID id.ID, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[entryID]
	if !ok || cur.Version != version {
		return apperror.NewConcurrentModification("lot_entry", entryID)
	}
	delete(r.entries, entryID)
	return nil
}

func (r *memRepo) GetByID(_ context.Context, entryID id.ID) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[entryID]
	if !ok {
		return nil, apperror.NewNotFound("lot_entry", entryID)
	}
	return clone(e), nil
}

func (r *memRepo) match(e *Entry, f ListFilter) bool {
	if f.State != nil && e.State != *f.State {
		return false
	}
	if f.CatalogRef != nil && e.CatalogRef != *f.CatalogRef {
		return false
	}
	if f.CreatedBy != "" && !strings.Contains(e.CreatedBy, f.CreatedBy) {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(e.ProductName), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

func (r *memRepo) sorted(keep func(*Entry) bool) []*Entry {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RotationPriority != out[j].RotationPriority {
			return out[i].RotationPriority < out[j].RotationPriority
		}
		return out[i].IntakeDate.Before(out[j].IntakeDate)
	})
	return out
}

func (r *memRepo) List(_ context.Context, f ListFilter) ([]*Entry, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.sorted(func(e *Entry) bool { return r.match(e, f) })
	total := int64(len(all))
	if f.Offset >= len(all) {
		return []*Entry{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[f.Offset:end], total, nil
}

func (r *memRepo) Summarize(_ context.Context, f ListFilter) (ListSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := ListSummary{TotalValue: types.MustMoney("0")}
	for _, e := range r.entries {
		if e.State != StateActive || !r.match(e, f) {
			continue
		}
		s.TotalAvailable += e.Available
		s.TotalValue = s.TotalValue.Add(e.Valuation())
	}
	return s, nil
}

func inStates(states []State) func(*Entry) bool {
	return func(e *Entry) bool {
		if len(states) == 0 {
			return true
		}
		for _, s := range states {
			if e.State == s {
				return true
			}
		}
		return false
	}
}

func (r *memRepo) ListByCatalog(_ context.Context, catalogRef id.ID, states []State) ([]*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in := inStates(states)
	return r.sorted(func(e *Entry) bool { return e.CatalogRef == catalogRef && in(e) }), nil
}

func (r *memRepo) ListByStates(_ context.Context, states []State) ([]*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(inStates(states)), nil
}

func (r *memRepo) CountByState(_ context.Context) (map[State]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[State]int64)
	for _, e := range r.entries {
		out[e.State]++
	}
	return out, nil
}

func (r *memRepo) CatalogRefs(_ context.Context) ([]id.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[id.ID]struct{})
	var out []id.ID
	for _, e := range r.entries {
		if _, ok := seen[e.CatalogRef]; !ok {
			seen[e.CatalogRef] = struct{}{}
			out = append(out, e.CatalogRef)
		}
	}
	return out, nil
}

func (r *memRepo) snapshot() map[id.ID]*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[id.ID]*Entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = clone(v)
	}
	return out
}

func (r *memRepo) restore(s map[id.ID]*Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = s
}

type txKey struct{}

// snapshotTx serializes transactions and rolls the repo back when fn fails.
// Nested calls join the outer transaction.
type snapshotTx struct {
	mu   sync.Mutex
	repo *memRepo
}

func (t *snapshotTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	saved := t.repo.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		t.repo.restore(saved)
		return err
	}
	return nil
}

type memItems struct {
	mu    sync.Mutex
	items map[id.ID]*catalog.Item
}

func (m *memItems) GetByID(_ context.Context, itemID id.ID) (*catalog.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return nil, apperror.NewNotFound("catalog_item", itemID)
	}
	c := *it
	return &c, nil
}

func (m *memItems) GetByCode(_ context.Context, code string) (*catalog.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.Code == code {
			c := *it
			return &c, nil
		}
	}
	return nil, apperror.NewNotFound("catalog_item", code)
}

func (m *memItems) Create(_ context.Context, item *catalog.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *item
	m.items[item.ID] = &c
	return nil
}

type memProducts struct {
	mu       sync.Mutex
	products map[id.ID]*catalog.Product
}

func (m *memProducts) GetByID(_ context.Context, productID id.ID) (*catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return nil, apperror.NewNotFound("product", productID)
	}
	c := *p
	return &c, nil
}

func (m *memProducts) FindByCatalogRef(_ context.Context, catalogRef id.ID) (*catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.CatalogRef != nil && *p.CatalogRef == catalogRef {
			c := *p
			return &c, nil
		}
	}
	return nil, apperror.NewNotFound("product", catalogRef)
}

func (m *memProducts) SetCatalogRef(_ context.Context, productID, catalogRef id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return apperror.NewNotFound("product", productID)
	}
	ref := catalogRef
	p.CatalogRef = &ref
	return nil
}

func (m *memProducts) AdjustStock(_ context.Context, productID id.ID, onHand, sold types.Quantity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return apperror.NewNotFound("product", productID)
	}
	p.QuantityOnHand += onHand
	p.QuantitySold += sold
	return nil
}

func (m *memProducts) SetStock(_ context.Context, productID id.ID, onHand, sold types.Quantity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return apperror.NewNotFound("product", productID)
	}
	p.QuantityOnHand = onHand
	p.QuantitySold = sold
	return nil
}

func (m *memProducts) get(productID id.ID) catalog.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.products[productID]
}

type memMovements struct {
	mu    sync.Mutex
	moves []Movement
}

func (m *memMovements) Record(_ context.Context, mv Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves = append(m.moves, mv)
	return nil
}

func (m *memMovements) kinds() []MovementKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MovementKind, len(m.moves))
	for i, mv := range m.moves {
		out[i] = mv.Kind
	}
	return out
}

// memEvents collects published events. A non-nil err fails every publish.
type memEvents struct {
	mu     sync.Mutex
	err    error
	events []Movement
}

func (m *memEvents) Publish(ctx context.Context, mv Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Value(txKey{}) == nil {
		panic("event published outside a transaction")
	}
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, mv)
	return nil
}

func (m *memEvents) kinds() []MovementKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MovementKind, len(m.events))
	for i, mv := range m.events {
		out[i] = mv.Kind
	}
	return out
}

type fixture struct {
	svc       *Service
	repo      *memRepo
	items     *memItems
	products  *memProducts
	movements *memMovements
	events    *memEvents
	numbers   *numerator.MockGenerator

	item    id.ID
	product id.ID
	now     time.Time
}

func newFixture() *fixture {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	itemID := id.New()
	productID := id.New()
	ref := itemID

	f := &fixture{
		repo: newMemRepo(),
		items: &memItems{items: map[id.ID]*catalog.Item{
			itemID: {ID: itemID, Code: "MILK-1L", Name: "Milk 1L", Price: types.MustMoney("2.50"), Active: true},
		}},
		products: &memProducts{products: map[id.ID]*catalog.Product{
			productID: {ID: productID, CatalogRef: &ref, Code: "MILK-1L", Name: "Milk 1L"},
		}},
		movements: &memMovements{},
		events:    &memEvents{},
		numbers:   &numerator.MockGenerator{},
		item:      itemID,
		product:   productID,
		now:       now,
	}
	f.svc = NewService(Deps{
		Repo:      f.repo,
		Items:     f.items,
		Products:  f.products,
		Numerator: f.numbers,
		TxManager: &snapshotTx{repo: f.repo},
		Movements: f.movements,
		Events:    f.events,
	}, DefaultServiceConfig())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addItem(active bool) id.ID {
	itemID := id.New()
	f.items.items[itemID] = &catalog.Item{ID: itemID, Code: "ITEM-" + itemID.String()[:4], Name: "Item", Active: active}
	return itemID
}

func userCtx(roles ...string) context.Context {
	u := &appctx.UserContext{UserID: "u-1", Email: "clerk@example.com", Role: "clerk", Roles: roles}
	return appctx.WithUser(context.Background(), u)
}

func qty(n int64) types.Quantity { return types.NewQuantity(n) }

func (f *fixture) create(ctx context.Context, n int64, mutators ...func(*CreateInput)) *Entry {
	in := CreateInput{
		CatalogRef:    f.item,
		Quantity:      qty(n),
		PurchasePrice: types.MustMoney("10"),
	}
	for _, m := range mutators {
		m(&in)
	}
	e, err := f.svc.CreateEntry(ctx, in)
	if err != nil {
		panic(err)
	}
	return e
}
