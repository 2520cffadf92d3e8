package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	appctx "lotledger/internal/core/context"
	"lotledger/internal/core/id"
	"lotledger/internal/core/lock"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/catalog"
	"lotledger/internal/domain/integrity"
	"lotledger/internal/domain/lots"
	"lotledger/internal/domain/reconcile"
	"lotledger/pkg/logger"
)

type tokenTable map[string]*appctx.UserContext

func (t tokenTable) ValidateToken(token string) (*appctx.UserContext, error) {
	if u, ok := t[token]; ok {
		return u, nil
	}
	return nil, errors.New("bad token")
}

var tokens = tokenTable{
	"admin-token": {UserID: "u-admin", Roles: []string{lots.RoleAdmin}},
	"clerk-token": {UserID: "u-clerk", Roles: []string{"clerk"}},
}

type stubLots struct {
	created   *lots.CreateInput
	filter    *lots.ListFilter
	consumed  types.Quantity
	err       error
	recompute int
}

func (s *stubLots) CreateEntry(_ context.Context, in lots.CreateInput) (*lots.Entry, error) {
	s.created = &in
	if s.err != nil {
		return nil, s.err
	}
	return &lots.Entry{ID: id.New(), CatalogRef: in.CatalogRef, EntryNumber: "LOT-20240301-0001"}, nil
}

func (s *stubLots) GetEntry(_ context.Context, entryID id.ID) (*lots.Entry, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &lots.Entry{ID: entryID}, nil
}

func (s *stubLots) ListEntries(_ context.Context, f lots.ListFilter) (*lots.ListResult, error) {
	s.filter = &f
	return &lots.ListResult{Items: []*lots.Entry{}, Limit: f.Limit, Offset: f.Offset}, nil
}

func (s *stubLots) Consume(_ context.Context, entryID id.ID, qty types.Quantity, _ lots.ConsumeReason) (*lots.Entry, error) {
	s.consumed = qty
	if s.err != nil {
		return nil, s.err
	}
	return &lots.Entry{ID: entryID}, nil
}

func (s *stubLots) ConsumeFromItem(_ context.Context, _ id.ID, qty types.Quantity, _ lots.ConsumeReason) ([]lots.Allocation, error) {
	s.consumed = qty
	return nil, s.err
}

func (s *stubLots) Restock(_ context.Context, entryID id.ID, _ types.Quantity, _ lots.RestockReason) (*lots.Entry, error) {
	return &lots.Entry{ID: entryID}, s.err
}

func (s *stubLots) SetState(_ context.Context, entryID id.ID, target lots.State, _ string) (*lots.Entry, error) {
	return &lots.Entry{ID: entryID, State: target}, s.err
}

func (s *stubLots) UpdatePrice(_ context.Context, entryID id.ID, _, _ *types.Money) (*lots.Entry, error) {
	return &lots.Entry{ID: entryID}, s.err
}

func (s *stubLots) SetAlert(_ context.Context, entryID id.ID, t lots.AlertType, active bool, msg string) (*lots.Entry, error) {
	e := &lots.Entry{ID: entryID}
	if active {
		e.Alerts = lots.Alerts{{Type: t, Message: msg, Active: true}}
	}
	return e, s.err
}

func (s *stubLots) Delete(context.Context, id.ID) error { return s.err }

func (s *stubLots) SummaryForCatalogItem(_ context.Context, ref id.ID) (*lots.ItemSummary, error) {
	return &lots.ItemSummary{}, s.err
}

func (s *stubLots) GeneralStatistics(context.Context, lots.StatsOptions) (*lots.Statistics, error) {
	return &lots.Statistics{}, s.err
}

func (s *stubLots) Recompute(_ context.Context, ref id.ID) (*lots.RecomputeResult, error) {
	s.recompute++
	return &lots.RecomputeResult{CatalogRef: ref}, s.err
}

func (s *stubLots) RecomputeAll(context.Context) ([]lots.RecomputeResult, error) {
	s.recompute++
	return nil, s.err
}

type stubValidator struct {
	vc  *integrity.ValidatedContext
	err error
}

func (v stubValidator) Validate(context.Context, id.ID) (*integrity.ValidatedContext, error) {
	return v.vc, v.err
}

type stubReconciler struct {
	resolved *reconcile.Key
}

func (r *stubReconciler) FullSweep(context.Context) (*reconcile.SweepResult, error) {
	return &reconcile.SweepResult{GroupsProcessed: 1, TotalEliminated: 2}, nil
}

func (r *stubReconciler) ResolveByKey(_ context.Context, key reconcile.Key) (*reconcile.ResolveResult, error) {
	r.resolved = &key
	return &reconcile.ResolveResult{Key: key.String(), Kept: 1}, nil
}

func (r *stubReconciler) Specs() []reconcile.KeySpec { return reconcile.DefaultSpecs() }

type fixture struct {
	lots       *stubLots
	reconciler *stubReconciler
	guard      *integrity.OperationGuard
	cfg        RouterConfig
}

func newFixture() *fixture {
	f := &fixture{
		lots:       &stubLots{},
		reconciler: &stubReconciler{},
		guard:      integrity.NewOperationGuard(lock.NewLocal(), time.Minute),
	}
	f.cfg = RouterConfig{
		Logger:         logger.Nop(),
		JWTValidator:   tokens,
		Lots:           f.lots,
		Reconciler:     f.reconciler,
		OperationGuard: f.guard,
	}
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	NewRouter(f.cfg).ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func TestHealthLive(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture()

	w := f.do(t, http.MethodGet, "/api/v1/lots", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperror.CodeUnauthorized, errorCode(t, w))

	w = f.do(t, http.MethodGet, "/api/v1/lots", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateLot(t *testing.T) {
	f := newFixture()
	ref := id.New()

	w := f.do(t, http.MethodPost, "/api/v1/lots", "clerk-token", map[string]any{
		"catalogRef":    ref.String(),
		"quantity":      "12.5",
		"purchasePrice": "4.20",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotNil(t, f.lots.created)
	assert.Equal(t, ref, f.lots.created.CatalogRef)
	assert.Equal(t, types.Quantity(125000), f.lots.created.Quantity)
	assert.Contains(t, w.Body.String(), "LOT-20240301-0001")
}

func TestCreateLotRequiresCatalogRef(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodPost, "/api/v1/lots", "clerk-token", map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, f.lots.created)
}

func TestListLotsFilter(t *testing.T) {
	f := newFixture()

	w := f.do(t, http.MethodGet, "/api/v1/lots?state=active&dateTo=2024-03-01&limit=9999", "clerk-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, f.lots.filter)
	require.NotNil(t, f.lots.filter.State)
	assert.Equal(t, lots.StateActive, *f.lots.filter.State)
	assert.Equal(t, 500, f.lots.filter.Limit)
	require.NotNil(t, f.lots.filter.DateTo)
	assert.Equal(t, 23, f.lots.filter.DateTo.Hour())

	w = f.do(t, http.MethodGet, "/api/v1/lots?state=melted", "clerk-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetLotInvalidID(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/api/v1/lots/not-a-uuid", "clerk-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeInvalidInput, errorCode(t, w))
}

func TestDomainErrorsAreRendered(t *testing.T) {
	f := newFixture()
	f.lots.err = apperror.NewInsufficientStock("lot", 5, 2)

	w := f.do(t, http.MethodPost, "/api/v1/lots/"+id.New().String()+"/consume", "clerk-token",
		map[string]any{"quantity": 5, "reason": "sale"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, apperror.CodeInsufficientStock, errorCode(t, w))
}

func TestConsumeIsGuardedPerItem(t *testing.T) {
	f := newFixture()
	entryID := id.New()

	release, err := f.guard.Enter(context.Background(), http.MethodPost, "/api/v1/lots/:id/consume", entryID.String())
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/v1/lots/"+entryID.String()+"/consume", "clerk-token",
		map[string]any{"quantity": 1, "reason": "sale"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, apperror.CodeConcurrentOperation, errorCode(t, w))

	// a different lot is not affected
	w = f.do(t, http.MethodPost, "/api/v1/lots/"+id.New().String()+"/consume", "clerk-token",
		map[string]any{"quantity": 1, "reason": "sale"})
	assert.Equal(t, http.StatusOK, w.Code)

	release()
	w = f.do(t, http.MethodPost, "/api/v1/lots/"+entryID.String()+"/consume", "clerk-token",
		map[string]any{"quantity": 1, "reason": "sale"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetStateNeedsSupervisor(t *testing.T) {
	f := newFixture()
	path := "/api/v1/lots/" + id.New().String() + "/state"

	w := f.do(t, http.MethodPut, path, "clerk-token", map[string]any{"state": "held"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPut, path, "admin-token", map[string]any{"state": "held"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetAlertNeedsSupervisor(t *testing.T) {
	f := newFixture()
	path := "/api/v1/lots/" + id.New().String() + "/alerts"
	body := map[string]any{"type": "calidad", "active": true, "message": "damaged packaging"}

	w := f.do(t, http.MethodPut, path, "clerk-token", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPut, path, "admin-token", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "damaged packaging")

	w = f.do(t, http.MethodPut, path, "admin-token", map[string]any{"active": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteLot(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodDelete, "/api/v1/lots/"+id.New().String(), "clerk-token", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMovementsWithoutLog(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/api/v1/lots/"+id.New().String()+"/movements", "clerk-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProductLotUsesValidatedItem(t *testing.T) {
	f := newFixture()
	item := &catalog.Item{ID: id.New(), Code: "P-1", Active: true}
	f.cfg.Products = stubValidator{vc: &integrity.ValidatedContext{
		Product:  &catalog.Product{},
		Item:     item,
		Repaired: []string{integrity.RepairLinked},
	}}
	productID := id.New()

	w := f.do(t, http.MethodPost, "/api/v1/products/"+productID.String()+"/lots", "clerk-token", map[string]any{
		"catalogRef":    id.New().String(),
		"quantity":      3,
		"purchasePrice": "1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, item.ID, f.lots.created.CatalogRef)
	require.NotNil(t, f.lots.created.ProductRef)
	assert.Equal(t, productID, *f.lots.created.ProductRef)
	assert.Contains(t, w.Body.String(), integrity.RepairLinked)
}

func TestProductLotValidationFailure(t *testing.T) {
	f := newFixture()
	f.cfg.Products = stubValidator{err: apperror.NewCatalogItemInactive("x")}

	w := f.do(t, http.MethodPost, "/api/v1/products/"+id.New().String()+"/lots", "clerk-token",
		map[string]any{"quantity": 1, "purchasePrice": "1"})
	assert.Equal(t, apperror.CodeCatalogItemInactive, errorCode(t, w))
	assert.Nil(t, f.lots.created)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture()

	w := f.do(t, http.MethodPost, "/api/v1/admin/reconcile/sweep", "clerk-token", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/admin/reconcile/sweep", "admin-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"totalEliminated":2`)

	w = f.do(t, http.MethodPost, "/api/v1/admin/reconcile/resolve", "admin-token",
		map[string]any{"spec": "nope", "values": []string{"x"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/admin/reconcile/resolve", "admin-token",
		map[string]any{"spec": reconcile.ProductCatalogCategory.Name, "values": []string{"x"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/admin/reconcile/resolve", "admin-token",
		map[string]any{"spec": reconcile.ProductCode.Name, "values": []string{"SKU-1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, f.reconciler.resolved)
	assert.Equal(t, []string{"SKU-1"}, f.reconciler.resolved.Values)

	w = f.do(t, http.MethodPost, "/api/v1/admin/recompute", "admin-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.lots.recompute)
}
