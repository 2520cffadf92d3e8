package lots

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

func expiring(at time.Time, alertDays int) func(*CreateInput) {
	return func(in *CreateInput) {
		in.ExpiryDate = &at
		in.Config = &Config{AllowPartialSale: true, ExpiryAlertDays: alertDays}
	}
}

func TestGeneralStatistics_ExpiringSoon(t *testing.T) {
	f := newFixture()
	ctx := userCtx()

	soon := f.create(ctx, 10, expiring(f.now.AddDate(0, 0, 3), 7))
	later := f.create(ctx, 10, expiring(f.now.AddDate(0, 0, 30), 7))

	stats, err := f.svc.GeneralStatistics(ctx, StatsOptions{})
	require.NoError(t, err)

	require.Len(t, stats.Alerts.ExpiringSoon, 1)
	assert.Equal(t, soon.ID, stats.Alerts.ExpiringSoon[0].EntryID)
	require.NotNil(t, stats.Alerts.ExpiringSoon[0].DaysLeft)
	assert.Equal(t, 3, *stats.Alerts.ExpiringSoon[0].DaysLeft)
	for _, ref := range stats.Alerts.ExpiringSoon {
		assert.NotEqual(t, later.ID, ref.EntryID)
	}

	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"proximosVencer"`)
	assert.Contains(t, string(raw), `"stockBajo"`)
}

func TestGeneralStatistics_WindowOverride(t *testing.T) {
	f := newFixture()
	ctx := userCtx()

	// no per-lot window: the statistics window decides
	lot := f.create(ctx, 10, expiring(f.now.AddDate(0, 0, 30), 0))

	stats, err := f.svc.GeneralStatistics(ctx, StatsOptions{})
	require.NoError(t, err)
	assert.Empty(t, stats.Alerts.ExpiringSoon)
	assert.Equal(t, DefaultExpiryWindowDays, stats.ExpiryWindowDays)

	stats, err = f.svc.GeneralStatistics(ctx, StatsOptions{ExpiryWindowDays: 40})
	require.NoError(t, err)
	require.Len(t, stats.Alerts.ExpiringSoon, 1)
	assert.Equal(t, lot.ID, stats.Alerts.ExpiringSoon[0].EntryID)
}

func TestGeneralStatistics_CountsAndValuation(t *testing.T) {
	f := newFixture()
	ctx := userCtx()

	f.create(ctx, 10)
	low := f.create(ctx, 20, func(in *CreateInput) {
		in.Config = &Config{AllowPartialSale: true, MinimumStock: qty(10)}
	})
	gone := f.create(ctx, 5)
	parked := f.create(ctx, 5)

	_, err := f.svc.Consume(ctx, low.ID, qty(15), ConsumeSale)
	require.NoError(t, err)
	_, err = f.svc.Consume(ctx, gone.ID, qty(5), ConsumeSale)
	require.NoError(t, err)
	_, err = f.svc.SetState(ctx, parked.ID, StateInactive, "")
	require.NoError(t, err)

	stats, err := f.svc.GeneralStatistics(ctx, StatsOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.Counts.Total)
	assert.Equal(t, int64(2), stats.Counts.Active)
	assert.Equal(t, int64(1), stats.Counts.Inactive)
	assert.Equal(t, int64(1), stats.Counts.ByState[StateDepleted])
	// (10 + 5) units at 10
	assert.True(t, stats.Valuation.Equal(types.MustMoney("150")), "valuation = %s", stats.Valuation)
	assert.Equal(t, 1, stats.ItemsInStock)

	require.Len(t, stats.Alerts.LowStock, 1)
	assert.Equal(t, low.ID, stats.Alerts.LowStock[0].EntryID)

	stored, err := f.svc.GetEntry(ctx, low.ID)
	require.NoError(t, err)
	require.Len(t, stored.Alerts.ActiveAlerts(), 1)
	assert.Equal(t, AlertLowStock, stored.Alerts.ActiveAlerts()[0].Type)
}

func TestSummaryForCatalogItem(t *testing.T) {
	f := newFixture()
	ctx := userCtx()

	f.create(ctx, 10, expiring(f.now.AddDate(0, 0, 20), 7))
	near := f.create(ctx, 30, expiring(f.now.AddDate(0, 0, 5), 7))
	parked := f.create(ctx, 50)
	_, err := f.svc.SetState(ctx, parked.ID, StateInactive, "")
	require.NoError(t, err)
	_, err = f.svc.Consume(ctx, near.ID, qty(10), ConsumeReservation)
	require.NoError(t, err)

	sum, err := f.svc.SummaryForCatalogItem(ctx, f.item)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.LotCount)
	assert.Equal(t, qty(30), sum.TotalAvailable)
	assert.Equal(t, qty(10), sum.TotalReserved)
	assert.True(t, sum.TotalValue.Equal(types.MustMoney("300")))
	require.NotNil(t, sum.NextExpiry)
	assert.True(t, sum.NextExpiry.Equal(f.now.AddDate(0, 0, 5)))
	require.Len(t, sum.ActiveAlerts, 1)
	assert.Equal(t, near.ID, sum.ActiveAlerts[0].EntryID)
	assert.Equal(t, AlertExpiry, sum.ActiveAlerts[0].Type)

	empty, err := f.svc.SummaryForCatalogItem(ctx, id.New())
	require.NoError(t, err)
	assert.Zero(t, empty.LotCount)
	assert.Empty(t, empty.ActiveAlerts)
}

func TestRecompute_CorrectsDrift(t *testing.T) {
	f := newFixture()
	ctx := userCtx()

	lot := f.create(ctx, 100)
	parked := f.create(ctx, 20)
	_, err := f.svc.Consume(ctx, lot.ID, qty(40), ConsumeSale)
	require.NoError(t, err)
	_, err = f.svc.Restock(ctx, lot.ID, qty(5), RestockReturn)
	require.NoError(t, err)
	_, err = f.svc.SetState(ctx, parked.ID, StateInactive, "")
	require.NoError(t, err)

	require.NoError(t, f.products.SetStock(ctx, f.product, qty(999), qty(0)))

	res, err := f.svc.Recompute(ctx, f.item)
	require.NoError(t, err)
	assert.Equal(t, qty(65), res.QuantityOnHand)
	assert.Equal(t, qty(35), res.QuantitySold)
	assert.Equal(t, qty(934), res.Drift)

	p := f.products.get(f.product)
	assert.Equal(t, qty(65), p.QuantityOnHand)
	assert.Equal(t, qty(35), p.QuantitySold)

	_, err = f.svc.Recompute(ctx, id.New())
	assert.True(t, apperror.IsNotFound(err))
}

func TestRecomputeAll_SkipsItemsWithoutProduct(t *testing.T) {
	f := newFixture()
	ctx := userCtx()

	f.create(ctx, 10)
	orphan := f.addItem(true)
	f.create(ctx, 10, func(in *CreateInput) { in.CatalogRef = orphan })
	require.NoError(t, f.products.SetStock(ctx, f.product, qty(0), qty(0)))

	results, err := f.svc.RecomputeAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, f.item, results[0].CatalogRef)
	assert.Equal(t, qty(10), f.products.get(f.product).QuantityOnHand)
}

func TestRefreshDueAlerts(t *testing.T) {
	f := newFixture()
	ctx := userCtx()

	lot := f.create(ctx, 10, expiring(f.now.AddDate(0, 0, 20), 7))
	require.NotNil(t, lot.NextAlertAt)
	assert.True(t, lot.NextAlertAt.Equal(f.now.AddDate(0, 0, 13)))
	assert.Empty(t, lot.Alerts.ActiveAlerts())

	n, err := f.svc.RefreshDueAlerts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.AddDate(0, 0, 14)
	n, err = f.svc.RefreshDueAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.svc.GetEntry(ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, stored.Alerts.ActiveAlerts(), 1)
	assert.Equal(t, AlertExpiry, stored.Alerts.ActiveAlerts()[0].Type)
	assert.Nil(t, stored.NextAlertAt)
}
