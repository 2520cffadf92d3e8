package lots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/types"
)

func TestEntry_Validate(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantErr bool
	}{
		{"fresh lot", Entry{Initial: qty(10), Available: qty(10)}, false},
		{"sold and returned", Entry{Initial: qty(10), Available: qty(7), Sold: qty(5), Returned: qty(2)}, false},
		{"available above initial", Entry{Initial: qty(10), Available: qty(11)}, true},
		{"negative bucket", Entry{Initial: qty(10), Available: qty(10), Lost: -1}, true},
		{"buckets overflow", Entry{Initial: qty(10), Available: qty(6), Reserved: qty(5)}, true},
		{"available above net sold", Entry{Initial: qty(10), Available: qty(9), Sold: qty(5), Returned: qty(2)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr {
				assert.True(t, apperror.HasCode(err, apperror.CodeInvalidState), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEntry_ExpiresWithin(t *testing.T) {
	now := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	exp := now.AddDate(0, 0, 10)

	e := Entry{ExpiryDate: &exp}
	assert.False(t, e.ExpiresWithin(now, 7))
	assert.True(t, e.ExpiresWithin(now, 10))

	e.Config.ExpiryAlertDays = 14
	assert.True(t, e.ExpiresWithin(now, 7))

	assert.False(t, (&Entry{}).ExpiresWithin(now, 365))
}

func TestAlerts_KeepTimestampWhileRaised(t *testing.T) {
	t0 := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	var a Alerts
	a = a.set(AlertLowStock, true, "low", t0)
	a = a.set(AlertLowStock, true, "still low", t1)
	if assert.Len(t, a, 1) {
		assert.Equal(t, t0, a[0].Timestamp)
		assert.Equal(t, "still low", a[0].Message)
	}

	a = a.set(AlertLowStock, false, "", t1)
	assert.Empty(t, a.ActiveAlerts())

	a = a.set(AlertLowStock, true, "low again", t1)
	assert.Equal(t, t1, a[0].Timestamp)
}

func TestEntry_RefreshAlertsSkipsDepleted(t *testing.T) {
	now := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	exp := now.AddDate(0, 0, 1)
	e := Entry{
		State:      StateDepleted,
		ExpiryDate: &exp,
		Config:     Config{MinimumStock: types.NewQuantity(5)},
	}
	e.refreshAlerts(now, DefaultExpiryWindowDays)
	assert.Empty(t, e.Alerts.ActiveAlerts())
	assert.Nil(t, e.NextAlertAt)
}

func TestCreateEntry_ExpiryAlertUsesServiceWindow(t *testing.T) {
	f := newFixture()
	f.svc.cfg.ExpiryWindowDays = 30
	ctx := userCtx()
	exp := f.now.AddDate(0, 0, 20)

	inherited := f.create(ctx, 10, func(in *CreateInput) { in.ExpiryDate = &exp })
	active := inherited.Alerts.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, AlertExpiry, active[0].Type)

	// a lot with its own window keeps it
	own := f.create(ctx, 10, expiring(exp, 7))
	assert.Empty(t, own.Alerts.ActiveAlerts())
	require.NotNil(t, own.NextAlertAt)
	assert.Equal(t, exp.AddDate(0, 0, -7), *own.NextAlertAt)
}
