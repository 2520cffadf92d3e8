package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_ExclusiveUntilRelease(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	lease, err := l.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = l.Obtain(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	_, err = l.Obtain(ctx, "other", time.Minute)
	assert.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	_, err = l.Obtain(ctx, "k", time.Minute)
	assert.NoError(t, err)
}

func TestLocal_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocal()
	l.now = func() time.Time { return now }

	stale, err := l.Obtain(ctx, "k", 30*time.Second)
	require.NoError(t, err)

	now = now.Add(31 * time.Second)
	fresh, err := l.Obtain(ctx, "k", 30*time.Second)
	require.NoError(t, err)

	// releasing the stale lease must not drop the new holder
	require.NoError(t, stale.Release(ctx))
	_, err = l.Obtain(ctx, "k", 30*time.Second)
	assert.ErrorIs(t, err, ErrNotObtained)

	require.NoError(t, fresh.Release(ctx))
}

func TestObtainWait_ContextDone(t *testing.T) {
	l := NewLocal()
	_, err := l.Obtain(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = ObtainWait(ctx, l, "k", time.Minute, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
