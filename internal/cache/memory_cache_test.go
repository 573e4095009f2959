package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koperasi/backend/internal/domain"
)

var window = domain.Summary{
	From:        time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
	To:          time.Date(2026, 8, 11, 0, 0, 0, 0, time.UTC),
	TotalIncome: decimal.NewFromInt(1000),
}

func TestMemoryCacheStoresAndInvalidates(t *testing.T) {
	c := NewMemorySummaryCache()
	ctx := context.Background()

	stamp, err := c.Generations(ctx, window.From, window.To)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, window, stamp, time.Minute))

	got, ok, err := c.Get(ctx, window.From, window.To)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, window.TotalIncome.Equal(got.TotalIncome))

	require.NoError(t, c.InvalidateDate(ctx, window.From.Add(5*time.Hour)))
	_, ok, err = c.Get(ctx, window.From, window.To)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheRejectsSummaryStampedBeforeInvalidation(t *testing.T) {
	c := NewMemorySummaryCache()
	ctx := context.Background()

	stamp, err := c.Generations(ctx, window.From, window.To)
	require.NoError(t, err)

	// A commit on the same day lands while the summary is being computed.
	require.NoError(t, c.InvalidateDate(ctx, window.From.Add(2*time.Hour)))
	require.NoError(t, c.Set(ctx, window, stamp, time.Minute))

	_, ok, err := c.Get(ctx, window.From, window.To)
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, err := c.Generations(ctx, window.From, window.To)
	require.NoError(t, err)
	assert.Equal(t, Stamp{1}, fresh)
	require.NoError(t, c.Set(ctx, window, fresh, time.Minute))
	_, ok, err = c.Get(ctx, window.From, window.To)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCacheEntriesExpire(t *testing.T) {
	at := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	c := NewMemorySummaryCache().WithClock(func() time.Time { return at })
	ctx := context.Background()

	stamp, err := c.Generations(ctx, window.From, window.To)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, window, stamp, time.Minute))

	at = at.Add(2 * time.Minute)
	_, ok, err := c.Get(ctx, window.From, window.To)
	require.NoError(t, err)
	assert.False(t, ok)
}
