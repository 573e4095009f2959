package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koperasi/backend/internal/domain"
)

func TestDaysCovered(t *testing.T) {
	from := time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, []string{
		"summary:day:2026-02-27",
		"summary:day:2026-02-28",
		"summary:day:2026-03-01",
	}, DaysCovered(from, to))

	assert.Nil(t, DaysCovered(to, from))
	assert.Nil(t, DaysCovered(from, from.AddDate(2, 0, 0)))

	partial := DaysCovered(from.Add(20*time.Hour), from.Add(30*time.Hour))
	assert.Equal(t, []string{"summary:day:2026-02-27", "summary:day:2026-02-28"}, partial)
}

func TestSummaryKeyIsUTC(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	from := time.Date(2026, 3, 1, 7, 0, 0, 0, jakarta)
	assert.Equal(t, "summary:2026-03-01T00:00:00Z:2026-03-02T00:00:00Z", SummaryKey(from, from.Add(24*time.Hour)))
}

func TestNoopCacheNeverHits(t *testing.T) {
	c := NoopSummaryCache{}
	now := time.Now()
	require.NoError(t, c.Set(context.Background(), domain.Summary{From: now, To: now.Add(time.Hour)}, nil, time.Minute))
	_, ok, err := c.Get(context.Background(), now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.InvalidateDate(context.Background(), now))
}

func TestGenerationKeysAlignWithDays(t *testing.T) {
	from := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 2)

	assert.Equal(t, []string{"summary:gen:2026-02-28", "summary:gen:2026-03-01"}, GenerationKeys(from, to))
	assert.Len(t, GenerationKeys(from, to), len(DaysCovered(from, to)))
	assert.Nil(t, GenerationKeys(to, from))
}

func TestParseGenerations(t *testing.T) {
	stamp, err := parseGenerations([]interface{}{nil, "3"})
	require.NoError(t, err)
	assert.Equal(t, Stamp{0, 3}, stamp)

	_, err = parseGenerations([]interface{}{"x"})
	assert.Error(t, err)
}
