package cache

import (
	"context"
	"fmt"
	"time"

	"koperasi/backend/internal/domain"
)

// MaxCachedDays bounds the windows worth caching; longer windows are always
// recomputed.
const MaxCachedDays = 400

// Stamp holds the invalidation generation of each day a window covers, in
// the order of DaysCovered.
type Stamp []int64

// SummaryCache holds computed summaries keyed by window. Every committed
// transaction must invalidate the windows covering its date.
//
// Callers take a Stamp before reading the data a summary is computed from and
// hand it back to Set. Set drops the value when any covered day was
// invalidated in between, so a summary computed before a commit never
// outlives that commit's invalidation.
type SummaryCache interface {
	Get(ctx context.Context, from time.Time, to time.Time) (*domain.Summary, bool, error)
	Generations(ctx context.Context, from time.Time, to time.Time) (Stamp, error)
	Set(ctx context.Context, value domain.Summary, stamp Stamp, ttl time.Duration) error
	InvalidateDate(ctx context.Context, at time.Time) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ time.Time, _ time.Time) (*domain.Summary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Generations(_ context.Context, _ time.Time, _ time.Time) (Stamp, error) {
	return nil, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ domain.Summary, _ Stamp, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) InvalidateDate(_ context.Context, _ time.Time) error {
	return nil
}

func SummaryKey(from time.Time, to time.Time) string {
	return fmt.Sprintf("summary:%s:%s", from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
}

func DayKey(at time.Time) string {
	return fmt.Sprintf("summary:day:%s", at.UTC().Format(time.DateOnly))
}

// GenerationKey names the counter InvalidateDate bumps for the day of at.
func GenerationKey(at time.Time) string {
	return fmt.Sprintf("summary:gen:%s", at.UTC().Format(time.DateOnly))
}

// DaysCovered lists the day keys a window [from, to) touches, or nil when the
// window is empty or longer than MaxCachedDays.
func DaysCovered(from time.Time, to time.Time) []string {
	return keysFor(from, to, DayKey)
}

// GenerationKeys lists the generation counters of the days a window touches,
// aligned with DaysCovered.
func GenerationKeys(from time.Time, to time.Time) []string {
	return keysFor(from, to, GenerationKey)
}

func keysFor(from time.Time, to time.Time, name func(time.Time) string) []string {
	if !from.Before(to) {
		return nil
	}
	start := from.UTC().Truncate(24 * time.Hour)
	keys := make([]string, 0, 8)
	for day := start; day.Before(to); day = day.Add(24 * time.Hour) {
		if len(keys) == MaxCachedDays {
			return nil
		}
		keys = append(keys, name(day))
	}
	return keys
}
