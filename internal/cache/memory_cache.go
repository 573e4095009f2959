package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"koperasi/backend/internal/domain"
)

type memoryEntry struct {
	summary   domain.Summary
	expiresAt time.Time
}

// MemorySummaryCache is the in-process SummaryCache for single-instance runs.
// It follows the same day index and generation rules as RedisSummaryCache.
type MemorySummaryCache struct {
	mu          sync.Mutex
	entries     map[string]memoryEntry
	days        map[string][]string
	generations map[string]int64
	now         func() time.Time
}

func NewMemorySummaryCache() *MemorySummaryCache {
	return &MemorySummaryCache{
		entries:     make(map[string]memoryEntry),
		days:        make(map[string][]string),
		generations: make(map[string]int64),
		now:         time.Now,
	}
}

func (c *MemorySummaryCache) WithClock(now func() time.Time) *MemorySummaryCache {
	c.now = now
	return c
}

func (c *MemorySummaryCache) Get(_ context.Context, from time.Time, to time.Time) (*domain.Summary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := SummaryKey(from, to)
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	summary := entry.summary
	return &summary, true, nil
}

func (c *MemorySummaryCache) Generations(_ context.Context, from time.Time, to time.Time) (Stamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stampLocked(GenerationKeys(from, to)), nil
}

func (c *MemorySummaryCache) Set(_ context.Context, value domain.Summary, stamp Stamp, ttl time.Duration) error {
	days := DaysCovered(value.From, value.To)
	genKeys := GenerationKeys(value.From, value.To)
	if len(days) == 0 || ttl <= 0 || len(stamp) != len(genKeys) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Equal(c.stampLocked(genKeys), stamp) {
		return nil
	}

	key := SummaryKey(value.From, value.To)
	c.entries[key] = memoryEntry{summary: value, expiresAt: c.now().Add(ttl)}
	for _, day := range days {
		if !slices.Contains(c.days[day], key) {
			c.days[day] = append(c.days[day], key)
		}
	}
	return nil
}

func (c *MemorySummaryCache) InvalidateDate(_ context.Context, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[GenerationKey(at)]++
	day := DayKey(at)
	for _, key := range c.days[day] {
		delete(c.entries, key)
	}
	delete(c.days, day)
	return nil
}

func (c *MemorySummaryCache) stampLocked(genKeys []string) Stamp {
	if len(genKeys) == 0 {
		return nil
	}
	stamp := make(Stamp, 0, len(genKeys))
	for _, key := range genKeys {
		stamp = append(stamp, c.generations[key])
	}
	return stamp
}
