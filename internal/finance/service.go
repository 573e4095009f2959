package finance

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"koperasi/backend/internal/cache"
	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Service answers summary queries from committed history. It only reads, and
// every query runs against one snapshot.
type Service struct {
	store store.Store
	cache cache.SummaryCache
	ttl   time.Duration
	log   *logrus.Logger
}

func NewService(repo store.Store, summaries cache.SummaryCache, ttl time.Duration, log *logrus.Logger) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	return &Service{store: repo, cache: summaries, ttl: ttl, log: log}
}

// Summarize never fails on an empty or inverted window; it returns zeros.
func (s *Service) Summarize(ctx context.Context, from time.Time, to time.Time) (domain.Summary, error) {
	from, to = from.UTC(), to.UTC()
	if !from.Before(to) {
		return Summarize(nil, from, to), nil
	}

	fields := logrus.Fields{"from": from, "to": to}
	if cached, ok, err := s.cache.Get(ctx, from, to); err != nil {
		s.log.WithFields(fields).WithError(err).Warn("summary cache read failed")
	} else if ok {
		return *cached, nil
	}

	// The stamp is taken before the snapshot so a commit landing in between
	// keeps this result out of the cache.
	stamp, stampErr := s.cache.Generations(ctx, from, to)
	if stampErr != nil {
		s.log.WithFields(fields).WithError(stampErr).Warn("summary cache generations unavailable")
	}

	var txs []domain.Transaction
	err := s.store.Snapshot(ctx, func(ctx context.Context, r store.Reader) error {
		var err error
		txs, err = r.ListTransactions(ctx, from, to)
		return err
	})
	if err != nil {
		return domain.Summary{}, err
	}

	summary := Summarize(txs, from, to)
	if stampErr == nil {
		if err := s.cache.Set(ctx, summary, stamp, s.ttl); err != nil {
			s.log.WithFields(fields).WithError(err).Warn("summary cache write failed")
		}
	}
	return summary, nil
}

func (s *Service) SummarizePeriod(ctx context.Context, period Period, anchor time.Time) (domain.Summary, error) {
	from, to, err := Window(period, anchor)
	if err != nil {
		return domain.Summary{}, err
	}
	return s.Summarize(ctx, from, to)
}

func (s *Service) ConsignorPayables(ctx context.Context, from time.Time, to time.Time) ([]domain.ConsignorPayable, error) {
	if !from.Before(to) {
		return []domain.ConsignorPayable{}, nil
	}
	var txs []domain.Transaction
	err := s.store.Snapshot(ctx, func(ctx context.Context, r store.Reader) error {
		var err error
		txs, err = r.ListTransactions(ctx, from.UTC(), to.UTC())
		return err
	})
	if err != nil {
		return nil, err
	}

	payables := Payables(txs)
	slices.SortFunc(payables, func(a, b domain.ConsignorPayable) int {
		return strings.Compare(a.ConsignorID, b.ConsignorID)
	})
	return payables, nil
}

// TransactionCommitted drops every cached window containing the transaction's date.
func (s *Service) TransactionCommitted(ctx context.Context, t domain.Transaction) {
	if err := s.cache.InvalidateDate(ctx, t.OccurredAt); err != nil {
		s.log.WithFields(logrus.Fields{
			"transaction_id": t.ID,
			"occurred_at":    t.OccurredAt,
		}).WithError(err).Error("summary cache invalidation failed")
	}
}

// Window resolves a period anchored on a date to [from, to) in UTC. Weeks start
// on Monday.
func Window(period Period, anchor time.Time) (time.Time, time.Time, error) {
	a := anchor.UTC()
	day := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)

	switch period {
	case PeriodDay:
		return day, day.AddDate(0, 0, 1), nil
	case PeriodWeek:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7), nil
	case PeriodMonth:
		start := time.Date(a.Year(), a.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown period %q", store.ErrInvalidTransaction, period)
}
