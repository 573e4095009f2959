package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"koperasi/backend/internal/consignment"
	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/finance"
	"koperasi/backend/internal/lock"
	"koperasi/backend/internal/sale"
	"koperasi/backend/internal/store"
	"koperasi/backend/internal/valuation"
)

var (
	ErrForbidden          = errors.New("admin role required")
	ErrManagerPINRequired = errors.New("valid manager PIN required")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// PINVerifier checks a manager PIN.
type PINVerifier interface {
	ValidateManagerPIN(pin string) bool
}

type Service struct {
	repo        store.Store
	sales       *sale.Engine
	valuation   *valuation.Service
	allocator   *consignment.Allocator
	finance     *finance.Service
	pins        PINVerifier
	locker      lock.Locker
	validate    *validator.Validate
	maxAttempts int
	now         func() time.Time
	log         *logrus.Logger
}

func New(repo store.Store, sales *sale.Engine, val *valuation.Service, alloc *consignment.Allocator, fin *finance.Service, pins PINVerifier, log *logrus.Logger) *Service {
	return &Service{
		repo:        repo,
		sales:       sales,
		valuation:   val,
		allocator:   alloc,
		finance:     fin,
		pins:        pins,
		locker:      lock.Noop{},
		validate:    validator.New(),
		maxAttempts: store.DefaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
}

func (s *Service) WithLocker(l lock.Locker) *Service {
	s.locker = l
	return s
}

func (s *Service) WithMaxAttempts(n int) *Service {
	s.maxAttempts = n
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func requireStaff(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || (actor.Role != domain.RoleAdmin && actor.Role != domain.RoleCashier) {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

// write runs fn as one unit of work, retried on conflict, while holding the
// advisory stock locks of productIDs.
func (s *Service) write(ctx context.Context, productIDs []string, fn func(ctx context.Context, tx store.Tx) error) error {
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, lock.StockKey(id))
	}
	release := s.locker.Acquire(ctx, keys)
	defer release()

	return store.RetryOnConflict(ctx, s.maxAttempts, func(attempt int) error {
		if attempt > 1 {
			s.log.WithFields(logrus.Fields{"attempt": attempt, "products": productIDs}).Warn("retrying after concurrent modification")
		}
		return s.repo.WithinTx(ctx, fn)
	})
}

func (s *Service) read(ctx context.Context, fn func(ctx context.Context, r store.Reader) error) error {
	return s.repo.Snapshot(ctx, fn)
}

func (s *Service) timeOrNow(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return s.now()
	}
	return t.UTC()
}

func trimmed(v string) string {
	return strings.TrimSpace(v)
}

func logError(log *logrus.Logger, funcName string, err error, fields logrus.Fields) {
	entry := log.WithFields(logrus.Fields{"module": "service", "funcName": funcName})
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.WithError(err).Error("operation failed")
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{store.ErrNotFound}, args...)...)
}
