package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koperasi/backend/internal/config"
	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/service"
)

type recordingSweeper struct {
	mu     sync.Mutex
	calls  []time.Time
	actors []domain.Actor
	err    error
}

func (r *recordingSweeper) SweepExpired(ctx context.Context, asOf time.Time) (domain.SweepResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor, _ := service.ActorFromContext(ctx)
	r.calls = append(r.calls, asOf)
	r.actors = append(r.actors, actor)
	if r.err != nil {
		return domain.SweepResponse{}, r.err
	}
	return domain.SweepResponse{AsOf: asOf, Expired: 1, BatchIDs: []string{"bat-1"}}, nil
}

func (r *recordingSweeper) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestExpirySweeperRunsAsAdminUntilCancelled(t *testing.T) {
	fixed := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	sweeper := &recordingSweeper{}
	ctx, cancel := context.WithCancel(context.Background())

	done := StartExpirySweeper(ctx, ExpirySweeperConfig{
		Sweeper:  sweeper,
		Interval: 5 * time.Millisecond,
		Log:      config.DiscardLogger(),
		Now:      func() time.Time { return fixed },
	})

	require.Eventually(t, func() bool { return sweeper.count() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}

	sweeper.mu.Lock()
	defer sweeper.mu.Unlock()
	assert.Equal(t, fixed, sweeper.calls[0])
	assert.Equal(t, domain.RoleAdmin, sweeper.actors[0].Role)
}

func TestExpirySweeperSurvivesErrors(t *testing.T) {
	sweeper := &recordingSweeper{err: errors.New("database unavailable")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := StartExpirySweeper(ctx, ExpirySweeperConfig{
		Sweeper:  sweeper,
		Interval: 5 * time.Millisecond,
		Log:      config.DiscardLogger(),
	})

	require.Eventually(t, func() bool { return sweeper.count() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
