package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/service"
)

const defaultSweepInterval = 15 * time.Minute

// Sweeper marks consignment batches past their expiry as EXPIRED.
type Sweeper interface {
	SweepExpired(ctx context.Context, asOf time.Time) (domain.SweepResponse, error)
}

// ExpirySweeperConfig holds the dependencies of the expiry goroutine.
type ExpirySweeperConfig struct {
	Sweeper  Sweeper
	Interval time.Duration
	Log      *logrus.Logger
	Now      func() time.Time
}

var systemActor = domain.Actor{Username: "system:expiry-sweeper", Role: domain.RoleAdmin}

// StartExpirySweeper sweeps once immediately and then on every tick until ctx
// is cancelled. The returned channel is closed when the goroutine exits.
func StartExpirySweeper(ctx context.Context, cfg ExpirySweeperConfig) <-chan struct{} {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		cfg.Log.WithField("interval", cfg.Interval.String()).Info("expiry_sweeper: started")
		sweepOnce(ctx, cfg)

		for {
			select {
			case <-ctx.Done():
				cfg.Log.Info("expiry_sweeper: shutting down")
				return
			case <-ticker.C:
				sweepOnce(ctx, cfg)
			}
		}
	}()
	return done
}

func sweepOnce(ctx context.Context, cfg ExpirySweeperConfig) {
	resp, err := cfg.Sweeper.SweepExpired(service.WithActor(ctx, systemActor), cfg.Now())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		cfg.Log.WithError(err).Error("expiry_sweeper: sweep failed")
		return
	}
	if resp.Expired > 0 {
		cfg.Log.WithFields(logrus.Fields{
			"expired":   resp.Expired,
			"batch_ids": resp.BatchIDs,
		}).Info("expiry_sweeper: batches expired")
	}
}
