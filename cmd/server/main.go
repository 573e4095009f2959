package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"koperasi/backend/internal/cache"
	"koperasi/backend/internal/config"
	"koperasi/backend/internal/consignment"
	"koperasi/backend/internal/finance"
	"koperasi/backend/internal/httpapi"
	"koperasi/backend/internal/ledger"
	"koperasi/backend/internal/lock"
	"koperasi/backend/internal/sale"
	"koperasi/backend/internal/service"
	"koperasi/backend/internal/store"
	"koperasi/backend/internal/store/memory"
	pgstore "koperasi/backend/internal/store/postgres"
	"koperasi/backend/internal/valuation"
	"koperasi/backend/internal/worker"
)

func main() {
	cfg := config.Load()
	log := config.NewLogger(cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Store
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("postgres migration failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	summaries := cache.SummaryCache(cache.NoopSummaryCache{})
	if cfg.DatabaseURL == "" {
		// A single process owns the in-memory repository, so a local cache stays coherent.
		summaries = cache.NewMemorySummaryCache()
	}
	locker := lock.Locker(lock.Noop{})
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisSummaryCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unavailable, using fallback cache and in-process locking only")
			_ = redisCache.Close()
		} else {
			summaries = redisCache
			locker = lock.NewRedisLocker(client, cfg.LockTTL, log)
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis")
		}
	} else if cfg.DatabaseURL == "" {
		log.Info("cache: in-process")
	} else {
		log.Info("cache: noop")
	}

	policy := consignment.ParsePolicy(cfg.ExpiryPolicy)
	l := ledger.New()
	val := valuation.New(l)
	alloc := consignment.NewAllocator(l, policy, log)
	fin := finance.NewService(repo, summaries, cfg.SummaryCacheTTL, log)
	engine := sale.New(repo, val, alloc, log).
		WithLocker(locker).
		WithListener(fin).
		WithMaxAttempts(cfg.CommitMaxAttempts)

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN)
	svc := service.New(repo, engine, val, alloc, fin, auth, log).
		WithLocker(locker).
		WithMaxAttempts(cfg.CommitMaxAttempts)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	runCtx, stopWorkers := context.WithCancel(context.Background())
	var sweeperDone <-chan struct{}
	if cfg.ExpirySweepInterval > 0 {
		sweeperDone = worker.StartExpirySweeper(runCtx, worker.ExpirySweeperConfig{
			Sweeper:  svc,
			Interval: cfg.ExpirySweepInterval,
			Log:      log,
		})
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Address(), "expiry_policy": string(policy)}).Info("ledger backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
	stopWorkers()
	if sweeperDone != nil {
		<-sweeperDone
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Error("close error")
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return errors.New("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	// Reject all-same-digit PINs.
	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	// Reject ascending or descending sequential PINs (e.g. 123456, 987654).
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
