package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.ManagerPIN)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EXPIRY_POLICY", "")
	t.Setenv("COMMIT_MAX_ATTEMPTS", "")
	t.Setenv("SUMMARY_CACHE_TTL_SECONDS", "")
	t.Setenv("EXPIRY_SWEEP_INTERVAL_SECONDS", "")
	t.Setenv("LOCK_TTL_SECONDS", "")

	cfg := Load()
	assert.Equal(t, "forbid", cfg.ExpiryPolicy)
	assert.Equal(t, 3, cfg.CommitMaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.SummaryCacheTTL)
	assert.Equal(t, time.Hour, cfg.ExpirySweepInterval)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
}

func TestLoadRejectsBadNumbersAndUnknownPolicy(t *testing.T) {
	t.Setenv("EXPIRY_POLICY", "sometimes")
	t.Setenv("COMMIT_MAX_ATTEMPTS", "0")
	t.Setenv("EXPIRY_SWEEP_INTERVAL_SECONDS", "0")

	cfg := Load()
	assert.Equal(t, "forbid", cfg.ExpiryPolicy)
	assert.Equal(t, 3, cfg.CommitMaxAttempts)
	assert.Zero(t, cfg.ExpirySweepInterval)
}

func TestLoadAllowPolicy(t *testing.T) {
	t.Setenv("EXPIRY_POLICY", " ALLOW ")
	assert.Equal(t, "allow", Load().ExpiryPolicy)
}

func TestNewLoggerLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, NewLogger("debug").GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewLogger("chatty").GetLevel())
}
