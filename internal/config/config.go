package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LogLevel              string
	ExpiryPolicy          string
	CommitMaxAttempts     int
	SummaryCacheTTL       time.Duration
	ExpirySweepInterval   time.Duration
	LockTTL               time.Duration
}

// Load reads the process environment, after merging a .env file if one exists.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1)
	attempts := getEnvInt("COMMIT_MAX_ATTEMPTS", 3, 1)
	cacheTTL := getEnvInt("SUMMARY_CACHE_TTL_SECONDS", 300, 0)
	sweep := getEnvInt("EXPIRY_SWEEP_INTERVAL_SECONDS", 3600, 0)
	lockTTL := getEnvInt("LOCK_TTL_SECONDS", 10, 1)

	policy := strings.ToLower(strings.TrimSpace(getEnv("EXPIRY_POLICY", "forbid")))
	if policy != "allow" {
		policy = "forbid"
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		ExpiryPolicy:          policy,
		CommitMaxAttempts:     attempts,
		SummaryCacheTTL:       time.Duration(cacheTTL) * time.Second,
		ExpirySweepInterval:   time.Duration(sweep) * time.Second,
		LockTTL:               time.Duration(lockTTL) * time.Second,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int, min int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < min {
		return fallback
	}
	return n
}
