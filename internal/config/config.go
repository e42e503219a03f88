package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// CommissionRateBps is the platform commission in basis points
	// (1500 = 15%). Applied when a payment is captured.
	CommissionRateBps int64

	// HoldWindow is how long mentor funds stay in pending balance after
	// session completion before the escrow sweep may release them.
	HoldWindow time.Duration

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string

	ProviderTimeout  time.Duration
	ProviderRetries  int
	StripeSecretKey  string
	PaymobSecretKey  string
	DefaultProvider  string
	SweepInterval    time.Duration
	SweepBatchSize   int
	PayoutLockTTL    time.Duration
	PayoutLockPrefix string
}

// Module provides Config to the fx graph.
var Module = fx.Provide(Load)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "settlement"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		CommissionRateBps: getenvInt64("COMMISSION_RATE_BPS", 1500),
		HoldWindow:        getenvDuration("HOLD_WINDOW", 72*time.Hour),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "settlement"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		ProviderTimeout:  getenvDuration("PROVIDER_TIMEOUT", 10*time.Second),
		ProviderRetries:  getenvInt("PROVIDER_RETRIES", 3),
		StripeSecretKey:  strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
		PaymobSecretKey:  strings.TrimSpace(getenv("PAYMOB_SECRET_KEY", "")),
		DefaultProvider:  strings.ToLower(getenv("DEFAULT_PAYMENT_PROVIDER", "stripe")),
		SweepInterval:    getenvDuration("SWEEP_INTERVAL", time.Minute),
		SweepBatchSize:   getenvInt("SWEEP_BATCH_SIZE", 50),
		PayoutLockTTL:    getenvDuration("PAYOUT_LOCK_TTL", 30*time.Second),
		PayoutLockPrefix: getenv("PAYOUT_LOCK_PREFIX", "settlement:payout:process:"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
