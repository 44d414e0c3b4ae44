package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading service.
type Config struct {
	Port string

	// Storage
	DBDriver string // "sqlite" (default) or "memory"
	DBPath   string

	// Auth
	JWTSecret     string
	TokenTTL      time.Duration
	AdminUsername string
	AdminEmail    string
	AdminPassword string

	// Bank account encryption; empty disables it.
	MasterEncryptionKey string

	// Settlement
	SettlementInterval time.Duration
	SettlementWorkers  int

	// Price oracle
	OracleMock       bool
	OracleBaseURL    string
	OracleAPIKey     string
	OracleVsCurrency string
	OracleTopN       int
	OracleTTL        time.Duration
	OracleMaxRetries int
	OracleBackoff    time.Duration
	OracleRPS        float64
	MockAssets       []string

	MarketFeedInterval time.Duration

	// HTTP
	RateLimitRPS    float64
	RateLimitBurst  int
	RequestTimeout  time.Duration
	AllowedOrigins  []string
	ShutdownTimeout time.Duration

	SettingsSeedPath string

	// Localization
	Language string // "en" or "zh"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/bintrade.db")
	}

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DBDriver:            strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:              dbPath,
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		TokenTTL:            getEnvDuration("TOKEN_TTL", 24*time.Hour),
		AdminUsername:       os.Getenv("ADMIN_USERNAME"),
		AdminEmail:          getEnv("ADMIN_EMAIL", "admin@localhost.localdomain"),
		AdminPassword:       os.Getenv("ADMIN_PASSWORD"),
		MasterEncryptionKey: os.Getenv("MASTER_ENCRYPTION_KEY"),
		SettlementInterval:  getEnvDuration("SETTLEMENT_INTERVAL", 5*time.Second),
		SettlementWorkers:   getEnvInt("SETTLEMENT_WORKERS", 4),
		OracleMock:          getEnv("ORACLE_MOCK", "false") == "true",
		OracleBaseURL:       getEnv("ORACLE_BASE_URL", "https://api.coingecko.com/api/v3"),
		OracleAPIKey:        os.Getenv("ORACLE_API_KEY"),
		OracleVsCurrency:    getEnv("ORACLE_VS_CURRENCY", "usd"),
		OracleTopN:          getEnvInt("ORACLE_TOP_N", 50),
		OracleTTL:           getEnvDuration("ORACLE_TTL", 60*time.Second),
		OracleMaxRetries:    getEnvInt("ORACLE_MAX_RETRIES", 3),
		OracleBackoff:       getEnvDuration("ORACLE_BACKOFF", time.Second),
		OracleRPS:           getEnvFloat("ORACLE_RPS", 0.5),
		MockAssets:          splitAndTrim(getEnv("MOCK_ASSETS", "bitcoin,ethereum,solana,ripple,dogecoin")),
		MarketFeedInterval:  getEnvDuration("MARKET_FEED_INTERVAL", 15*time.Second),
		RateLimitRPS:        getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 40),
		RequestTimeout:      getEnvDuration("REQUEST_TIMEOUT", 15*time.Second),
		AllowedOrigins:      splitAndTrim(getEnv("ALLOWED_ORIGINS", "*")),
		ShutdownTimeout:     getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		SettingsSeedPath:    getEnv("SETTINGS_SEED_PATH", "settings.yaml"),
		Language:            getEnv("LANGUAGE", "en"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("5s", "1m") or plain seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
