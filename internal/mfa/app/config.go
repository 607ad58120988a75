package app

import (
	"os"
	"strconv"
	"time"
)

// MasterKeyEnvVar is consulted for the secret sealing key when no key file
// is configured.
const MasterKeyEnvVar = "MFA_MASTER_KEY"

type Config struct {
	Issuer        string // Optional: issuer label for provisioning URIs (default: openidaas)
	DatabaseFile  string // Optional: path to SQLite database file (default: ./mfa.db)
	MasterKeyPath string // Optional: path to master encryption key file

	OTPBackend string        // Optional: ephemeral OTP backend (sqlite, redis) (default: sqlite)
	RedisURL   string        // Required when OTPBackend is redis (e.g. redis://localhost:6379/0)
	OTPTTL     time.Duration // Optional: lifetime of delivered codes (default: 5m)

	PendingSetupWindow   time.Duration // Optional: how long an unverified setup may linger (default: 24h)
	HousekeepingInterval time.Duration // Optional: cleanup cadence (default: 1h)
	ShutdownGracePeriod  time.Duration // Optional: graceful shutdown timeout (default: 10s)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
}

func LoadConfig() Config {
	return Config{
		Issuer:        getEnvOrDefault("MFA_ISSUER", "openidaas"),
		DatabaseFile:  getEnvOrDefault("MFA_DATABASE_FILE", "mfa.db"),
		MasterKeyPath: os.Getenv("MFA_MASTER_KEY_PATH"),

		OTPBackend: getEnvOrDefault("MFA_OTP_BACKEND", "sqlite"),
		RedisURL:   os.Getenv("MFA_REDIS_URL"),
		OTPTTL:     getEnvDurationOrDefault("MFA_OTP_TTL", 5*time.Minute),

		PendingSetupWindow:   getEnvDurationOrDefault("MFA_PENDING_SETUP_WINDOW", 24*time.Hour),
		HousekeepingInterval: getEnvDurationOrDefault("MFA_HOUSEKEEPING_INTERVAL", 1*time.Hour),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
