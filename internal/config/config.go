package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/opentranslator/client/internal/apperrors"
)

type Config struct {
	// Backend API
	APIBaseURL string
	IdentityURL string
	APIKey      string

	// Request timeouts
	SubmitTimeout      time.Duration
	LargeSubmitTimeout time.Duration
	LargeFileThreshold int64
	StatusTimeout      time.Duration
	ResultTimeout      time.Duration

	// Poll loop tuning
	FailureCeiling   int
	MaxBackoff       time.Duration
	StallWarnAfter   time.Duration
	StallStuckAfter  time.Duration

	// Token cache
	TokenLifetime     time.Duration
	TokenSafetyMargin time.Duration
	TokenRefreshEvery time.Duration

	// Optional shared snapshot store
	RedisAddr string

	// Local progress bridge
	BridgeAddr string

	// Local job history
	HistoryPath string

	// Optional export archive (S3-compatible)
	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveUseSSL    bool

	LogLevel string
}

func Load() *Config {
	// A missing .env file is fine; env vars win either way.
	godotenv.Load()

	largeThreshold, _ := strconv.ParseInt(getEnvOrDefault("LARGE_FILE_THRESHOLD_BYTES", "10485760"), 10, 64)
	if largeThreshold <= 0 {
		largeThreshold = 10 << 20
	}

	failureCeiling, _ := strconv.Atoi(getEnvOrDefault("POLL_FAILURE_CEILING", "15"))
	if failureCeiling <= 0 {
		failureCeiling = 15
	}

	archiveUseSSL, _ := strconv.ParseBool(getEnvOrDefault("ARCHIVE_USE_SSL", "false"))

	return &Config{
		APIBaseURL:  getEnvOrDefault("API_BASE_URL", "http://localhost:8080/api"),
		IdentityURL: getEnvOrDefault("IDENTITY_URL", "http://localhost:8081/token"),
		APIKey:      os.Getenv("API_KEY"),

		SubmitTimeout:      getDurationOrDefault("SUBMIT_TIMEOUT", 60*time.Second),
		LargeSubmitTimeout: getDurationOrDefault("LARGE_SUBMIT_TIMEOUT", 90*time.Second),
		LargeFileThreshold: largeThreshold,
		StatusTimeout:      getDurationOrDefault("STATUS_TIMEOUT", 8*time.Second),
		ResultTimeout:      getDurationOrDefault("RESULT_TIMEOUT", 15*time.Second),

		FailureCeiling:  failureCeiling,
		MaxBackoff:      getDurationOrDefault("POLL_MAX_BACKOFF", 15*time.Second),
		StallWarnAfter:  getDurationOrDefault("STALL_WARN_AFTER", 30*time.Second),
		StallStuckAfter: getDurationOrDefault("STALL_STUCK_AFTER", 2*time.Minute),

		TokenLifetime:     getDurationOrDefault("TOKEN_LIFETIME", 60*time.Minute),
		TokenSafetyMargin: getDurationOrDefault("TOKEN_SAFETY_MARGIN", 5*time.Minute),
		TokenRefreshEvery: getDurationOrDefault("TOKEN_REFRESH_EVERY", 50*time.Minute),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		BridgeAddr: getEnvOrDefault("BRIDGE_ADDR", "localhost:7733"),

		HistoryPath: getEnvOrDefault("HISTORY_PATH", defaultHistoryPath()),

		ArchiveEndpoint:  os.Getenv("ARCHIVE_ENDPOINT"),
		ArchiveAccessKey: getEnvOrDefault("ARCHIVE_ACCESS_KEY", "minioadmin"),
		ArchiveSecretKey: getEnvOrDefault("ARCHIVE_SECRET_KEY", "minioadmin"),
		ArchiveBucket:    getEnvOrDefault("ARCHIVE_BUCKET", "translated-documents"),
		ArchiveUseSSL:    archiveUseSSL,

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}
}

// PollBackoff builds the poll loop backoff parameters from the config
func (c *Config) PollBackoff() *apperrors.BackoffConfig {
	backoff := apperrors.DefaultBackoffConfig()
	backoff.MaxDelay = c.MaxBackoff
	return backoff
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "translate-history.db"
	}
	return home + "/.opentranslator/history.db"
}
