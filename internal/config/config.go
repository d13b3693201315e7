// Package config loads application settings from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings used across the application.
type Config struct {
	// Application settings
	AppUsername     string // operator login username
	AppPasswordHash string // bcrypt-hashed operator password
	SessionSecret   string // cookie session signing key

	// Server settings
	Port    string // API server port
	GinMode string // gin run mode (debug, release, test)

	// CORS settings
	CORSAllowedOrigins string // comma-separated allowed origins

	// Upload limits
	MaxUploadSize int64 // maximum recording upload size in bytes

	// Queue settings
	QueueRedisURL     string        // redis connection URL for asynq and state stores
	WorkerConcurrency int           // number of concurrent worker slots
	MaxAttempts       int           // transcription attempts before quarantine
	RetryBackoffBase  time.Duration // first retry delay, doubled per attempt
	JobTimeout        time.Duration // per-job execution timeout
	JobRetention      time.Duration // how long terminal jobs stay queryable
	DispatchPerMinute int           // transcription dispatch rate cap
	HeartbeatInterval time.Duration // worker liveness signal interval

	// Transcription service settings
	TranscriptionURL     string        // base URL of the speech/AI service
	TranscriptionTimeout time.Duration // HTTP client timeout for non-streaming calls

	// Storage settings
	StorageDir    string // primary recording artifact directory
	QuarantineDir string // namespace for artifacts of permanently failed jobs

	// Live capture settings
	SessionMaxAge time.Duration // bot sessions older than this are swept
}

// Load reads the configuration from environment variables.
// A .env.local file is loaded first when present.
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		MaxUploadSize: getEnvAsInt64("MAX_UPLOAD_SIZE", 524288000), // 500MB

		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 2),
		MaxAttempts:       getEnvAsInt("MAX_ATTEMPTS", 3),
		RetryBackoffBase:  getEnvAsDuration("RETRY_BACKOFF_BASE", 5*time.Second),
		JobTimeout:        getEnvAsDuration("JOB_TIMEOUT", 30*time.Minute),
		JobRetention:      getEnvAsDuration("JOB_RETENTION", 24*time.Hour),
		DispatchPerMinute: getEnvAsInt("DISPATCH_PER_MINUTE", 4),
		HeartbeatInterval: getEnvAsDuration("HEARTBEAT_INTERVAL", 15*time.Second),

		TranscriptionURL:     getEnv("TRANSCRIPTION_SERVICE_URL", "http://127.0.0.1:9000"),
		TranscriptionTimeout: getEnvAsDuration("TRANSCRIPTION_TIMEOUT", 60*time.Second),

		StorageDir:    getEnv("STORAGE_DIR", filepath.Join(os.TempDir(), "notu", "recordings")),
		QuarantineDir: getEnv("QUARANTINE_DIR", filepath.Join(os.TempDir(), "notu", "quarantine")),

		SessionMaxAge: getEnvAsDuration("SESSION_MAX_AGE", 4*time.Hour),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate checks the configuration for consistency.
// Local development is lenient; release mode is strict.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.GinMode == "release" {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required in release mode")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.TranscriptionURL == "" {
			return fmt.Errorf("TRANSCRIPTION_SERVICE_URL is required in release mode")
		}
	}

	return nil
}

// getEnv returns an environment variable or the default when unset.
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt returns an environment variable parsed as an int.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 returns an environment variable parsed as an int64.
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration returns an environment variable parsed as a Go duration ("15s", "10m").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
