package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// Database
	DatabaseURL string
	DBTimeout   time.Duration

	// Snapshots
	SnapshotCron  string
	TZ            string
	SnapshotDir   string
	RetentionDays int

	// Logging
	LogLevel  string
	LogFormat string

	// Service
	ServicePort    int
	RateLimitRPS   float64
	RateLimitBurst int
}

// LoadEnvFiles reads .env and .env.local from the working directory. Variables
// already set in the environment win.
func LoadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBTimeout:     getEnvDuration("DB_TIMEOUT", 30*time.Second),
		SnapshotCron:  getEnvString("SNAPSHOT_CRON", "30 0 * * *"),
		TZ:            getEnvString("TZ", "UTC"),
		SnapshotDir:   getEnvString("SNAPSHOT_DIR", "./snapshots"),
		RetentionDays: getEnvInt("RETENTION_DAYS", 30),
		LogLevel:      getEnvString("LOG_LEVEL", "INFO"),
		LogFormat:     getEnvString("LOG_FORMAT", "json"),
		ServicePort:   getEnvInt("SERVICE_PORT", 8080),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),
	}

	// Resolve absolute path for snapshot directory
	if !filepath.IsAbs(cfg.SnapshotDir) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.SnapshotDir = filepath.Join(cwd, cfg.SnapshotDir)
	}

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45s") or a plain number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func NewLogger(cfg *Config) (*zap.Logger, error) {
	var level zapcore.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = zapcore.DebugLevel
	case "INFO":
		level = zapcore.InfoLevel
	case "WARN":
		level = zapcore.WarnLevel
	case "ERROR":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	if cfg.LogFormat == "text" {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}
