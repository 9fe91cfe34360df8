package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Broker    BrokerConfig
	Cache     CacheConfig
	Storage   StorageConfig
	OCR       OCRConfig
	Translate TranslateConfig
	Render    RenderConfig
	Sweep     SweepConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// BrokerConfig holds the Redis Streams broker configuration
type BrokerConfig struct {
	Addr          string
	DB            int
	ConsumerGroup string
	BlockTimeout  time.Duration
}

// CacheConfig holds the fast-tier cache configuration
type CacheConfig struct {
	Addr string
	DB   int
}

// StorageConfig selects where raw uploads and rendered artifacts live
type StorageConfig struct {
	Backend   string // "local" or "gcs"
	LocalDir  string
	GCSBucket string
}

// OCRConfig holds text-extraction configuration
type OCRConfig struct {
	TesseractPath string
	Language      string
	Timeout       time.Duration
}

// TranslateConfig holds translation-engine configuration
type TranslateConfig struct {
	URL        string
	SourceLang string
	TargetLang string
	Timeout    time.Duration
}

// RenderConfig holds document-rendering configuration. FontPath points at a
// TTF with full Unicode coverage; rendering falls back to the built-in core
// font when unset.
type RenderConfig struct {
	FontPath string
}

// SweepConfig holds recovery-sweep configuration
type SweepConfig struct {
	Interval time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Broker: BrokerConfig{
			Addr:          getEnv("BROKER_ADDR", "127.0.0.1:6379"),
			DB:            getEnvAsInt("BROKER_DB", 0),
			ConsumerGroup: getEnv("BROKER_CONSUMER_GROUP", "pipeline-workers"),
			BlockTimeout:  getEnvAsDuration("BROKER_BLOCK_TIMEOUT", 5*time.Second),
		},
		Cache: CacheConfig{
			Addr: getEnv("CACHE_ADDR", "127.0.0.1:6379"),
			DB:   getEnvAsInt("CACHE_DB", 1),
		},
		Storage: StorageConfig{
			Backend:   getEnv("STORAGE_BACKEND", "local"),
			LocalDir:  getEnv("STORAGE_DIR", "./storage"),
			GCSBucket: getEnv("GOOGLE_CLOUD_STORAGE_BUCKET", ""),
		},
		OCR: OCRConfig{
			TesseractPath: getEnv("TESSERACT_PATH", "tesseract"),
			Language:      getEnv("OCR_LANGUAGE", "eng"),
			Timeout:       getEnvAsDuration("OCR_TIMEOUT", 60*time.Second),
		},
		Translate: TranslateConfig{
			URL:        getEnv("TRANSLATE_URL", ""),
			SourceLang: getEnv("TRANSLATE_SOURCE_LANG", "en"),
			TargetLang: getEnv("TRANSLATE_TARGET_LANG", "vi"),
			Timeout:    getEnvAsDuration("TRANSLATE_TIMEOUT", 45*time.Second),
		},
		Render: RenderConfig{
			FontPath: getEnv("RENDER_FONT_PATH", ""),
		},
		Sweep: SweepConfig{
			Interval: getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Broker.Addr == "" {
		return NewAppError("CONFIG_ERROR", "BROKER_ADDR is required", ErrInvalidInput)
	}
	if c.Translate.URL == "" {
		return NewAppError("CONFIG_ERROR", "TRANSLATE_URL is required", ErrInvalidInput)
	}
	if c.Storage.Backend != "local" && c.Storage.Backend != "gcs" {
		return NewAppError("CONFIG_ERROR", "STORAGE_BACKEND must be local or gcs", ErrInvalidInput)
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return NewAppError("CONFIG_ERROR", "GOOGLE_CLOUD_STORAGE_BUCKET is required for gcs storage", ErrInvalidInput)
	}
	if c.Sweep.Interval <= 0 {
		return NewAppError("CONFIG_ERROR", "SWEEP_INTERVAL must be positive", ErrInvalidInput)
	}
	return nil
}
