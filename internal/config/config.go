package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr    string
	TLSSelfSigned bool
	AdminToken    string
	LogLevel      string
	LogFormat     string

	OwnerID  int64
	AdminIDs []int64

	DatabaseDriver   string
	SQLitePath       string
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresSSLMode  string

	RateLimit           int
	RateLimitWindow     time.Duration
	RateLimitStore      string
	GlobalRatePerSecond float64
	HTTPRateLimit       int

	DefaultCredits int
	CreditFloor    int

	CacheTTL           time.Duration
	CacheEviction      string
	CacheSweepInterval time.Duration
	CacheMaxEntries    int

	UpstreamTimeout time.Duration
	UpstreamRetries int
	BackoffBase     time.Duration
	ServicesFile    string
	Services        []ServiceDescriptor

	ArchiveThreshold int
	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string

	StatsResetInterval time.Duration

	Developer string
	PoweredBy string
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	EvictionLazy  = "lazy"
	EvictionSweep = "sweep"

	RateStoreDatabase = "database"
	RateStoreMemory   = "memory"
)

// Load reads .env (if present) and the process environment. A .env file
// that exists but cannot be parsed is an error.
func Load() (*Config, error) {
	for _, path := range envPaths() {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
			break
		}
	}

	cfg := &Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		TLSSelfSigned: getEnvBool("TLS_SELF_SIGNED", false),
		AdminToken:    getEnv("ADMIN_TOKEN", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),

		OwnerID:  getEnvInt64("OWNER_ID", 0),
		AdminIDs: getEnvInt64List("ADMIN_IDS"),

		DatabaseDriver:   getEnv("DB_DRIVER", DriverSQLite),
		SQLitePath:       getEnv("SQLITE_PATH", "data/lookup_relay.db"),
		PostgresUser:     getEnv("POSTGRES_USER", "relay"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase: getEnv("POSTGRES_DATABASE", "lookup_relay"),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RateLimit:           getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
		RateLimitWindow:     getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitStore:      strings.ToLower(getEnv("RATE_LIMIT_STORE", RateStoreDatabase)),
		GlobalRatePerSecond: getEnvFloat("GLOBAL_RATE_PER_SECOND", 5),
		HTTPRateLimit:       getEnvInt("HTTP_RATE_LIMIT_PER_MINUTE", 120),

		DefaultCredits: getEnvInt("DEFAULT_CREDITS", 100),
		CreditFloor:    getEnvInt("CREDIT_FLOOR", 0),

		CacheTTL:           getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheEviction:      strings.ToLower(getEnv("CACHE_EVICTION", EvictionLazy)),
		CacheSweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", time.Minute),
		CacheMaxEntries:    getEnvInt("CACHE_MAX_ENTRIES", 0),

		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		UpstreamRetries: getEnvInt("UPSTREAM_RETRIES", 3),
		BackoffBase:     getEnvDuration("UPSTREAM_BACKOFF_BASE", time.Second),
		ServicesFile:    getEnv("SERVICES_FILE", ""),

		ArchiveThreshold: getEnvInt("ARCHIVE_THRESHOLD_BYTES", 64*1024),
		S3Bucket:         getEnv("S3_BUCKET", "lookup-payloads"),
		S3Region:         getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3AccessKey:      getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),

		StatsResetInterval: getEnvDuration("STATS_RESET_INTERVAL", 10*time.Minute),

		Developer: getEnv("UI_DEVELOPER", "@Nullprotocol_X"),
		PoweredBy: getEnv("UI_POWERED_BY", "NULL PROTOCOL"),
	}

	services, err := LoadServices(cfg.ServicesFile, cfg.UpstreamTimeout, cfg.UpstreamRetries)
	if err != nil {
		return nil, err
	}
	cfg.Services = services

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.DatabaseDriver == DriverSQLite {
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DatabaseDriver)
	}
	switch c.CacheEviction {
	case EvictionLazy, EvictionSweep:
	default:
		return fmt.Errorf("unsupported CACHE_EVICTION %q", c.CacheEviction)
	}
	switch c.RateLimitStore {
	case RateStoreDatabase, RateStoreMemory:
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_STORE %q", c.RateLimitStore)
	}
	if c.RateLimit <= 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be positive")
	}
	if c.CacheTTL <= 0 {
		return errors.New("CACHE_TTL must be positive")
	}
	if len(c.Services) == 0 {
		return errors.New("no upstream services configured")
	}
	return nil
}

// S3Enabled reports whether large payloads should be archived to object storage.
func (c *Config) S3Enabled() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// IsPrivileged reports whether id belongs to the owner or an admin.
func (c *Config) IsPrivileged(id int64) bool {
	if id != 0 && id == c.OwnerID {
		return true
	}
	for _, adminID := range c.AdminIDs {
		if adminID == id {
			return true
		}
	}
	return false
}

func envPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
		paths = append(paths, filepath.Join(filepath.Dir(cwd), ".env"))
	}
	return paths
}

func getEnv(key, defaultValue string) string {
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvInt64List(key string) []int64 {
	var ids []int64
	for _, part := range strings.Split(os.Getenv(key), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
