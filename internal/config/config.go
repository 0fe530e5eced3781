package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	AdminAPIKey string

	// BlobStorePath is the root directory of the filesystem blob
	// backend. Empty selects the in-memory backend.
	BlobStorePath string

	// PolicyBundlePath points at a rego bundle directory. Empty runs
	// with the allow-all engine.
	PolicyBundlePath string

	// TypeDefinitionsPath points at a JSON file of extra artifact type
	// definitions loaded at startup next to the built-ins.
	TypeDefinitionsPath string

	DefaultMaxArtifacts int64
	DefaultMaxBlobBytes int64

	QuotaCacheTTLSeconds int

	LifecycleMaxRetries  int
	StorageDeleteRetries int
	DependencyMaxDepth   int

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:               addr,
		PostgresDSN:            os.Getenv("POSTGRES_DSN"),
		LogLevel:               envDefault("LOG_LEVEL", "info"),
		AdminAPIKey:            os.Getenv("ADMIN_API_KEY"),
		BlobStorePath:          os.Getenv("BLOB_STORE_PATH"),
		PolicyBundlePath:       os.Getenv("POLICY_BUNDLE_PATH"),
		TypeDefinitionsPath:    os.Getenv("TYPE_DEFINITIONS_PATH"),
		DefaultMaxArtifacts:    envInt64Default("DEFAULT_MAX_ARTIFACTS", 0),
		DefaultMaxBlobBytes:    envInt64Default("DEFAULT_MAX_BLOB_BYTES", 0),
		QuotaCacheTTLSeconds:   envIntDefault("QUOTA_CACHE_TTL_SECONDS", 30),
		LifecycleMaxRetries:    envIntDefault("LIFECYCLE_MAX_RETRIES", 3),
		StorageDeleteRetries:   envIntDefault("STORAGE_DELETE_RETRIES", 3),
		DependencyMaxDepth:     envIntDefault("DEPENDENCY_MAX_DEPTH", 5),
		RateLimitRequests:      envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:    envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envIntDefault("REDIS_DB", 0),
	}
}

func (c Config) QuotaCacheTTL() time.Duration {
	if c.QuotaCacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.QuotaCacheTTLSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envInt64Default(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
