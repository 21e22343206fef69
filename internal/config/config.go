package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable of the auth core. All values come from the
// environment with safe defaults; store backends and the key provider are
// explicit startup choices, never runtime fallbacks.
type Config struct {
	Profile string

	Issuer   string
	Audience string

	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	ChildAccessTokenTTL  time.Duration
	ChildRefreshTokenTTL time.Duration

	KeyCacheTTL           time.Duration
	KeyRotationInterval   time.Duration
	KeyRotationCheckEvery time.Duration
	SigningKeyRetention   time.Duration

	KeyStoreDriver string // sqlite | postgres
	KeyStoreDSN    string
	KeyProvider    string // local | kms

	SessionStoreBackend  string // memory | redis
	SessionSweepInterval time.Duration
	StoreTimeout         time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
}

func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{
		Profile: getEnv("APP_PROFILE", "dev"),

		Issuer:   getEnv("AUTH_ISSUER", "stealth-learning"),
		Audience: getEnv("AUTH_AUDIENCE", "stealth-learning-api"),

		AccessTokenTTL:       getDuration("AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:      getDuration("AUTH_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ChildAccessTokenTTL:  getDuration("AUTH_CHILD_ACCESS_TOKEN_TTL", 5*time.Minute),
		ChildRefreshTokenTTL: getDuration("AUTH_CHILD_REFRESH_TOKEN_TTL", 2*time.Hour),

		KeyCacheTTL:           getDuration("KEY_CACHE_TTL", time.Hour),
		KeyRotationInterval:   getDuration("KEY_ROTATION_INTERVAL", 90*24*time.Hour),
		KeyRotationCheckEvery: getDuration("KEY_ROTATION_CHECK_EVERY", time.Hour),
		SigningKeyRetention:   getDuration("SIGNING_KEY_RETENTION", 30*24*time.Hour),

		KeyStoreDriver: getEnv("KEYSTORE_DRIVER", "sqlite"),
		KeyStoreDSN:    getEnv("KEYSTORE_DSN", "file:authcore.db?_busy_timeout=5000"),
		KeyProvider:    getEnv("KEY_PROVIDER", "local"),

		SessionStoreBackend:  getEnv("SESSION_STORE_BACKEND", "memory"),
		SessionSweepInterval: getDuration("SESSION_SWEEP_INTERVAL", time.Hour),
		StoreTimeout:         getDuration("STORE_TIMEOUT", 3*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "stealth-learning-auth-core"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", "dev"),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        getBool("OTEL_METRICS_ENABLED", false),
		OTELTracesEnabled:         getBool("OTEL_TRACES_ENABLED", false),
		OTELLogsEnabled:           getBool("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: getDuration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		recordConfigValidationEvent(ctx, cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.Profile, "success", "none")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Issuer == "" || c.Audience == "" {
		return fmt.Errorf("validate config: issuer and audience are required")
	}
	for name, d := range map[string]time.Duration{
		"AUTH_ACCESS_TOKEN_TTL":        c.AccessTokenTTL,
		"AUTH_REFRESH_TOKEN_TTL":       c.RefreshTokenTTL,
		"AUTH_CHILD_ACCESS_TOKEN_TTL":  c.ChildAccessTokenTTL,
		"AUTH_CHILD_REFRESH_TOKEN_TTL": c.ChildRefreshTokenTTL,
		"KEY_CACHE_TTL":                c.KeyCacheTTL,
		"KEY_ROTATION_INTERVAL":        c.KeyRotationInterval,
		"SESSION_SWEEP_INTERVAL":       c.SessionSweepInterval,
		"STORE_TIMEOUT":                c.StoreTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("validate config: %s must be positive", name)
		}
	}
	if c.ChildAccessTokenTTL > c.AccessTokenTTL {
		return fmt.Errorf("validate config: child access TTL must not exceed the standard access TTL")
	}
	if c.ChildRefreshTokenTTL > c.RefreshTokenTTL {
		return fmt.Errorf("validate config: child refresh TTL must not exceed the standard refresh TTL")
	}
	switch c.KeyStoreDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("validate config: unsupported KEYSTORE_DRIVER %q", c.KeyStoreDriver)
	}
	switch c.KeyProvider {
	case "local", "kms":
	default:
		return fmt.Errorf("validate config: unsupported KEY_PROVIDER %q", c.KeyProvider)
	}
	switch c.SessionStoreBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("validate config: unsupported SESSION_STORE_BACKEND %q", c.SessionStoreBackend)
	}
	if c.SessionStoreBackend == "redis" && strings.TrimSpace(c.RedisAddr) == "" {
		return fmt.Errorf("validate config: REDIS_ADDR is required for the redis session store")
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}

func getBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}
