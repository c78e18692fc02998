package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Upstream  UpstreamConfig
	Proxy     ProxyConfig
	Pacing    PacingConfig
	Cookies   CookieConfig
	Guest     GuestConfig
	Cache     CacheConfig
	Extract   ExtractConfig
	Bookkeep  BookkeepConfig
	Storage   StorageConfig
	Webhook   WebhookConfig

	// SeedFile is an optional YAML file with browser profiles and cookies
	// loaded at startup.
	SeedFile string
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"

	// TrustedProxies are the proxy CIDRs whose X-Forwarded-For is honoured
	// when resolving the client IP. Empty trusts none.
	TrustedProxies []string

	ShutdownTimeout time.Duration // default: 5s
}

// AuthConfig controls API key authentication of the admin surface.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting of the admin surface.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 5
	Burst             int     // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// UpstreamConfig controls the resilient API client.
type UpstreamConfig struct {
	Timeout             time.Duration // per attempt, default: 30s
	FirstAttemptTimeout time.Duration // default: 0 (same as Timeout)
	Retries             int           // 0 disables retries, default: 2
	BaseBackoff         time.Duration // default: 1s
	MaxBackoff          time.Duration // default: 30s
	OfflineTTL          time.Duration // default: 10s
	MaxBody             int64         // default: 10MB

	// ProxyURL routes all upstream traffic through an outbound proxy.
	ProxyURL string
}

// ProxyConfig controls the media proxy.
type ProxyConfig struct {
	Timeout time.Duration // time to upstream headers, default: 30s
	Retries int           // 0 disables retries, default: 1
}

// PacingConfig controls the per-platform rate/backoff tracker.
type PacingConfig struct {
	Window         time.Duration // default: 60s
	BurstThreshold int           // default: 30
	BurstCooldown  time.Duration // default: 30s
	BaseBackoff    time.Duration // default: 30s
	MaxBackoff     time.Duration // default: 120s
}

// CookieConfig controls cookie health transitions.
type CookieConfig struct {
	ErrorThreshold    int           // default: 3
	ErrorCooldown     time.Duration // default: 30m
	RateLimitCooldown time.Duration // default: 15m
}

// GuestConfig controls the unauthenticated quotas.
type GuestConfig struct {
	PlaygroundLimit  int           // default: 5
	PlaygroundWindow time.Duration // default: 2m
	LegacyLimit      int           // default: 5
	LegacyWindow     time.Duration // default: 5m

	// CleanupThreshold is the in-memory map size that triggers a sweep.
	CleanupThreshold int // default: 10000
}

// CacheConfig controls the extraction result cache.
type CacheConfig struct {
	MaxEntries int           // default: 1000
	TTL        time.Duration // default: 10m
}

// ExtractConfig controls the extraction pipeline.
type ExtractConfig struct {
	Timeout           time.Duration // default: 45s
	DisabledPlatforms []string
	Maintenance       bool
}

// BookkeepConfig controls the fire-and-forget bookkeeping queue.
type BookkeepConfig struct {
	Workers     int           // default: 2
	Capacity    int           // default: 1024
	TaskTimeout time.Duration // default: 5s
}

// StorageConfig selects persistent backends. Empty values keep state in
// memory.
type StorageConfig struct {
	DatabaseURL string
	RedisURL    string
}

// WebhookConfig controls cookie status notifications. Empty URL disables
// them.
type WebhookConfig struct {
	URL    string
	Secret string
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            envOr("MEDIAGATE_HOST", "0.0.0.0"),
			Port:            envIntOr("MEDIAGATE_PORT", 8080),
			Mode:            envOr("MEDIAGATE_MODE", "release"),
			TrustedProxies:  envSliceOr("MEDIAGATE_TRUSTED_PROXIES", nil),
			ShutdownTimeout: envDurationOr("MEDIAGATE_SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("MEDIAGATE_AUTH_ENABLED", true),
			APIKeys: envSliceOr("MEDIAGATE_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("MEDIAGATE_RATE_RPS", 5.0),
			Burst:             envIntOr("MEDIAGATE_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("MEDIAGATE_LOG_LEVEL", "info"),
			Format: envOr("MEDIAGATE_LOG_FORMAT", "json"),
		},
		Upstream: UpstreamConfig{
			Timeout:             envDurationOr("MEDIAGATE_UPSTREAM_TIMEOUT", 30*time.Second),
			FirstAttemptTimeout: envDurationOr("MEDIAGATE_UPSTREAM_FIRST_TIMEOUT", 0),
			Retries:             envIntOr("MEDIAGATE_UPSTREAM_RETRIES", 2),
			BaseBackoff:         envDurationOr("MEDIAGATE_UPSTREAM_BACKOFF", time.Second),
			MaxBackoff:          envDurationOr("MEDIAGATE_UPSTREAM_MAX_BACKOFF", 30*time.Second),
			OfflineTTL:          envDurationOr("MEDIAGATE_UPSTREAM_OFFLINE_TTL", 10*time.Second),
			MaxBody:             int64(envIntOr("MEDIAGATE_UPSTREAM_MAX_BODY", 10<<20)),
			ProxyURL:            os.Getenv("MEDIAGATE_PROXY_URL"),
		},
		Proxy: ProxyConfig{
			Timeout: envDurationOr("MEDIAGATE_MEDIA_TIMEOUT", 30*time.Second),
			Retries: envIntOr("MEDIAGATE_MEDIA_RETRIES", 1),
		},
		Pacing: PacingConfig{
			Window:         envDurationOr("MEDIAGATE_PACING_WINDOW", 60*time.Second),
			BurstThreshold: envIntOr("MEDIAGATE_PACING_BURST", 30),
			BurstCooldown:  envDurationOr("MEDIAGATE_PACING_BURST_COOLDOWN", 30*time.Second),
			BaseBackoff:    envDurationOr("MEDIAGATE_PACING_BACKOFF", 30*time.Second),
			MaxBackoff:     envDurationOr("MEDIAGATE_PACING_MAX_BACKOFF", 120*time.Second),
		},
		Cookies: CookieConfig{
			ErrorThreshold:    envIntOr("MEDIAGATE_COOKIE_ERROR_THRESHOLD", 3),
			ErrorCooldown:     envDurationOr("MEDIAGATE_COOKIE_ERROR_COOLDOWN", 30*time.Minute),
			RateLimitCooldown: envDurationOr("MEDIAGATE_COOKIE_RATE_LIMIT_COOLDOWN", 15*time.Minute),
		},
		Guest: GuestConfig{
			PlaygroundLimit:  envIntOr("MEDIAGATE_PLAYGROUND_LIMIT", 5),
			PlaygroundWindow: envDurationOr("MEDIAGATE_PLAYGROUND_WINDOW", 2*time.Minute),
			LegacyLimit:      envIntOr("MEDIAGATE_LEGACY_LIMIT", 5),
			LegacyWindow:     envDurationOr("MEDIAGATE_LEGACY_WINDOW", 5*time.Minute),
			CleanupThreshold: envIntOr("MEDIAGATE_GUEST_CLEANUP_THRESHOLD", 10000),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("MEDIAGATE_CACHE_MAX_ENTRIES", 1000),
			TTL:        envDurationOr("MEDIAGATE_CACHE_TTL", 10*time.Minute),
		},
		Extract: ExtractConfig{
			Timeout:           envDurationOr("MEDIAGATE_EXTRACT_TIMEOUT", 45*time.Second),
			DisabledPlatforms: envSliceOr("MEDIAGATE_DISABLED_PLATFORMS", nil),
			Maintenance:       envBoolOr("MEDIAGATE_MAINTENANCE", false),
		},
		Bookkeep: BookkeepConfig{
			Workers:     envIntOr("MEDIAGATE_BOOKKEEP_WORKERS", 2),
			Capacity:    envIntOr("MEDIAGATE_BOOKKEEP_CAPACITY", 1024),
			TaskTimeout: envDurationOr("MEDIAGATE_BOOKKEEP_TIMEOUT", 5*time.Second),
		},
		Storage: StorageConfig{
			DatabaseURL: os.Getenv("MEDIAGATE_DATABASE_URL"),
			RedisURL:    os.Getenv("MEDIAGATE_REDIS_URL"),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("MEDIAGATE_WEBHOOK_URL"),
			Secret: os.Getenv("MEDIAGATE_WEBHOOK_SECRET"),
		},
		SeedFile: os.Getenv("MEDIAGATE_SEED_FILE"),
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
