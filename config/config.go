package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Browser    BrowserConfig
	Scraper    ScraperConfig
	BrightData BrightDataConfig
	Jobs       JobsConfig
	Store      StoreConfig
	Webhook    WebhookConfig
	Kafka      KafkaConfig

	// PlatformsFile overrides or extends the built-in platform tables.
	PlatformsFile string
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"

	// ShutdownTimeout bounds draining in-flight requests.
	ShutdownTimeout time.Duration // default: 10s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// BrowserConfig controls the persistent-profile browsers.
type BrowserConfig struct {
	// ProfilesDir is the root of per-user profile directories.
	ProfilesDir string // default: "./browser_profiles"

	// Headless is the default headless mode for scrape jobs.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy routes browser traffic through the given URL.
	Proxy string

	// MaxWorkers bounds concurrently running browser jobs.
	MaxWorkers int // default: 4

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Media", "Font"]
	BlockedResourceTypes []string

	// BlockTrackers aborts requests to known analytics hosts.
	BlockTrackers bool // default: true
}

// ScraperConfig controls pacing of browser scrapes.
type ScraperConfig struct {
	SettleDelay time.Duration // default: 8s
	NudgeOffset int           // default: 500
	NudgeDelay  time.Duration // default: 2s
	ScrollDelay time.Duration // default: 750ms
	MaxScrolls  int           // default: 500
}

// BrightDataConfig controls the remote provider engine. The engine is
// disabled when APIKey is empty.
type BrightDataConfig struct {
	APIKey            string
	BaseURL           string        // default: "https://api.brightdata.com/datasets/v3"
	Timeout           time.Duration // default: 30s
	RequestsPerSecond float64       // default: 2
}

// JobsConfig controls the job registry janitor.
type JobsConfig struct {
	JanitorInterval time.Duration // default: 1h
	MaxAgeHours     int           // default: 24
}

// StoreConfig controls the job archive.
type StoreConfig struct {
	Backend    string        // "memory" or "redis"; default: "memory"
	RedisAddr  string        // default: "localhost:6379"
	Prefix     string        // default: "bellflow:job:"
	TTL        time.Duration // default: 168h
	MaxEntries int           // default: 10000
}

// WebhookConfig controls job event delivery. Disabled when URL is empty.
type WebhookConfig struct {
	URL    string
	Secret string
}

// KafkaConfig controls job event publishing. Disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string // default: "bellflow.jobs"
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:            envOr("BELLFLOW_HOST", "0.0.0.0"),
			Port:            envIntOr("BELLFLOW_PORT", 8080),
			Mode:            envOr("BELLFLOW_MODE", "release"),
			ShutdownTimeout: envDurationOr("BELLFLOW_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("BELLFLOW_AUTH_ENABLED", true),
			APIKeys: envSliceOr("BELLFLOW_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("BELLFLOW_RATE_RPS", 5.0),
			Burst:             envIntOr("BELLFLOW_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("BELLFLOW_LOG_LEVEL", "info"),
			Format: envOr("BELLFLOW_LOG_FORMAT", "json"),
		},
		Browser: BrowserConfig{
			ProfilesDir: envOr("BELLFLOW_PROFILES_DIR", "./browser_profiles"),
			Headless:    envBoolOr("BELLFLOW_HEADLESS", true),
			NoSandbox:   envBoolOr("BELLFLOW_NO_SANDBOX", false),
			BrowserBin:  os.Getenv("BELLFLOW_BROWSER_BIN"),
			Proxy:       os.Getenv("BELLFLOW_PROXY"),
			MaxWorkers:  envIntOr("BELLFLOW_MAX_WORKERS", 4),
			BlockedResourceTypes: envSliceOr("BELLFLOW_BLOCKED_RESOURCES", []string{
				"Image", "Media", "Font",
			}),
			BlockTrackers: envBoolOr("BELLFLOW_BLOCK_TRACKERS", true),
		},
		Scraper: ScraperConfig{
			SettleDelay: envDurationOr("BELLFLOW_SETTLE_DELAY", 8*time.Second),
			NudgeOffset: envIntOr("BELLFLOW_NUDGE_OFFSET", 500),
			NudgeDelay:  envDurationOr("BELLFLOW_NUDGE_DELAY", 2*time.Second),
			ScrollDelay: envDurationOr("BELLFLOW_SCROLL_DELAY", 750*time.Millisecond),
			MaxScrolls:  envIntOr("BELLFLOW_MAX_SCROLLS", 500),
		},
		BrightData: BrightDataConfig{
			APIKey:            os.Getenv("BRIGHTDATA_API_KEY"),
			BaseURL:           envOr("BRIGHTDATA_BASE_URL", "https://api.brightdata.com/datasets/v3"),
			Timeout:           envDurationOr("BRIGHTDATA_TIMEOUT", 30*time.Second),
			RequestsPerSecond: envFloatOr("BRIGHTDATA_RPS", 2.0),
		},
		Jobs: JobsConfig{
			JanitorInterval: envDurationOr("BELLFLOW_JANITOR_INTERVAL", time.Hour),
			MaxAgeHours:     envIntOr("BELLFLOW_JOB_MAX_AGE_HOURS", 24),
		},
		Store: StoreConfig{
			Backend:    envOr("BELLFLOW_STORE", "memory"),
			RedisAddr:  envOr("BELLFLOW_REDIS_ADDR", "localhost:6379"),
			Prefix:     envOr("BELLFLOW_REDIS_PREFIX", "bellflow:job:"),
			TTL:        envDurationOr("BELLFLOW_STORE_TTL", 7*24*time.Hour),
			MaxEntries: envIntOr("BELLFLOW_STORE_MAX_ENTRIES", 10000),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("BELLFLOW_WEBHOOK_URL"),
			Secret: os.Getenv("BELLFLOW_WEBHOOK_SECRET"),
		},
		Kafka: KafkaConfig{
			Brokers: envSliceOr("BELLFLOW_KAFKA_BROKERS", nil),
			Topic:   envOr("BELLFLOW_KAFKA_TOPIC", "bellflow.jobs"),
		},
		PlatformsFile: os.Getenv("BELLFLOW_PLATFORMS_FILE"),
	}
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
