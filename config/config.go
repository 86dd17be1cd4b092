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
	Browser   BrowserConfig
	Scrape    ScrapeConfig
	SearchAPI SearchAPIConfig
	CrawlAPI  CrawlAPIConfig
	Vision    VisionConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance used by the browser source.
type BrowserConfig struct {
	// Enabled toggles the headless browser source. When false the process
	// never launches Chrome and browser-mode requests fail with NOT_CONFIGURED.
	Enabled bool // default: false

	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages is the page pool capacity (max concurrent tabs).
	MaxPages int // default: 5

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// NavigationTimeout is the max time for a single page navigation.
	NavigationTimeout time.Duration // default: 30s
}

// ScrapeConfig controls the fetch orchestrator.
type ScrapeConfig struct {
	// BatchDelay is the courtesy pause between upstream page fetches.
	BatchDelay time.Duration // default: 300ms

	// PausePollInterval is how often a paused job re-checks its pause flag.
	PausePollInterval time.Duration // default: 100ms

	// MaxRecords is the hard ceiling on accumulated records per job.
	MaxRecords int // default: 10000

	// JobTTL is how long finished jobs are retained for export/poll.
	JobTTL time.Duration // default: 1h
}

// SearchAPIConfig controls the paid search API source.
type SearchAPIConfig struct {
	// APIKey authenticates against the search API. Empty means the source is
	// not configured; requests needing it fail per-request, never at boot.
	APIKey string

	// BaseURL is the search endpoint. Overridable for tests.
	BaseURL string // default: "https://serpapi.com/search"

	// PageSize is the number of creatives requested per page.
	PageSize int // default: 100

	// MaxPages is the hard page ceiling per job.
	MaxPages int // default: 10

	// RetryBackoff is the fixed delay before retrying a 429 response.
	RetryBackoff time.Duration // default: 5s

	// DetailsBatchSize and DetailsBatchDelay pace the per-ad details fetch.
	DetailsBatchSize  int           // default: 10
	DetailsBatchDelay time.Duration // default: 200ms

	// RequestsPerSecond paces outbound search API calls.
	RequestsPerSecond float64 // default: 5
}

// CrawlAPIConfig controls the managed crawl API source.
type CrawlAPIConfig struct {
	// APIToken authenticates against the crawl API. Empty means not configured.
	APIToken string

	// BaseURL is the crawl API root. Overridable for tests.
	BaseURL string // default: "https://api.apify.com/v2"

	// ActorID names the hosted crawler to run.
	ActorID string // default: "memo23/google-ad-transparency-scraper-cheerio"

	// PollInterval is the delay between run status polls.
	PollInterval time.Duration // default: 3s

	// RunTimeout bounds one crawl run end to end.
	RunTimeout time.Duration // default: 1h

	// PageLimit is the item window size when draining a finished dataset.
	PageLimit int // default: 200
}

// VisionConfig controls the vision enrichment collaborator.
type VisionConfig struct {
	// APIKey authenticates against the vision model API. Empty means vision
	// enrichment is skipped (not an error).
	APIKey string

	// BaseURL is the messages endpoint root. Overridable for tests.
	BaseURL string // default: "https://api.anthropic.com/v1"

	// Model is the vision-capable model identifier.
	Model string // default: "claude-3-5-haiku-20241022"

	// BatchSize is the concurrent fan-out per enrichment batch.
	BatchSize int // default: 3

	// BatchDelay is the pause between enrichment batches.
	BatchDelay time.Duration // default: 1s

	// RequestTimeout bounds one vision call including the image download.
	RequestTimeout time.Duration // default: 30s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

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

// CacheConfig controls the synchronous scrape response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 500
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("ADSCOPE_HOST", "0.0.0.0"),
			Port: envIntOr("ADSCOPE_PORT", 8080),
			Mode: envOr("ADSCOPE_MODE", "release"),
		},
		Browser: BrowserConfig{
			Enabled:           envBoolOr("ADSCOPE_BROWSER_ENABLED", false),
			Headless:          envBoolOr("ADSCOPE_HEADLESS", true),
			MaxPages:          envIntOr("ADSCOPE_MAX_PAGES", 5),
			NoSandbox:         envBoolOr("ADSCOPE_NO_SANDBOX", false),
			BrowserBin:        os.Getenv("ADSCOPE_BROWSER_BIN"),
			NavigationTimeout: envDurationOr("ADSCOPE_NAV_TIMEOUT", 30*time.Second),
		},
		Scrape: ScrapeConfig{
			BatchDelay:        envDurationOr("ADSCOPE_BATCH_DELAY", 300*time.Millisecond),
			PausePollInterval: envDurationOr("ADSCOPE_PAUSE_POLL", 100*time.Millisecond),
			MaxRecords:        envIntOr("ADSCOPE_MAX_RECORDS", 10000),
			JobTTL:            envDurationOr("ADSCOPE_JOB_TTL", time.Hour),
		},
		SearchAPI: SearchAPIConfig{
			APIKey:            os.Getenv("SERPAPI_API_KEY"),
			BaseURL:           envOr("ADSCOPE_SEARCH_BASE_URL", "https://serpapi.com/search"),
			PageSize:          envIntOr("ADSCOPE_SEARCH_PAGE_SIZE", 100),
			MaxPages:          envIntOr("ADSCOPE_SEARCH_MAX_PAGES", 10),
			RetryBackoff:      envDurationOr("ADSCOPE_SEARCH_RETRY_BACKOFF", 5*time.Second),
			DetailsBatchSize:  envIntOr("ADSCOPE_DETAILS_BATCH_SIZE", 10),
			DetailsBatchDelay: envDurationOr("ADSCOPE_DETAILS_BATCH_DELAY", 200*time.Millisecond),
			RequestsPerSecond: envFloatOr("ADSCOPE_SEARCH_RPS", 5.0),
		},
		CrawlAPI: CrawlAPIConfig{
			APIToken:     os.Getenv("APIFY_API_TOKEN"),
			BaseURL:      envOr("ADSCOPE_CRAWL_BASE_URL", "https://api.apify.com/v2"),
			ActorID:      envOr("ADSCOPE_CRAWL_ACTOR", "memo23/google-ad-transparency-scraper-cheerio"),
			PollInterval: envDurationOr("ADSCOPE_CRAWL_POLL_INTERVAL", 3*time.Second),
			RunTimeout:   envDurationOr("ADSCOPE_CRAWL_RUN_TIMEOUT", time.Hour),
			PageLimit:    envIntOr("ADSCOPE_CRAWL_PAGE_LIMIT", 200),
		},
		Vision: VisionConfig{
			APIKey:         os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL:        envOr("ADSCOPE_VISION_BASE_URL", "https://api.anthropic.com/v1"),
			Model:          envOr("ADSCOPE_VISION_MODEL", "claude-3-5-haiku-20241022"),
			BatchSize:      envIntOr("ADSCOPE_VISION_BATCH_SIZE", 3),
			BatchDelay:     envDurationOr("ADSCOPE_VISION_BATCH_DELAY", time.Second),
			RequestTimeout: envDurationOr("ADSCOPE_VISION_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("ADSCOPE_AUTH_ENABLED", false),
			APIKeys: envSliceOr("ADSCOPE_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("ADSCOPE_RATE_RPS", 5.0),
			Burst:             envIntOr("ADSCOPE_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("ADSCOPE_CACHE_MAX_ENTRIES", 500),
		},
		Log: LogConfig{
			Level:  envOr("ADSCOPE_LOG_LEVEL", "info"),
			Format: envOr("ADSCOPE_LOG_FORMAT", "json"),
		},
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
