package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the translate gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Inference engine (OpenAI-compatible) configuration
	EngineAPIKey      string `envconfig:"ENGINE_API_KEY" required:"true"`
	EngineBaseURL     string `envconfig:"ENGINE_BASE_URL" default:""` // Empty uses the default OpenAI endpoint
	EngineModel       string `envconfig:"ENGINE_MODEL" default:"gpt-4o-mini"`
	EngineTimeout     int    `envconfig:"ENGINE_TIMEOUT" default:"5"`      // Seconds per translate/detect call
	EngineMaxAttempts int    `envconfig:"ENGINE_MAX_ATTEMPTS" default:"2"` // Attempts within a single engine call before degrading

	// Translation cache configuration
	CacheMaxEntries      int     `envconfig:"CACHE_MAX_ENTRIES" default:"1000"`
	CacheFuzzyThreshold  float64 `envconfig:"CACHE_FUZZY_THRESHOLD" default:"0.62"`  // Token-overlap similarity floor for fuzzy hits
	CacheFuzzyScanLimit  int     `envconfig:"CACHE_FUZZY_SCAN_LIMIT" default:"64"`   // Max same-language-pair entries scanned per fuzzy lookup
	CacheFuzzyMaxTextLen int     `envconfig:"CACHE_FUZZY_MAX_TEXT_LEN" default:"80"` // Fuzzy path only for short utterances
	CacheSeedFile        string  `envconfig:"CACHE_SEED_FILE" default:""`            // Optional warm-entry file, source|src|tgt|translation per line

	// Pipeline configuration
	MinEmitDelta       int    `envconfig:"PIPELINE_MIN_EMIT_DELTA" default:"12"`       // Min rune growth since last emission before a new partial
	UtteranceTimeout   int    `envconfig:"PIPELINE_UTTERANCE_TIMEOUT" default:"30"`    // Seconds before an utterance without a final is abandoned
	ChunkQueueSize     int    `envconfig:"PIPELINE_CHUNK_QUEUE_SIZE" default:"64"`     // Per-speaker pending chunk queue
	DefaultSourceLang  string `envconfig:"PIPELINE_DEFAULT_SOURCE_LANG" default:""`    // Empty means detect per utterance
	DefaultTargetLangs string `envconfig:"PIPELINE_DEFAULT_TARGET_LANGS" default:"en"` // Comma-separated fallback targets for new rooms

	// Normalizer configuration; without word lists text passes through as-is
	NormalizeWordLists  string `envconfig:"NORMALIZE_WORDLISTS" default:""`   // Comma-separated lang:path word list files
	NormalizeEditBudget int    `envconfig:"NORMALIZE_EDIT_BUDGET" default:"1"` // Max edit distance for word repair

	// Room configuration
	RoomCapacity      int `envconfig:"ROOM_CAPACITY" default:"50"`       // Max members per room
	RoomIdleTimeout   int `envconfig:"ROOM_IDLE_TIMEOUT" default:"300"`  // Seconds without activity before teardown
	RoomSweepInterval int `envconfig:"ROOM_SWEEP_INTERVAL" default:"60"` // Seconds between idle sweeps
	RoomCodeLength    int `envconfig:"ROOM_CODE_LENGTH" default:"4"`

	// Rate limiter configuration
	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"100"` // Sustained chunks per minute per client
	RateLimitBurst     int `envconfig:"RATE_LIMIT_BURST" default:"20"`       // Burst capacity per client

	// WebSocket configuration
	WSReadLimit        int64 `envconfig:"WS_READ_LIMIT" default:"8192"`        // Max inbound message size in bytes
	WSSendQueueSize    int   `envconfig:"WS_SEND_QUEUE_SIZE" default:"256"`    // Per-connection outbound queue
	WSPingInterval     int   `envconfig:"WS_PING_INTERVAL" default:"30"`       // Seconds between transport pings
	WSWriteTimeout     int   `envconfig:"WS_WRITE_TIMEOUT" default:"10"`       // Seconds to deliver one outbound frame
	MalformedTolerance int   `envconfig:"WS_MALFORMED_TOLERANCE" default:"10"` // Malformed messages before the connection is closed

	// Persistence (Redis) configuration; empty address disables persistence
	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks constraints that envconfig tags cannot express
func (c *Config) Validate() error {
	if c.EngineAPIKey == "" {
		return fmt.Errorf("ENGINE_API_KEY is required")
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be positive, got %d", c.CacheMaxEntries)
	}
	if c.CacheFuzzyThreshold < 0 || c.CacheFuzzyThreshold > 1 {
		return fmt.Errorf("CACHE_FUZZY_THRESHOLD must be in [0,1], got %f", c.CacheFuzzyThreshold)
	}
	if c.RoomCapacity <= 0 {
		return fmt.Errorf("ROOM_CAPACITY must be positive, got %d", c.RoomCapacity)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.RateLimitPerMinute)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive, got %d", c.RateLimitBurst)
	}
	if c.EngineMaxAttempts <= 0 {
		return fmt.Errorf("ENGINE_MAX_ATTEMPTS must be positive, got %d", c.EngineMaxAttempts)
	}
	if c.RoomCodeLength < 4 {
		return fmt.Errorf("ROOM_CODE_LENGTH must be at least 4, got %d", c.RoomCodeLength)
	}
	return nil
}

// TargetLangs returns the configured default target languages
func (c *Config) TargetLangs() []string {
	parts := strings.Split(c.DefaultTargetLangs, ",")
	langs := make([]string, 0, len(parts))
	for _, p := range parts {
		if lang := strings.TrimSpace(p); lang != "" {
			langs = append(langs, lang)
		}
	}
	return langs
}

// WordLists parses NORMALIZE_WORDLISTS into a lang -> file path map
func (c *Config) WordLists() map[string]string {
	lists := make(map[string]string)
	for _, entry := range strings.Split(c.NormalizeWordLists, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		lang, path, ok := strings.Cut(entry, ":")
		if !ok || lang == "" || path == "" {
			continue
		}
		lists[strings.TrimSpace(lang)] = strings.TrimSpace(path)
	}
	return lists
}

// EngineCallTimeout returns the per-call engine timeout as a duration
func (c *Config) EngineCallTimeout() time.Duration {
	return time.Duration(c.EngineTimeout) * time.Second
}

// RoomIdle returns the idle-room teardown threshold as a duration
func (c *Config) RoomIdle() time.Duration {
	return time.Duration(c.RoomIdleTimeout) * time.Second
}

// SweepInterval returns the idle-sweep period as a duration
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.RoomSweepInterval) * time.Second
}

// UtteranceIdleTimeout returns how long an utterance may sit without a final
func (c *Config) UtteranceIdleTimeout() time.Duration {
	return time.Duration(c.UtteranceTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
