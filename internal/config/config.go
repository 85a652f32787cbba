package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string
	// APIBase is the remote advertisement backend, e.g. https://api.example.com/api.
	APIBase                string
	CatalogRefreshInterval time.Duration
	CatalogFetchTimeout    time.Duration
	ReportTimeout          time.Duration
	// Durable shown-set storage
	StorageBackend string
	RedisAddr      string
	ShownSetKey    string
	ShownSetTTL    time.Duration
	// Placement defaults, overridable per placement by the caller
	DisplayDuration    time.Duration
	AutoRotateInterval time.Duration
	MaxAdsPerSession   int
	ShowDelay          time.Duration
	RotationGap        time.Duration
	ExhaustionCooldown time.Duration
	MobileBreakpoint   int
	StreamPingInterval time.Duration
	// Sessions unused for this long are dropped from memory
	SessionIdleTTL time.Duration
	// Fraction of placement transitions logged at debug level
	TransitionLogSample float64
	// DebugTrace attaches the selection trace to next-ad responses
	DebugTrace bool
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	// websocket streams are long lived; writes are bounded per message instead
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 0)
	cfg.ServiceName = getenv("SERVICE_NAME", "adrotator")

	cfg.APIBase = getenv("API_BASE", "http://localhost:9090/api")
	cfg.CatalogRefreshInterval = envDuration("CATALOG_REFRESH_INTERVAL", 5*time.Minute)
	cfg.CatalogFetchTimeout = envDuration("CATALOG_FETCH_TIMEOUT", 10*time.Second)
	cfg.ReportTimeout = envDuration("REPORT_TIMEOUT", 2*time.Second)

	cfg.StorageBackend = getenv("STORAGE_BACKEND", "redis")
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.ShownSetKey = getenv("SHOWN_SET_KEY", "ad_shown_ids")
	cfg.ShownSetTTL = envDuration("SHOWN_SET_TTL", 0)

	cfg.DisplayDuration = envDuration("DISPLAY_DURATION", 30*time.Second)
	cfg.AutoRotateInterval = envDuration("AUTO_ROTATE_INTERVAL", 3*time.Minute)
	cfg.MaxAdsPerSession = envInt("MAX_ADS_PER_SESSION", 5)
	cfg.ShowDelay = envDuration("SHOW_DELAY", time.Second)
	cfg.RotationGap = envDuration("ROTATION_GAP", time.Second)
	cfg.ExhaustionCooldown = envDuration("EXHAUSTION_COOLDOWN", 5*time.Minute)
	cfg.MobileBreakpoint = envInt("MOBILE_BREAKPOINT", 768)
	cfg.StreamPingInterval = envDuration("STREAM_PING_INTERVAL", 30*time.Second)
	cfg.SessionIdleTTL = envDuration("SESSION_IDLE_TTL", 30*time.Minute)
	cfg.TransitionLogSample = envFloat("TRANSITION_LOG_SAMPLE", 0.01)
	cfg.DebugTrace = envBool("DEBUG_TRACE", false)

	// Tracing configuration
	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0) // Default to 100% sampling for dev

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
