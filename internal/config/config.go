// Package config provides configuration management for the scraper service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all process-level configuration for the scraper service.
// It is read once at startup.
type Config struct {
	// Server settings
	Port         int
	LogLevel     string
	RouteTimeout time.Duration // 0 means derive from the default scraper worst case

	// Resource pool settings
	PoolMaxInstances   int
	PoolMaxIdle        time.Duration
	PoolAcquireTimeout time.Duration
	PoolSweepInterval  time.Duration
	ChromePath         string
	ExtensionPath      string

	// Request queue settings
	QueueMaxConcurrent     int
	QueueRequestsPerMinute int

	// CAPTCHA provider keys, used when a request carries none
	TwoCaptchaAPIKey  string
	CapSolverAPIKey   string
	AntiCaptchaAPIKey string

	// Persistence
	CookieDBPath    string
	ProfilesPath    string
	CookieMaxAge    time.Duration
	CookieSweepTick time.Duration

	// Authentication
	APIKeys              []string
	JWTSecret            string
	RequiredScope        string
	AllowUnauthenticated bool

	// Edge
	HTTPRateLimit  int
	IdleTimeout    time.Duration
	MetricsEnabled bool
}

// Load creates a Config from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:                   getEnvInt("PORT", 8080),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		RouteTimeout:           getEnvDuration("ROUTE_TIMEOUT", 0),
		PoolMaxInstances:       getEnvInt("POOL_MAX_INSTANCES", 5),
		PoolMaxIdle:            getEnvDuration("POOL_MAX_IDLE", 5*time.Minute),
		PoolAcquireTimeout:     getEnvDuration("POOL_ACQUIRE_TIMEOUT", 30*time.Second),
		PoolSweepInterval:      getEnvDuration("POOL_SWEEP_INTERVAL", 60*time.Second),
		ChromePath:             getEnv("CHROME_PATH", ""),
		ExtensionPath:          getEnv("EXTENSION_PATH", ""),
		QueueMaxConcurrent:     getEnvInt("QUEUE_MAX_CONCURRENT", 5),
		QueueRequestsPerMinute: getEnvInt("QUEUE_REQUESTS_PER_MINUTE", 60),
		TwoCaptchaAPIKey:       getEnv("TWOCAPTCHA_API_KEY", ""),
		CapSolverAPIKey:        getEnv("CAPSOLVER_API_KEY", ""),
		AntiCaptchaAPIKey:      getEnv("ANTICAPTCHA_API_KEY", ""),
		CookieDBPath:           getEnv("COOKIE_DB_PATH", ""),
		ProfilesPath:           getEnv("SCRAPER_PROFILES", ""),
		CookieMaxAge:           getEnvDuration("COOKIE_MAX_AGE", 24*time.Hour),
		CookieSweepTick:        getEnvDuration("COOKIE_SWEEP_INTERVAL", time.Hour),
		APIKeys:                getEnvList("API_KEYS"),
		JWTSecret:              getEnv("JWT_SECRET", ""),
		RequiredScope:          getEnv("AUTH_REQUIRED_SCOPE", ""),
		AllowUnauthenticated:   getEnvBool("ALLOW_UNAUTHENTICATED", false),
		HTTPRateLimit:          getEnvInt("HTTP_RATE_LIMIT", 0),
		IdleTimeout:            getEnvDuration("IDLE_TIMEOUT", 0),
		MetricsEnabled:         getEnvBool("METRICS_ENABLED", true),
	}
}

// AuthEnabled reports whether any auth method is configured and not overridden.
func (c *Config) AuthEnabled() bool {
	if c.AllowUnauthenticated {
		return false
	}
	return len(c.APIKeys) > 0 || c.JWTSecret != ""
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
