package config

import (
	"os"
	"testing"
	"time"
)

var envVars = []string{
	"PORT", "LOG_LEVEL", "ROUTE_TIMEOUT", "POOL_MAX_INSTANCES", "POOL_MAX_IDLE",
	"POOL_ACQUIRE_TIMEOUT", "POOL_SWEEP_INTERVAL", "CHROME_PATH", "EXTENSION_PATH",
	"QUEUE_MAX_CONCURRENT", "QUEUE_REQUESTS_PER_MINUTE", "TWOCAPTCHA_API_KEY",
	"CAPSOLVER_API_KEY", "ANTICAPTCHA_API_KEY", "COOKIE_DB_PATH", "SCRAPER_PROFILES",
	"COOKIE_MAX_AGE", "COOKIE_SWEEP_INTERVAL", "API_KEYS", "JWT_SECRET", "AUTH_REQUIRED_SCOPE",
	"ALLOW_UNAUTHENTICATED", "HTTP_RATE_LIMIT", "IDLE_TIMEOUT", "METRICS_ENABLED",
}

func saveEnv(t *testing.T) {
	t.Helper()
	origEnv := make(map[string]string)
	for _, v := range envVars {
		origEnv[v] = os.Getenv(v)
		os.Unsetenv(v)
	}
	t.Cleanup(func() {
		for k, v := range origEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		saveEnv(t)

		cfg := Load()

		if cfg.Port != 8080 {
			t.Errorf("Port = %d, want 8080", cfg.Port)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
		}
		if cfg.RouteTimeout != 0 {
			t.Errorf("RouteTimeout = %v, want 0", cfg.RouteTimeout)
		}
		if cfg.PoolMaxInstances != 5 {
			t.Errorf("PoolMaxInstances = %d, want 5", cfg.PoolMaxInstances)
		}
		if cfg.PoolMaxIdle != 5*time.Minute {
			t.Errorf("PoolMaxIdle = %v, want 5m", cfg.PoolMaxIdle)
		}
		if cfg.PoolAcquireTimeout != 30*time.Second {
			t.Errorf("PoolAcquireTimeout = %v, want 30s", cfg.PoolAcquireTimeout)
		}
		if cfg.PoolSweepInterval != time.Minute {
			t.Errorf("PoolSweepInterval = %v, want 1m", cfg.PoolSweepInterval)
		}
		if cfg.QueueMaxConcurrent != 5 {
			t.Errorf("QueueMaxConcurrent = %d, want 5", cfg.QueueMaxConcurrent)
		}
		if cfg.QueueRequestsPerMinute != 60 {
			t.Errorf("QueueRequestsPerMinute = %d, want 60", cfg.QueueRequestsPerMinute)
		}
		if cfg.APIKeys != nil {
			t.Errorf("APIKeys = %v, want nil", cfg.APIKeys)
		}
		if !cfg.MetricsEnabled {
			t.Error("MetricsEnabled = false, want true")
		}
		if cfg.AuthEnabled() {
			t.Error("AuthEnabled() = true, want false with no keys")
		}
	})

	t.Run("from env", func(t *testing.T) {
		saveEnv(t)

		os.Setenv("PORT", "9000")
		os.Setenv("POOL_MAX_INSTANCES", "2")
		os.Setenv("POOL_MAX_IDLE", "90s")
		os.Setenv("QUEUE_REQUESTS_PER_MINUTE", "0")
		os.Setenv("API_KEYS", " key-a , ,key-b")
		os.Setenv("ALLOW_UNAUTHENTICATED", "true")
		os.Setenv("METRICS_ENABLED", "false")

		cfg := Load()

		if cfg.Port != 9000 {
			t.Errorf("Port = %d, want 9000", cfg.Port)
		}
		if cfg.PoolMaxInstances != 2 {
			t.Errorf("PoolMaxInstances = %d, want 2", cfg.PoolMaxInstances)
		}
		if cfg.PoolMaxIdle != 90*time.Second {
			t.Errorf("PoolMaxIdle = %v, want 90s", cfg.PoolMaxIdle)
		}
		if cfg.QueueRequestsPerMinute != 0 {
			t.Errorf("QueueRequestsPerMinute = %d, want 0", cfg.QueueRequestsPerMinute)
		}
		if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "key-a" || cfg.APIKeys[1] != "key-b" {
			t.Errorf("APIKeys = %v, want [key-a key-b]", cfg.APIKeys)
		}
		if cfg.MetricsEnabled {
			t.Error("MetricsEnabled = true, want false")
		}
		if cfg.AuthEnabled() {
			t.Error("AuthEnabled() = true, want false when ALLOW_UNAUTHENTICATED is set")
		}
	})

	t.Run("invalid values fall back", func(t *testing.T) {
		saveEnv(t)

		os.Setenv("PORT", "not-a-number")
		os.Setenv("POOL_MAX_IDLE", "soon")
		os.Setenv("ALLOW_UNAUTHENTICATED", "maybe")

		cfg := Load()

		if cfg.Port != 8080 {
			t.Errorf("Port = %d, want 8080", cfg.Port)
		}
		if cfg.PoolMaxIdle != 5*time.Minute {
			t.Errorf("PoolMaxIdle = %v, want 5m", cfg.PoolMaxIdle)
		}
		if cfg.AllowUnauthenticated {
			t.Error("AllowUnauthenticated = true, want false")
		}
	})
}

func TestAuthEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"nothing configured", Config{}, false},
		{"api keys", Config{APIKeys: []string{"k"}}, true},
		{"jwt secret", Config{JWTSecret: "s"}, true},
		{"overridden", Config{JWTSecret: "s", AllowUnauthenticated: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.AuthEnabled(); got != tt.want {
				t.Errorf("AuthEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}
