package scraper

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{`"30s"`, 30 * time.Second, false},
		{`"1m30s"`, 90 * time.Second, false},
		{`1500`, 1500 * time.Millisecond, false},
		{`"250"`, 250 * time.Millisecond, false},
		{`"soon"`, 0, true},
		{`true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.in), &d)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && d.Std() != tt.want {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.in, d.Std(), tt.want)
			}
		})
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Duration(2 * time.Second))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(b) != `"2s"` {
		t.Errorf("Marshal() = %s, want \"2s\"", b)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
	if !cfg.Headless || cfg.Timeout.Std() != 120*time.Second || cfg.MaxRetries != 2 || cfg.RetryDelay.Std() != 2*time.Second {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
	if cfg.Captcha.Provider != "" || cfg.Captcha.SolveTimeout.Std() != 3*time.Minute {
		t.Errorf("captcha defaults = %+v", cfg.Captcha)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout must be positive"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "maxRetries"},
		{"too many retries", func(c *Config) { c.MaxRetries = 50 }, "maxRetries"},
		{"negative delay", func(c *Config) { c.RetryDelay = Duration(-time.Second) }, "retryDelay"},
		{"bad viewport", func(c *Config) { c.Viewport.Width = 0 }, "viewport"},
		{"unknown provider", func(c *Config) { c.Captcha.Provider = "magic" }, "unknown captcha provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestWorstCase(t *testing.T) {
	// 3 attempts at 2x120s, plus 2s and 4s of backoff
	if got, want := WorstCase(DefaultConfig()), 726*time.Second; got != want {
		t.Errorf("WorstCase() = %v, want %v", got, want)
	}

	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	if got, want := WorstCase(cfg), 240*time.Second; got != want {
		t.Errorf("WorstCase(no retries) = %v, want %v", got, want)
	}
}

func TestParseOverrides(t *testing.T) {
	o, err := ParseOverrides(map[string]any{
		"timeout":    "45s",
		"maxRetries": float64(0),
		"headless":   false,
		"captcha":    map[string]any{"provider": "2captcha", "apiKey": "k", "solveTimeout": float64(60000)},
	})
	if err != nil {
		t.Fatalf("ParseOverrides() error = %v", err)
	}

	cfg := DefaultConfig().Apply(o)
	if cfg.Timeout.Std() != 45*time.Second || cfg.MaxRetries != 0 || cfg.Headless {
		t.Errorf("Apply() = %+v", cfg)
	}
	if cfg.Captcha.Provider != "2captcha" || cfg.Captcha.APIKey != "k" || cfg.Captcha.SolveTimeout.Std() != time.Minute {
		t.Errorf("captcha = %+v", cfg.Captcha)
	}
	// Untouched fields keep their defaults
	if cfg.RetryDelay.Std() != 2*time.Second || !cfg.Captcha.Enabled {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestParseOverrides_Errors(t *testing.T) {
	tests := []map[string]any{
		{"timeot": "30s"},
		{"timeout": "whenever"},
		{"maxRetries": "two"},
	}
	for _, raw := range tests {
		if _, err := ParseOverrides(raw); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("ParseOverrides(%v) error = %v, want ErrInvalidConfig", raw, err)
		}
	}

	if o, err := ParseOverrides(nil); o != nil || err != nil {
		t.Errorf("ParseOverrides(nil) = %v, %v", o, err)
	}
}

func TestConfig_SecretsNotSerialized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Captcha.APIKey = "secret"
	b, _ := json.Marshal(cfg)
	if strings.Contains(string(b), "secret") {
		t.Errorf("config JSON leaks the API key: %s", b)
	}
}

func TestLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	content := `
google:
  timeout: 60s
  maxRetries: 1
  captcha:
    provider: manual
    solveTimeout: 90000
page:
  blockResources: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles() error = %v", err)
	}

	headless := false
	cfg, err := profiles.Resolve("google", &Overrides{Headless: &headless})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Timeout.Std() != time.Minute || cfg.MaxRetries != 1 || cfg.Headless {
		t.Errorf("google config = %+v", cfg)
	}
	if cfg.Captcha.Provider != "manual" || cfg.Captcha.SolveTimeout.Std() != 90*time.Second {
		t.Errorf("google captcha = %+v", cfg.Captcha)
	}

	pageCfg, _ := profiles.Resolve("page", nil)
	if pageCfg.BlockResources {
		t.Error("page profile blockResources not applied")
	}
	other, _ := profiles.Resolve("other", nil)
	if other != DefaultConfig() {
		t.Errorf("unprofiled scraper = %+v, want defaults", other)
	}
}

func TestLoadProfiles_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("google:\n  timeot: 30s\n"), 0o600)

	if _, err := LoadProfiles(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("LoadProfiles(unknown field) error = %v, want ErrInvalidConfig", err)
	}
	if _, err := LoadProfiles(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadProfiles(missing) error = nil")
	}

	empty := filepath.Join(dir, "empty.yaml")
	os.WriteFile(empty, nil, 0o600)
	if _, err := LoadProfiles(empty); err != nil {
		t.Errorf("LoadProfiles(empty) error = %v", err)
	}
}
