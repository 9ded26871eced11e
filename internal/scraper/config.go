package scraper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/refyne-api/scraper/internal/challenge"
)

// ErrInvalidConfig is wrapped by every config validation and decoding error.
var ErrInvalidConfig = errors.New("invalid scraper config")

// Duration is a time.Duration that decodes from "30s" style strings or
// integer milliseconds, and encodes as a string.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %s", b)
	}
	*d = Duration(time.Duration(ms * float64(time.Millisecond)))
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

// Viewport is the browser window size.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// CaptchaConfig selects how a detected reCAPTCHA is handled.
type CaptchaConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Provider is one of "", none, manual, checkbox, extension, 2captcha,
	// capsolver, anticaptcha or auto.
	Provider     string   `json:"provider" yaml:"provider"`
	APIKey       string   `json:"-" yaml:"apiKey"`
	SolveTimeout Duration `json:"solveTimeout" yaml:"solveTimeout"`
}

// Config is the resolved configuration of one scrape execution.
type Config struct {
	Headless         bool          `json:"headless"`
	Timeout          Duration      `json:"timeout"`
	OperationTimeout Duration      `json:"operationTimeout"`
	UserAgent        string        `json:"userAgent"`
	Viewport         Viewport      `json:"viewport"`
	MaxRetries       int           `json:"maxRetries"`
	RetryDelay       Duration      `json:"retryDelay"`
	BlockResources   bool          `json:"blockResources"`
	DismissConsent   bool          `json:"dismissConsent"`
	Captcha          CaptchaConfig `json:"captcha"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// DefaultConfig returns the defaults every profile and request override starts from.
func DefaultConfig() Config {
	return Config{
		Headless:         true,
		Timeout:          Duration(120 * time.Second),
		OperationTimeout: Duration(30 * time.Second),
		UserAgent:        defaultUserAgent,
		Viewport:         Viewport{Width: 1920, Height: 1080},
		MaxRetries:       2,
		RetryDelay:       Duration(2 * time.Second),
		BlockResources:   true,
		DismissConsent:   true,
		Captcha: CaptchaConfig{
			Enabled:      true,
			SolveTimeout: Duration(3 * time.Minute),
		},
	}
}

const maxRetriesLimit = 10

// Validate checks the config for values the orchestrator cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.Timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.OperationTimeout <= 0 {
		problems = append(problems, "operationTimeout must be positive")
	}
	if c.MaxRetries < 0 || c.MaxRetries > maxRetriesLimit {
		problems = append(problems, fmt.Sprintf("maxRetries must be between 0 and %d", maxRetriesLimit))
	}
	if c.RetryDelay < 0 {
		problems = append(problems, "retryDelay must not be negative")
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		problems = append(problems, "viewport must be positive")
	}
	if c.Captcha.SolveTimeout <= 0 {
		problems = append(problems, "captcha.solveTimeout must be positive")
	}
	if _, err := challenge.StrategyFor(c.Captcha.Provider); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// WorstCase is the longest an execution with c can take: every attempt
// hitting its hard timeout plus every linear backoff delay.
func WorstCase(c Config) time.Duration {
	attempts := time.Duration(c.MaxRetries + 1)
	worst := attempts * 2 * c.Timeout.Std()
	for i := 1; i <= c.MaxRetries; i++ {
		worst += c.RetryDelay.Std() * time.Duration(i)
	}
	return worst
}

// CaptchaOverrides are the optional captcha fields of Overrides.
type CaptchaOverrides struct {
	Enabled      *bool     `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Provider     *string   `json:"provider,omitempty" yaml:"provider,omitempty"`
	APIKey       *string   `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	SolveTimeout *Duration `json:"solveTimeout,omitempty" yaml:"solveTimeout,omitempty"`
}

// Overrides holds the fields a profile or request sets. Nil means unset.
type Overrides struct {
	Headless         *bool             `json:"headless,omitempty" yaml:"headless,omitempty"`
	Timeout          *Duration         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	OperationTimeout *Duration         `json:"operationTimeout,omitempty" yaml:"operationTimeout,omitempty"`
	UserAgent        *string           `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Viewport         *Viewport         `json:"viewport,omitempty" yaml:"viewport,omitempty"`
	MaxRetries       *int              `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	RetryDelay       *Duration         `json:"retryDelay,omitempty" yaml:"retryDelay,omitempty"`
	BlockResources   *bool             `json:"blockResources,omitempty" yaml:"blockResources,omitempty"`
	DismissConsent   *bool             `json:"dismissConsent,omitempty" yaml:"dismissConsent,omitempty"`
	Captcha          *CaptchaOverrides `json:"captcha,omitempty" yaml:"captcha,omitempty"`
}

// Apply returns c with every set field of o applied.
func (c Config) Apply(o *Overrides) Config {
	if o == nil {
		return c
	}
	set(&c.Headless, o.Headless)
	set(&c.Timeout, o.Timeout)
	set(&c.OperationTimeout, o.OperationTimeout)
	set(&c.UserAgent, o.UserAgent)
	set(&c.Viewport, o.Viewport)
	set(&c.MaxRetries, o.MaxRetries)
	set(&c.RetryDelay, o.RetryDelay)
	set(&c.BlockResources, o.BlockResources)
	set(&c.DismissConsent, o.DismissConsent)
	if co := o.Captcha; co != nil {
		set(&c.Captcha.Enabled, co.Enabled)
		set(&c.Captcha.Provider, co.Provider)
		set(&c.Captcha.APIKey, co.APIKey)
		set(&c.Captcha.SolveTimeout, co.SolveTimeout)
	}
	return c
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// ParseOverrides decodes a request's free-form config object. Unknown
// fields are rejected.
func ParseOverrides(raw map[string]any) (*Overrides, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var o Overrides
	if err := dec.Decode(&o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &o, nil
}

// Profiles maps scraper names to their configured overrides.
type Profiles map[string]*Overrides

// LoadProfiles reads a YAML profiles file:
//
//	google:
//	  timeout: 60s
//	  captcha:
//	    provider: 2captcha
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var p Profiles
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: profiles %s: %v", ErrInvalidConfig, path, err)
	}
	return p, nil
}

// Resolve layers defaults, the named profile and the request overrides.
func (p Profiles) Resolve(name string, request *Overrides) (Config, error) {
	cfg := DefaultConfig().Apply(p[name]).Apply(request)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
