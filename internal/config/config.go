// Package config provides YAML configuration loading with validation,
// environment variable substitution, and FIELDSERVE_* environment overrides
// for the client.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the top-level client configuration.
type Config struct {
	API            APIConfig            `yaml:"api" json:"api"`
	Logging        LoggingConfig        `yaml:"logging" json:"logging"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit" json:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry" json:"retry"`
	Session        SessionConfig        `yaml:"session" json:"session"`
	TLS            TLSConfig            `yaml:"tls" json:"tls"`
	Metrics        MetricsConfig        `yaml:"metrics" json:"metrics"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// APIConfig holds the backend endpoint settings.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
}

// LoggingConfig holds log output and level settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`             // "stdout", "stderr", or file path; default: "stderr"
	Level      string `yaml:"level" json:"level"`               // "debug", "info", "warn", "error"; default: "info"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`   // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`   // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"` // max days to retain rotated files; default: 30
}

// ValidLogLevels are the accepted log level strings.
var ValidLogLevels = map[string]bool{
	"":      true, // empty means default ("info")
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RateLimitConfig holds the outbound request rate limiter settings.
// RequestsPerSecond 0 disables rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// CircuitBreakerConfig holds per-endpoint circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenMax      int           `yaml:"half_open_max" json:"half_open_max"`
	MaxConcurrent    int           `yaml:"max_concurrent" json:"max_concurrent"`
}

// RetryConfig holds the retry engine defaults.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`
}

// SessionConfig holds token persistence and refresh scheduling settings.
type SessionConfig struct {
	// StorePath is the JSON file holding the persisted session record.
	StorePath string `yaml:"store_path" json:"store_path"`
	// RefreshLeeway is how long before token expiry a proactive refresh
	// is triggered.
	RefreshLeeway time.Duration `yaml:"refresh_leeway" json:"refresh_leeway"`
	// RecheckInterval is the minimum interval between redundant
	// auth checks when already authenticated.
	RecheckInterval time.Duration `yaml:"recheck_interval" json:"recheck_interval"`
}

// TLSConfig holds custom trust and client-certificate settings.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file" json:"ca_file"`
	CertFile           string `yaml:"cert_file" json:"cert_file"`
	KeyFile            string `yaml:"key_file" json:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// MetricsConfig holds the optional Prometheus listener settings for the CLI.
// Enabled defaults to true for collector registration; the listener only
// starts when ListenAddr is set.
type MetricsConfig struct {
	Enabled    *bool  `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	Path       string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// envOverrides are the FIELDSERVE_* environment variables that take
// precedence over file values. Only the settings an operator plausibly
// varies per environment are overridable.
type envOverrides struct {
	BaseURL     string        `envconfig:"BASE_URL"`
	Timeout     time.Duration `envconfig:"TIMEOUT"`
	StorePath   string        `envconfig:"SESSION_PATH"`
	LogLevel    string        `envconfig:"LOG_LEVEL"`
	MetricsAddr string        `envconfig:"METRICS_ADDR"`
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution and FIELDSERVE_* overrides, sets defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

// Default returns a validated configuration built purely from defaults and
// FIELDSERVE_* environment variables, for callers without a config file.
func Default() (*Config, error) {
	var cfg Config
	if err := Finalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize applies FIELDSERVE_* overrides, defaults, validation, and
// warnings to a programmatically built Config.
func Finalize(cfg *Config) error {
	if err := applyEnvOverrides(cfg); err != nil {
		return fmt.Errorf("applying environment overrides: %w", err)
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return err
	}
	cfg.Warnings = collectWarnings(cfg)
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	var ov envOverrides
	if err := envconfig.Process("fieldserve", &ov); err != nil {
		return err
	}
	if ov.BaseURL != "" {
		cfg.API.BaseURL = ov.BaseURL
	}
	if ov.Timeout > 0 {
		cfg.API.Timeout = ov.Timeout
	}
	if ov.StorePath != "" {
		cfg.Session.StorePath = ov.StorePath
	}
	if ov.LogLevel != "" {
		cfg.Logging.Level = ov.LogLevel
	}
	if ov.MetricsAddr != "" {
		cfg.Metrics.ListenAddr = ov.MetricsAddr
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 15 * time.Second
	}
	if cfg.API.UserAgent == "" {
		cfg.API.UserAgent = "fieldserve-client-go"
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	// Circuit breaker defaults
	cb := &cfg.CircuitBreaker
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 5
	}
	if cb.RecoveryTimeout == 0 {
		cb.RecoveryTimeout = 30 * time.Second
	}
	if cb.HalfOpenMax == 0 {
		cb.HalfOpenMax = 3
	}

	// Retry defaults
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 10 * time.Second
	}

	// Session defaults
	if cfg.Session.StorePath == "" {
		cfg.Session.StorePath = defaultStorePath()
	}
	if cfg.Session.RefreshLeeway == 0 {
		cfg.Session.RefreshLeeway = 5 * time.Minute
	}
	if cfg.Session.RecheckInterval == 0 {
		cfg.Session.RecheckInterval = 5 * time.Second
	}

	// Rate limit burst defaults only when limiting is enabled.
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 10
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".fieldserve/session.json"
	}
	return dir + "/fieldserve/session.json"
}

func validate(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("api.base_url: host is required")
	}
	if cfg.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must be non-negative")
	}

	cb := cfg.CircuitBreaker
	if cb.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	if cb.RecoveryTimeout <= 0 {
		return fmt.Errorf("circuit_breaker.recovery_timeout must be positive")
	}
	if cb.HalfOpenMax < 1 {
		return fmt.Errorf("circuit_breaker.half_open_max must be positive")
	}
	if cb.MaxConcurrent < 0 {
		return fmt.Errorf("circuit_breaker.max_concurrent must be non-negative")
	}

	if cfg.Retry.MaxRetries < 1 {
		return fmt.Errorf("retry.max_retries must be positive")
	}
	if cfg.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be positive")
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.base_delay")
	}

	if cfg.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be non-negative")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.BurstSize < 1 {
		return fmt.Errorf("rate_limit.burst_size must be positive when rate limiting is enabled")
	}

	if cfg.Session.RefreshLeeway <= 0 {
		return fmt.Errorf("session.refresh_leeway must be positive")
	}
	if cfg.Session.RecheckInterval <= 0 {
		return fmt.Errorf("session.recheck_interval must be positive")
	}

	if !ValidLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	// TLS validation: cert and key come as a pair.
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file must be set together")
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.TLS.InsecureSkipVerify {
		warnings = append(warnings, "tls.insecure_skip_verify is enabled; server certificates are not verified")
	}
	if u, err := url.Parse(cfg.API.BaseURL); err == nil && u.Scheme == "http" {
		warnings = append(warnings, "api.base_url uses plain http; credentials will be sent unencrypted")
	}
	return warnings
}
