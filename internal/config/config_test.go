package config

import (
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
api:
  base_url: https://api.fieldserve.example
`

func TestLoadMinimalAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.Timeout != 15*time.Second {
		t.Errorf("api.timeout default = %v, want 15s", cfg.API.Timeout)
	}
	if cfg.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("failure_threshold default = %d, want 5", cfg.CircuitBreaker.FailureThreshold)
	}
	if cfg.CircuitBreaker.RecoveryTimeout != 30*time.Second {
		t.Errorf("recovery_timeout default = %v, want 30s", cfg.CircuitBreaker.RecoveryTimeout)
	}
	if cfg.CircuitBreaker.HalfOpenMax != 3 {
		t.Errorf("half_open_max default = %d, want 3", cfg.CircuitBreaker.HalfOpenMax)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.BaseDelay != time.Second || cfg.Retry.MaxDelay != 10*time.Second {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Session.RefreshLeeway != 5*time.Minute {
		t.Errorf("refresh_leeway default = %v, want 5m", cfg.Session.RefreshLeeway)
	}
	if cfg.Session.RecheckInterval != 5*time.Second {
		t.Errorf("recheck_interval default = %v, want 5s", cfg.Session.RecheckInterval)
	}
	if cfg.Session.StorePath == "" {
		t.Error("expected a default session store path")
	}
	if cfg.Logging.Output != "stderr" || cfg.Logging.Level != "" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestMissingBaseURLRejected(t *testing.T) {
	_, err := LoadFromBytes([]byte(`{}`))
	if err == nil || !strings.Contains(err.Error(), "base_url") {
		t.Fatalf("expected base_url error, got %v", err)
	}
}

func TestInvalidBaseURLScheme(t *testing.T) {
	_, err := LoadFromBytes([]byte("api:\n  base_url: ftp://api.example\n"))
	if err == nil || !strings.Contains(err.Error(), "scheme") {
		t.Fatalf("expected scheme error, got %v", err)
	}
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("FS_TEST_URL", "https://env.fieldserve.example")
	cfg, err := LoadFromBytes([]byte("api:\n  base_url: ${FS_TEST_URL}\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "https://env.fieldserve.example" {
		t.Fatalf("expected env expansion, got %q", cfg.API.BaseURL)
	}
}

func TestUnresolvedEnvVarKept(t *testing.T) {
	_, err := LoadFromBytes([]byte("api:\n  base_url: ${FS_DOES_NOT_EXIST_123}\n"))
	// The literal ${...} is not a valid URL scheme, so validation fails.
	if err == nil {
		t.Fatal("expected validation failure for unresolved env var")
	}
}

func TestEnvconfigOverrides(t *testing.T) {
	t.Setenv("FIELDSERVE_BASE_URL", "https://override.fieldserve.example")
	t.Setenv("FIELDSERVE_TIMEOUT", "7s")
	t.Setenv("FIELDSERVE_LOG_LEVEL", "debug")

	cfg, err := LoadFromBytes([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "https://override.fieldserve.example" {
		t.Errorf("FIELDSERVE_BASE_URL not applied: %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 7*time.Second {
		t.Errorf("FIELDSERVE_TIMEOUT not applied: %v", cfg.API.Timeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("FIELDSERVE_LOG_LEVEL not applied: %q", cfg.Logging.Level)
	}
}

func TestValidationRules(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			"negative threshold",
			"api:\n  base_url: https://a.example\ncircuit_breaker:\n  failure_threshold: -1\n",
			"failure_threshold",
		},
		{
			"max_delay below base_delay",
			"api:\n  base_url: https://a.example\nretry:\n  base_delay: 10s\n  max_delay: 1s\n",
			"max_delay",
		},
		{
			"bad log level",
			"api:\n  base_url: https://a.example\nlogging:\n  level: loud\n",
			"logging.level",
		},
		{
			"tls key without cert",
			"api:\n  base_url: https://a.example\ntls:\n  key_file: /tmp/k.pem\n",
			"tls.cert_file",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestRateLimitBurstDefault(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("api:\n  base_url: https://a.example\nrate_limit:\n  requests_per_second: 20\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimit.BurstSize != 10 {
		t.Fatalf("burst default = %d, want 10", cfg.RateLimit.BurstSize)
	}
}

func TestWarnings(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("api:\n  base_url: http://a.example\ntls:\n  insecure_skip_verify: true\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d: %v", len(cfg.Warnings), cfg.Warnings)
	}
}

func TestDefaultFromEnvironment(t *testing.T) {
	t.Setenv("FIELDSERVE_BASE_URL", "https://env.fieldserve.example")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "https://env.fieldserve.example" {
		t.Errorf("FIELDSERVE_BASE_URL not applied: %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 15*time.Second {
		t.Errorf("default timeout not applied: %v", cfg.API.Timeout)
	}
}

func TestDefaultRequiresBaseURL(t *testing.T) {
	t.Setenv("FIELDSERVE_BASE_URL", "")

	_, err := Default()
	if err == nil || !strings.Contains(err.Error(), "base_url") {
		t.Fatalf("expected base_url validation error, got %v", err)
	}
}
