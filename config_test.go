package hrquery

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLoadConfigFrom_Defaults(t *testing.T) {
	cfg, err := LoadConfigFrom(map[string]string{"HRQ_BASE_URL": "https://hr.example.com/api"})
	if err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}

	if cfg.BaseURL != "https://hr.example.com/api" {
		t.Errorf("Unexpected base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout != 15*time.Second {
		t.Errorf("Expected timeout=15s, got %v", cfg.Timeout)
	}
	if cfg.MaxRetries != 1 {
		t.Errorf("Expected maxRetries=1, got %d", cfg.MaxRetries)
	}
	if cfg.BackoffUnit != 10*time.Second {
		t.Errorf("Expected backoffUnit=10s, got %v", cfg.BackoffUnit)
	}
	if cfg.RetryStatusThreshold != 500 {
		t.Errorf("Expected threshold=500, got %d", cfg.RetryStatusThreshold)
	}
	if cfg.CacheRetention != 5*time.Minute {
		t.Errorf("Expected retention=5m, got %v", cfg.CacheRetention)
	}
	if cfg.StaleTime != 0 || cfg.Metrics || cfg.LogLevel != "info" {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigFrom_Overrides(t *testing.T) {
	cfg, err := LoadConfigFrom(map[string]string{
		"HRQ_BASE_URL":               "https://hr.example.com",
		"HRQ_TIMEOUT":                "3s",
		"HRQ_MAX_RETRIES":            "4",
		"HRQ_BACKOFF_UNIT":           "250ms",
		"HRQ_RETRY_STATUS_THRESHOLD": "429",
		"HRQ_CACHE_RETENTION":        "-1s",
		"HRQ_STALE_TIME":             "30s",
		"HRQ_LOG_LEVEL":              "debug",
		"HRQ_METRICS":                "true",
		"HRQ_HEADERS":                "X-Tenant:acme,X-App:portal",
	})
	if err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}

	if cfg.Timeout != 3*time.Second || cfg.MaxRetries != 4 || cfg.BackoffUnit != 250*time.Millisecond {
		t.Errorf("Transport overrides not applied: %+v", cfg)
	}
	if cfg.RetryStatusThreshold != 429 || cfg.CacheRetention != -time.Second || cfg.StaleTime != 30*time.Second {
		t.Errorf("Retry/cache overrides not applied: %+v", cfg)
	}
	if !cfg.Metrics || cfg.LogLevel != "debug" {
		t.Errorf("Ambient overrides not applied: %+v", cfg)
	}
	if cfg.Headers["X-Tenant"] != "acme" || cfg.Headers["X-App"] != "portal" {
		t.Errorf("Unexpected headers %v", cfg.Headers)
	}
}

func TestLoadConfigFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"missing base URL", map[string]string{}},
		{"bad duration", map[string]string{"HRQ_BASE_URL": "https://hr.example.com", "HRQ_TIMEOUT": "soon"}},
		{"bad level", map[string]string{"HRQ_BASE_URL": "https://hr.example.com", "HRQ_LOG_LEVEL": "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfigFrom(tt.vars); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfig_Setup(t *testing.T) {
	cfg, err := LoadConfigFrom(map[string]string{
		"HRQ_BASE_URL":        "https://hr.example.com",
		"HRQ_MAX_RETRIES":     "2",
		"HRQ_CACHE_RETENTION": "1m",
		"HRQ_METRICS":         "true",
		"HRQ_LOG_LEVEL":       "debug",
	})
	if err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}

	var logs bytes.Buffer
	client, cache, err := cfg.Setup(&logs, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}

	if client.BaseURL() != "https://hr.example.com" || client.maxRetries != 2 {
		t.Errorf("Client not configured from env: base=%q retries=%d", client.BaseURL(), client.maxRetries)
	}
	if client.metrics == nil || cache.metrics != client.metrics {
		t.Error("Expected client and cache to share one collector")
	}
	if cache.retention != time.Minute {
		t.Errorf("Expected retention=1m, got %v", cache.retention)
	}

	client.logger.Debug().Msg("configured")
	if !strings.Contains(logs.String(), `"component":"hrquery"`) {
		t.Errorf("Expected component field in logs, got %s", logs.String())
	}
}

func TestConfig_SetupRejectsInvalidClient(t *testing.T) {
	cfg := Config{BaseURL: "not a url", Timeout: time.Second, RetryStatusThreshold: 500, LogLevel: "info"}

	if _, _, err := cfg.Setup(nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}
