package hrquery

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Config is the environment-driven configuration of a Client and a
// QueryCache. Every field maps to an HRQ_* variable.
type Config struct {
	BaseURL              string            `env:"BASE_URL,required"`
	Timeout              time.Duration     `env:"TIMEOUT" envDefault:"15s"`
	MaxRetries           int               `env:"MAX_RETRIES" envDefault:"1"`
	BackoffUnit          time.Duration     `env:"BACKOFF_UNIT" envDefault:"10s"`
	RetryStatusThreshold int               `env:"RETRY_STATUS_THRESHOLD" envDefault:"500"`
	CacheRetention       time.Duration     `env:"CACHE_RETENTION" envDefault:"5m"`
	StaleTime            time.Duration     `env:"STALE_TIME" envDefault:"0s"`
	LogLevel             string            `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat            string            `env:"LOG_FORMAT" envDefault:"json"`
	Metrics              bool              `env:"METRICS" envDefault:"false"`
	Headers              map[string]string `env:"HEADERS"`
}

const envPrefix = "HRQ_"

// LoadConfig reads the configuration from the process environment.
func LoadConfig() (Config, error) {
	return parseConfig(env.Options{Prefix: envPrefix})
}

// LoadConfigFrom reads the configuration from vars instead of the process
// environment. Keys carry the HRQ_ prefix.
func LoadConfigFrom(vars map[string]string) (Config, error) {
	return parseConfig(env.Options{Prefix: envPrefix, Environment: vars})
}

func parseConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("%w: log level %q: %v", ErrInvalidConfig, cfg.LogLevel, err)
	}
	return cfg, nil
}

// Logger builds a zerolog logger writing to w at the configured level.
// LogFormat "console" selects the human-readable writer.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if c.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ClientOptions translates the configuration into client options. A non-nil
// collector is attached when metrics are enabled.
func (c Config) ClientOptions(logger zerolog.Logger, collector *MetricsCollector) []Option {
	opts := []Option{
		WithBaseURL(c.BaseURL),
		WithTimeout(c.Timeout),
		WithMaxRetries(c.MaxRetries),
		WithBackoffUnit(c.BackoffUnit),
		WithRetryStatusThreshold(c.RetryStatusThreshold),
		WithLogger(logger),
	}
	if len(c.Headers) > 0 {
		opts = append(opts, WithHeaders(c.Headers))
	}
	if c.Metrics && collector != nil {
		opts = append(opts, WithMetricsCollector(collector))
	}
	return opts
}

// CacheOptions translates the configuration into cache options.
func (c Config) CacheOptions(logger zerolog.Logger, collector *MetricsCollector) []CacheOption {
	opts := []CacheOption{
		WithRetention(c.CacheRetention),
		WithStaleTime(c.StaleTime),
		WithCacheLogger(logger),
	}
	if c.Metrics && collector != nil {
		opts = append(opts, WithCacheMetrics(collector))
	}
	return opts
}

// Setup is the common wiring of a configured client and cache sharing one
// logger and, when enabled, one metrics collector registered on registry.
func (c Config) Setup(w io.Writer, registry prometheus.Registerer) (*Client, *QueryCache, error) {
	logger := c.Logger(w)
	var collector *MetricsCollector
	if c.Metrics {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		collector = NewMetricsCollectorWithRegistry(registry)
	}
	client := New(c.ClientOptions(logger, collector)...)
	if err := client.ValidationError(); err != nil {
		return nil, nil, err
	}
	return client, NewQueryCache(c.CacheOptions(logger, collector)...), nil
}
