package hrquery

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// WithBaseURL sets the origin every relative endpoint is joined onto.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = base
	}
}

// WithTimeout sets the per-attempt timeout. Expiry is a retryable timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithMaxRetries sets the maximum number of retry attempts
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBackoffUnit sets the wait unit; retry n waits n units.
func WithBackoffUnit(d time.Duration) Option {
	return func(c *Client) {
		c.backoffUnit = d
	}
}

// WithRetryStatusThreshold sets the lowest status code that is retried.
func WithRetryStatusThreshold(status int) Option {
	return func(c *Client) {
		c.statusThreshold = status
	}
}

// WithRetryPolicy replaces the default linear policy. The max retries,
// backoff unit and status threshold options are ignored when set.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithMiddleware adds middleware to the client
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithHTTPClient sets a custom HTTP client. Its timeout is overwritten by
// the configured timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
		if c.httpClient != nil && c.timeout != 0 {
			c.httpClient.Timeout = c.timeout
		}
	}
}

// WithCookieJar sets the jar carrying the session cookies.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) {
		if c.httpClient != nil {
			c.httpClient.Jar = jar
		}
	}
}

// WithHeaders sets headers sent on every request. Descriptor headers win.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		c.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithTransform sets a post-processing step for successful payloads.
func WithTransform(fn Transform) Option {
	return func(c *Client) {
		c.transform = fn
	}
}

// WithMetrics enables Prometheus metrics collection on the default registerer
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsRegistry enables metrics on the given registerer.
func WithMetricsRegistry(registry prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollectorWithRegistry(registry)
	}
}

// WithMetricsCollector sets a custom metrics collector, typically shared
// with a QueryCache.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets the logger. Requests are logged at debug level, retries
// at info and terminal failures at warn.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With().Str("component", "hrquery").Logger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		c.requestIDGen = gen
	}
}

// WithRequestIDHeader sets the header carrying the request ID. An empty
// name disables the header.
func WithRequestIDHeader(name string) Option {
	return func(c *Client) {
		c.requestIDHeader = name
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateTransportConfig()...)
	errors = append(errors, c.validateRetryConfig()...)
	errors = append(errors, c.validateMiddlewareConfig()...)
	errors = append(errors, c.validateExtremeValues()...)

	if len(errors) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, errors)
	}

	return nil
}

func (c *Client) validateTransportConfig() []string {
	var errors []string

	if c.httpClient == nil {
		errors = append(errors, "HTTP client cannot be nil")
	}

	if c.timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}

	if c.baseURL != "" {
		u, err := url.Parse(c.baseURL)
		if err != nil || !u.IsAbs() {
			errors = append(errors, fmt.Sprintf("baseURL %q must be an absolute URL", c.baseURL))
		}
	}

	if c.requestIDGen == nil {
		errors = append(errors, "request ID generator cannot be nil")
	}

	return errors
}

func (c *Client) validateRetryConfig() []string {
	var errors []string

	if c.retryPolicy == nil {
		errors = append(errors, "retry policy cannot be nil")
	}

	if c.maxRetries < 0 {
		errors = append(errors, "maxRetries must be non-negative")
	}

	if c.backoffUnit < 0 {
		errors = append(errors, "backoffUnit must be non-negative")
	}

	if c.statusThreshold < 100 || c.statusThreshold > 599 {
		errors = append(errors, "retry status threshold must be a valid HTTP status")
	}

	return errors
}

func (c *Client) validateMiddlewareConfig() []string {
	var errors []string

	for i, middleware := range c.middleware {
		if middleware == nil {
			errors = append(errors, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return errors
}

func (c *Client) validateExtremeValues() []string {
	var errors []string

	if c.maxRetries > 100 {
		errors = append(errors, "maxRetries > 100 may cause excessive resource usage")
	}

	if c.backoffUnit > 10*time.Minute {
		errors = append(errors, "backoffUnit > 10m may cause very long delays")
	}

	if c.timeout > 10*time.Minute {
		errors = append(errors, "timeout > 10m may cause requests to hang for too long")
	}

	return errors
}
