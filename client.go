package hrquery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxResponseSize = 10 * 1024 * 1024

// Client sends RequestDescriptors to one configured origin and normalizes
// every outcome into an Envelope. It is safe for concurrent use and is
// meant to be constructed once and passed to QueryCache and Mutation.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	timeout         time.Duration
	maxRetries      int
	backoffUnit     time.Duration
	statusThreshold int
	retryPolicy     RetryPolicy
	middleware      []Middleware
	headers         map[string]string
	transform       Transform
	metrics         *MetricsCollector
	logger          zerolog.Logger
	requestIDHeader string
	requestIDGen    func() string
	validationError error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors. An
// invalid client refuses to send.
func New(options ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	client := &Client{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Jar:     jar,
		},
		timeout:         15 * time.Second,
		maxRetries:      defaultMaxRetries,
		backoffUnit:     defaultBackoffUnit,
		statusThreshold: defaultStatusThreshold,
		middleware:      []Middleware{},
		logger:          zerolog.Nop(),
		requestIDHeader: "X-Request-ID",
		requestIDGen:    uuid.NewString,
	}

	for _, option := range options {
		option(client)
	}

	if client.retryPolicy == nil {
		client.retryPolicy = NewDefaultRetryPolicy(client.maxRetries, client.backoffUnit, client.statusThreshold)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Send issues exactly one attempt. Runtime failures are reported in the
// Envelope; the error is non-nil only for an invalid descriptor or client.
func (c *Client) Send(ctx context.Context, d RequestDescriptor) (Envelope, error) {
	return c.run(ctx, d, NoRetry{})
}

// Do sends the descriptor through the retry policy. Retries are invisible to
// the caller apart from latency.
func (c *Client) Do(ctx context.Context, d RequestDescriptor) (Envelope, error) {
	return c.run(ctx, d, c.retryPolicy)
}

// Fetcher validates d up front and returns a Fetcher that sends it through
// the retry policy, as Do does.
func (c *Client) Fetcher(d RequestDescriptor) (Fetcher, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}
	p, err := c.prepare(d)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) Envelope {
		return c.send(ctx, d, p, c.retryPolicy)
	}, nil
}

type prepared struct {
	url    string
	body   []byte
	header http.Header
}

func (c *Client) run(ctx context.Context, d RequestDescriptor, policy RetryPolicy) (Envelope, error) {
	if c.validationError != nil {
		return Envelope{}, c.validationError
	}
	p, err := c.prepare(d)
	if err != nil {
		return Envelope{}, err
	}
	return c.send(ctx, d, p, policy), nil
}

// send runs the attempts of a prepared request until policy stops it.
func (c *Client) send(ctx context.Context, d RequestDescriptor, p *prepared, policy RetryPolicy) Envelope {
	start := time.Now()
	requestID := c.requestIDGen()
	log := c.logger.With().Str("requestID", requestID).Str("method", d.Method).Str("endpoint", d.Endpoint).Logger()
	log.Debug().Msg("Starting request")

	c.metrics.RecordRequestStart(d.Method, d.Endpoint)
	defer c.metrics.RecordRequestEnd(d.Method, d.Endpoint)

	for n := 1; ; n++ {
		if n > 1 {
			c.metrics.RecordRetry(d.Method, d.Endpoint, n-1)
			log.Info().Int("attempt", n).Msg("Retry attempt")
		}

		env := c.attempt(ctx, d, p, requestID, n, policy.MaxRetries(), start)
		if env.Err == nil {
			c.metrics.RecordRequest(d.Method, d.Endpoint, env.StatusCode, time.Since(start))
			log.Debug().Int("status", env.StatusCode).Dur("duration", time.Since(start)).Msg("Request completed")
			return env
		}

		c.metrics.RecordError(env.Err.Kind, d.Method, d.Endpoint)

		delay, retry := policy.ShouldRetry(Attempt{Descriptor: d, Result: env, Number: n})
		if retry && ctx.Err() == nil {
			log.Info().Int("attempt", n+1).Dur("backoff", delay).Str("kind", string(env.Err.Kind)).Msg("Scheduling retry")
			if sleep(ctx, delay) == nil {
				continue
			}
		}

		c.metrics.RecordRequest(d.Method, d.Endpoint, env.StatusCode, time.Since(start))
		log.Warn().Err(env.Err).Int("attempts", n).Msg("Request failed")
		return env
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) attempt(ctx context.Context, d RequestDescriptor, p *prepared, requestID string, n, maxRetries int, start time.Time) Envelope {
	newError := func(kind ErrorKind, message string, status int, cause error) Envelope {
		return failure(&APIError{
			Kind:       kind,
			Message:    message,
			StatusCode: status,
			Method:     d.Method,
			Endpoint:   d.Endpoint,
			RequestID:  requestID,
			Attempt:    n,
			MaxRetries: maxRetries,
			Timestamp:  time.Now(),
			Duration:   time.Since(start),
			Cause:      cause,
		})
	}

	var body io.Reader
	if p.body != nil {
		body = bytes.NewReader(p.body)
	}
	req, err := http.NewRequestWithContext(ctx, d.Method, p.url, body)
	if err != nil {
		return newError(KindNetwork, err.Error(), 0, err)
	}
	req.Header = p.header.Clone()
	if c.requestIDHeader != "" {
		req.Header.Set(c.requestIDHeader, requestID)
	}

	resp, err := c.executeMiddleware(req)
	if err != nil {
		kind, msg := classifyTransportError(err)
		return newError(kind, msg, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		kind, msg := classifyTransportError(err)
		return newError(kind, msg, resp.StatusCode, err)
	}
	if len(raw) > maxResponseSize {
		return newError(KindDecode, "response exceeds 10MiB", resp.StatusCode, nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, payload := errorMessage(resp.StatusCode, raw)
		env := newError(statusKind(resp.StatusCode), msg, resp.StatusCode, nil)
		env.Err.Payload = payload
		return env
	}

	data := json.RawMessage(raw)
	if c.transform != nil && len(bytes.TrimSpace(raw)) > 0 {
		data, err = c.transform(data)
		if err != nil {
			return newError(KindDecode, "transform response", resp.StatusCode, err)
		}
	}
	return success(resp.StatusCode, data)
}

func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

// prepare resolves everything that does not change between attempts.
func (c *Client) prepare(d RequestDescriptor) (*prepared, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	u, err := c.resolveURL(d.Endpoint)
	if err != nil {
		return nil, err
	}
	if len(d.Params) > 0 {
		q := u.Query()
		if err := encodeParams(q, d.Params); err != nil {
			return nil, err
		}
		u.RawQuery = q.Encode()
	}

	p := &prepared{url: u.String(), header: buildHeaders(d.Body, c.headers, d.Headers)}

	switch body := d.Body.(type) {
	case nil:
	case *FormData:
		r, contentType, err := body.encode()
		if err != nil {
			return nil, fmt.Errorf("%w: encode form data: %v", ErrInvalidDescriptor, err)
		}
		p.body, _ = io.ReadAll(r)
		p.header.Set("Content-Type", contentType)
	default:
		p.body, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: encode body: %v", ErrInvalidDescriptor, err)
		}
	}
	return p, nil
}

func (c *Client) resolveURL(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: parse endpoint: %v", ErrInvalidDescriptor, err)
	}
	if u.IsAbs() {
		return u, nil
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: relative endpoint %q without base URL", ErrInvalidDescriptor, endpoint)
	}
	joined := strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	u, err = url.Parse(joined)
	if err != nil {
		return nil, fmt.Errorf("%w: parse endpoint: %v", ErrInvalidDescriptor, err)
	}
	return u, nil
}

// buildHeaders returns a fresh header set for body. Later maps override
// earlier ones. Multipart bodies never carry a caller-supplied Content-Type.
func buildHeaders(body any, overrides ...map[string]string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", UserAgent())
	for _, m := range overrides {
		for k, v := range m {
			h.Set(k, v)
		}
	}
	if _, ok := body.(*FormData); ok {
		h.Del("Content-Type")
	}
	return h
}

func encodeParams(q url.Values, params Params) error {
	for k, v := range params {
		if v == nil {
			continue
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				s, err := scalarString(k, rv.Index(i))
				if err != nil {
					return err
				}
				q.Add(k, s)
			}
		default:
			s, err := scalarString(k, rv)
			if err != nil {
				return err
			}
			q.Set(k, s)
		}
	}
	return nil
}

func scalarString(name string, v reflect.Value) (string, error) {
	if v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "", nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array, reflect.Func, reflect.Chan:
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String(), nil
		}
		return "", fmt.Errorf("%w: param %q is not a scalar", ErrInvalidDescriptor, name)
	}
	return fmt.Sprint(v.Interface()), nil
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// BaseURL returns the configured origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}
