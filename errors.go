package hrquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Sentinel errors for programmer mistakes. These are returned as Go errors,
// never inside an Envelope.
var (
	// ErrInvalidDescriptor is returned when a RequestDescriptor cannot be sent.
	ErrInvalidDescriptor = errors.New("hrquery: invalid request descriptor")

	// ErrInvalidKey is returned when a cache key cannot be serialized.
	ErrInvalidKey = errors.New("hrquery: invalid cache key")

	// ErrInvalidConfig is returned when client or cache options are inconsistent.
	ErrInvalidConfig = errors.New("hrquery: invalid configuration")

	// ErrSubscriptionClosed is returned by Wait after Close.
	ErrSubscriptionClosed = errors.New("hrquery: subscription closed")

	// ErrNilFetcher is returned when Subscribe or Fetch is given no fetcher.
	ErrNilFetcher = errors.New("hrquery: fetcher is nil")
)

// ErrorKind classifies an APIError.
type ErrorKind string

const (
	// KindNetwork means no response was received.
	KindNetwork ErrorKind = "network"
	// KindTimeout is a network failure caused by the request deadline.
	KindTimeout ErrorKind = "timeout"
	// KindServer is a 5xx response.
	KindServer ErrorKind = "server"
	// KindClient is a 4xx response.
	KindClient ErrorKind = "client"
	// KindDecode means the response could not be read or transformed.
	KindDecode ErrorKind = "decode"
)

// APIError carries everything a caller needs to render a failure without
// inspecting transport internals.
type APIError struct {
	Kind    ErrorKind
	Message string
	// Payload is the server-provided error body when it was valid JSON.
	Payload    json.RawMessage
	StatusCode int
	Method     string
	Endpoint   string
	RequestID  string
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration
	Cause      error
}

// Error implements error interface.
func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s: %d %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 1 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries+1)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error kinds for errors.Is.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*APIError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether the failure happened below the application
// layer or on the server.
func (e *APIError) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindNetwork, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err is an APIError that might succeed on retry.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// classifyTransportError maps a round-trip error to a kind and a message.
func classifyTransportError(err error) (ErrorKind, string) {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return KindTimeout, "timeout"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindNetwork, "connection refused"
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindNetwork, "connection closed"
	}
	return KindNetwork, err.Error()
}

// statusKind maps a non-2xx status to a kind.
func statusKind(status int) ErrorKind {
	if status >= 500 {
		return KindServer
	}
	return KindClient
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(status int, body []byte) (string, json.RawMessage) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return http.StatusText(status), nil
	}
	if !json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	payload := json.RawMessage(trimmed)
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err == nil {
		for _, name := range []string{"message", "error", "detail"} {
			if s, ok := fields[name].(string); ok && s != "" {
				return s, payload
			}
		}
	}
	var s string
	if err := json.Unmarshal(payload, &s); err == nil && s != "" {
		return s, payload
	}
	return http.StatusText(status), payload
}
