package hrquery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// RequestDescriptor describes one logical HTTP call. The client never
// mutates the maps it carries.
type RequestDescriptor struct {
	Method   string
	Endpoint string
	// Body is a JSON-serializable value, a *FormData upload, or nil.
	Body    any
	Headers map[string]string
	Params  Params
	// Idempotent marks a non-GET request as safe to retry.
	Idempotent bool
}

// Params are query-string parameters. Values are scalars or slices of scalars.
type Params map[string]any

// Get builds a GET descriptor.
func Get(endpoint string, params Params) RequestDescriptor {
	return RequestDescriptor{Method: http.MethodGet, Endpoint: endpoint, Params: params}
}

// Post builds a POST descriptor.
func Post(endpoint string, body any) RequestDescriptor {
	return RequestDescriptor{Method: http.MethodPost, Endpoint: endpoint, Body: body}
}

// Put builds a PUT descriptor.
func Put(endpoint string, body any) RequestDescriptor {
	return RequestDescriptor{Method: http.MethodPut, Endpoint: endpoint, Body: body}
}

// Delete builds a DELETE descriptor.
func Delete(endpoint string, params Params) RequestDescriptor {
	return RequestDescriptor{Method: http.MethodDelete, Endpoint: endpoint, Params: params}
}

func (d RequestDescriptor) validate() error {
	if d.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is empty", ErrInvalidDescriptor)
	}
	switch d.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions,
		http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidDescriptor, d.Method)
	}
	return nil
}

// isIdempotent reports whether the descriptor may be replayed.
func (d RequestDescriptor) isIdempotent() bool {
	switch d.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return d.Idempotent
	}
}

// Envelope is the uniform outcome of a call. Exactly one of Data and Err is
// non-nil once a call has completed.
type Envelope struct {
	Data       json.RawMessage
	Err        *APIError
	StatusCode int
}

// OK reports whether the call succeeded.
func (e Envelope) OK() bool {
	return e.Err == nil && e.Data != nil
}

// Decode unmarshals Data into v. It returns the envelope error if the call failed.
func (e Envelope) Decode(v any) error {
	if e.Err != nil {
		return e.Err
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Decode is the typed form of Envelope.Decode.
func Decode[T any](e Envelope) (T, error) {
	var v T
	err := e.Decode(&v)
	return v, err
}

var nullData = json.RawMessage("null")

func success(status int, data json.RawMessage) Envelope {
	if len(bytes.TrimSpace(data)) == 0 {
		data = nullData
	}
	return Envelope{Data: data, StatusCode: status}
}

func failure(err *APIError) Envelope {
	return Envelope{Err: err, StatusCode: err.StatusCode}
}

// FormData is a multipart payload for file uploads. When a descriptor carries
// one, the JSON content type is dropped and the multipart boundary type is
// used instead.
type FormData struct {
	fields []formField
	files  []formFile
}

type formField struct {
	name, value string
}

type formFile struct {
	field, filename string
	content         []byte
}

// NewFormData returns an empty multipart payload.
func NewFormData() *FormData {
	return &FormData{}
}

// Field appends a plain form field.
func (f *FormData) Field(name, value string) *FormData {
	f.fields = append(f.fields, formField{name: name, value: value})
	return f
}

// File appends a file part.
func (f *FormData) File(field, filename string, content []byte) *FormData {
	f.files = append(f.files, formFile{field: field, filename: filename, content: content})
	return f
}

func (f *FormData) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, fl := range f.fields {
		if err := w.WriteField(fl.name, fl.value); err != nil {
			return nil, "", err
		}
	}
	for _, fl := range f.files {
		part, err := w.CreateFormFile(fl.field, fl.filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(fl.content); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// Middleware wraps the round trip of every attempt.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Transform post-processes a successful payload before it reaches callers,
// e.g. to decrypt it.
type Transform func(json.RawMessage) (json.RawMessage, error)

// Option configures a Client.
type Option func(*Client)

// Status is the lifecycle state of a cache entry.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a snapshot of a cache entry as seen by a subscriber.
type State struct {
	Status     Status
	Data       json.RawMessage
	Err        *APIError
	StatusCode int
	IsLoading  bool
	UpdatedAt  time.Time
}

// Envelope returns the last completed result held in the state.
func (s State) Envelope() Envelope {
	return Envelope{Data: s.Data, Err: s.Err, StatusCode: s.StatusCode}
}

// HasResult reports whether the entry has completed at least one fetch.
func (s State) HasResult() bool {
	return s.Data != nil || s.Err != nil
}

// Listener receives every state transition of a subscribed entry.
type Listener func(State)

// Fetcher produces the envelope for a cache key.
type Fetcher func(ctx context.Context) Envelope
