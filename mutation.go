package hrquery

import (
	"context"
	"fmt"
	"sync"
)

// DescriptorBuilder turns a mutation input into the request to send.
type DescriptorBuilder[I any] func(input I) (RequestDescriptor, error)

// SendAs builds a descriptor that sends the input as the JSON body.
func SendAs[I any](method, endpoint string) DescriptorBuilder[I] {
	return func(input I) (RequestDescriptor, error) {
		return RequestDescriptor{Method: method, Endpoint: endpoint, Body: input}, nil
	}
}

// MutationOption configures a Mutation.
type MutationOption func(*mutationConfig)

type mutationConfig struct {
	invalidates    []Invalidation
	invalidatesFor func(input any) []Invalidation
	onSuccess      func(Envelope)
	onError        func(*APIError)
	onSettled      func(Envelope)
}

// Invalidates names the cache entries refreshed after every successful run.
func Invalidates(invs ...Invalidation) MutationOption {
	return func(cfg *mutationConfig) {
		cfg.invalidates = append(cfg.invalidates, invs...)
	}
}

// InvalidatesFor derives extra invalidations from the input, e.g. the key
// of the record being updated.
func InvalidatesFor[I any](fn func(I) []Invalidation) MutationOption {
	return func(cfg *mutationConfig) {
		cfg.invalidatesFor = func(input any) []Invalidation {
			if in, ok := input.(I); ok {
				return fn(in)
			}
			return nil
		}
	}
}

// OnSuccess is called after a successful run, once invalidation is done.
func OnSuccess(fn func(Envelope)) MutationOption {
	return func(cfg *mutationConfig) {
		cfg.onSuccess = fn
	}
}

// OnError is called when a run ends with an API error.
func OnError(fn func(*APIError)) MutationOption {
	return func(cfg *mutationConfig) {
		cfg.onError = fn
	}
}

// OnSettled is called after every run.
func OnSettled(fn func(Envelope)) MutationOption {
	return func(cfg *mutationConfig) {
		cfg.onSettled = fn
	}
}

// Mutation runs a write operation: one Client.Do per invocation followed,
// on success, by the configured cache invalidations.
type Mutation[I any] struct {
	client *Client
	cache  *QueryCache
	build  DescriptorBuilder[I]
	cfg    mutationConfig

	mu      sync.Mutex
	running int
	last    Envelope
}

// NewMutation creates a mutation. cache may be nil when nothing needs to be
// invalidated.
func NewMutation[I any](client *Client, cache *QueryCache, build DescriptorBuilder[I], opts ...MutationOption) *Mutation[I] {
	m := &Mutation[I]{client: client, cache: cache, build: build}
	for _, opt := range opts {
		opt(&m.cfg)
	}
	return m
}

// MutateAsync runs the mutation and returns its envelope. Invalidations run
// before it returns. The error is non-nil only for programmer errors such as
// a failing builder or an invalid descriptor.
func (m *Mutation[I]) MutateAsync(ctx context.Context, input I) (Envelope, error) {
	if m.client == nil || m.build == nil {
		return Envelope{}, fmt.Errorf("%w: mutation needs a client and a builder", ErrInvalidDescriptor)
	}
	d, err := m.build(input)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: build: %w", ErrInvalidDescriptor, err)
	}

	m.mu.Lock()
	m.running++
	m.mu.Unlock()

	env, err := m.client.Do(ctx, d)
	if err != nil {
		m.mu.Lock()
		m.running--
		m.mu.Unlock()
		return Envelope{}, err
	}

	if env.Err == nil {
		m.invalidate(input)
	}
	m.client.metrics.RecordMutation(d.Endpoint, env.Err == nil)

	m.mu.Lock()
	m.running--
	m.last = env
	m.mu.Unlock()

	if env.Err == nil {
		if m.cfg.onSuccess != nil {
			m.cfg.onSuccess(env)
		}
	} else if m.cfg.onError != nil {
		m.cfg.onError(env.Err)
	}
	if m.cfg.onSettled != nil {
		m.cfg.onSettled(env)
	}
	return env, nil
}

// Mutate runs the mutation in the background. Results are delivered through
// the OnSuccess, OnError and OnSettled callbacks; programmer errors are logged.
func (m *Mutation[I]) Mutate(ctx context.Context, input I) {
	go func() {
		if _, err := m.MutateAsync(ctx, input); err != nil {
			logger := m.client.logger
			logger.Error().Err(err).Msg("Mutation rejected")
		}
	}()
}

func (m *Mutation[I]) invalidate(input I) {
	if m.cache == nil {
		return
	}
	invs := append([]Invalidation(nil), m.cfg.invalidates...)
	if m.cfg.invalidatesFor != nil {
		invs = append(invs, m.cfg.invalidatesFor(input)...)
	}
	if len(invs) > 0 {
		m.cache.Invalidate(invs...)
	}
}

// IsLoading reports whether any invocation is in flight.
func (m *Mutation[I]) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running > 0
}

// Err returns the error of the latest finished invocation.
func (m *Mutation[I]) Err() *APIError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last.Err
}

// Data returns the payload of the latest finished invocation.
func (m *Mutation[I]) Data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last.Data
}

// Reset forgets the latest result.
func (m *Mutation[I]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = Envelope{}
}
