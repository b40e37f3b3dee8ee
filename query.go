package hrquery

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// QueryCache holds one entry per Key and serves every concurrent reader of
// a key from a single in-flight fetch. Entries notify their subscribers on
// every state transition.
type QueryCache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	retention time.Duration
	staleTime time.Duration
	logger    zerolog.Logger
	metrics   *MetricsCollector
	nextSubID atomic.Uint64
}

// CacheOption configures a QueryCache.
type CacheOption func(*QueryCache)

// WithRetention sets how long an entry survives once its last subscriber
// has gone. Zero drops it immediately; a negative value keeps it forever.
func WithRetention(d time.Duration) CacheOption {
	return func(c *QueryCache) {
		c.retention = d
	}
}

// WithStaleTime sets how long a result stays fresh. A subscribe on an older
// result refetches in the background. A negative value never goes stale.
func WithStaleTime(d time.Duration) CacheOption {
	return func(c *QueryCache) {
		c.staleTime = d
	}
}

// WithCacheLogger sets the cache logger.
func WithCacheLogger(logger zerolog.Logger) CacheOption {
	return func(c *QueryCache) {
		c.logger = logger.With().Str("component", "QueryCache").Logger()
	}
}

// WithCacheMetrics records cache activity on collector.
func WithCacheMetrics(collector *MetricsCollector) CacheOption {
	return func(c *QueryCache) {
		c.metrics = collector
	}
}

// NewQueryCache creates an empty cache. Entries are retained for five
// minutes after their last subscriber leaves.
func NewQueryCache(opts ...CacheOption) *QueryCache {
	c := &QueryCache{
		entries:   make(map[string]*entry),
		retention: 5 * time.Minute,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type flight struct {
	seq  uint64
	done chan struct{}
}

type entry struct {
	cache *QueryCache
	key   Key
	id    string

	mu         sync.Mutex
	status     Status
	data       json.RawMessage
	err        *APIError
	statusCode int
	updatedAt  time.Time
	stale      bool
	// seq is the last issued fetch, committed the newest one whose result landed.
	seq       uint64
	committed uint64
	inflight  *flight
	fetcher   Fetcher
	subs      map[uint64]*Subscription
	gcTimer   *time.Timer
	started   chan struct{}
	// notification trampoline
	pending     []State
	dispatching bool
}

func newEntry(c *QueryCache, key Key, id string) *entry {
	return &entry{
		cache:   c,
		key:     key,
		id:      id,
		subs:    make(map[uint64]*Subscription),
		started: make(chan struct{}),
	}
}

// SubscribeOption configures a Subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	enabled  bool
	listener Listener
}

// Enabled controls whether the subscription may fetch. A disabled
// subscription on a fresh key leaves the entry idle.
func Enabled(enabled bool) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.enabled = enabled
	}
}

// OnChange registers a listener for every state transition of the entry.
func OnChange(listener Listener) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.listener = listener
	}
}

// Subscription is one reader of a cache entry.
type Subscription struct {
	id       uint64
	entry    *entry
	listener Listener
	// guarded by entry.mu
	enabled bool
	closed  bool
}

// Subscribe registers a reader for key. If the entry is idle or stale and
// the subscription is enabled, a fetch starts, unless one is already in
// flight, in which case the reader joins it.
func (c *QueryCache) Subscribe(key Key, fetcher Fetcher, opts ...SubscribeOption) (*Subscription, error) {
	id, err := key.canonical()
	if err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, ErrNilFetcher
	}

	cfg := subscribeConfig{enabled: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	sub := &Subscription{id: c.nextSubID.Add(1), listener: cfg.listener, enabled: cfg.enabled}

	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		e = newEntry(c, key, id)
		c.entries[id] = e
		c.metrics.RecordCacheSize(len(c.entries))
	}
	e.mu.Lock()
	c.mu.Unlock()

	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
	sub.entry = e
	e.subs[sub.id] = sub
	e.fetcher = fetcher

	started := false
	if sub.enabled {
		started = e.ensureFreshLocked()
	}
	e.mu.Unlock()

	if started {
		e.notify()
	}
	return sub, nil
}

// Fetch is a one-shot read: it subscribes, waits for the entry to settle
// and unsubscribes. Concurrent Fetch calls for a key share one request.
func (c *QueryCache) Fetch(ctx context.Context, key Key, fetcher Fetcher) (Envelope, error) {
	sub, err := c.Subscribe(key, fetcher)
	if err != nil {
		return Envelope{}, err
	}
	defer sub.Close()
	return sub.Wait(ctx)
}

// Invalidate marks every entry matched by any of invs stale. Entries with an
// enabled subscriber go back to loading and refetch at once; the others
// refetch on their next subscribe. It returns the number of matched entries.
func (c *QueryCache) Invalidate(invs ...Invalidation) int {
	c.mu.Lock()
	var matched []*entry
	for _, e := range c.entries {
		for _, inv := range invs {
			if inv.match != nil && inv.match(e.key, e.id) {
				matched = append(matched, e)
				break
			}
		}
	}
	c.mu.Unlock()

	for _, e := range matched {
		e.mu.Lock()
		e.stale = true
		started := false
		if e.enabledSubsLocked() > 0 {
			e.startFetchLocked()
			started = true
		}
		e.mu.Unlock()

		c.metrics.RecordInvalidation(e.key.Endpoint)
		c.logger.Debug().Str("key", e.key.String()).Bool("refetch", started).Msg("Entry invalidated")
		if started {
			e.notify()
		}
	}
	return len(matched)
}

// SetData replaces the data of key, creating the entry if needed, and
// notifies subscribers. It is meant for optimistic updates; a later fetch
// overwrites it.
func (c *QueryCache) SetData(key Key, data json.RawMessage) error {
	id, err := key.canonical()
	if err != nil {
		return err
	}
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		e = newEntry(c, key, id)
		c.entries[id] = e
		c.metrics.RecordCacheSize(len(c.entries))
	}
	e.mu.Lock()
	if !ok {
		e.scheduleCollectLocked()
	}
	c.mu.Unlock()

	e.data, e.err, e.statusCode = normalize(Envelope{Data: data}).Data, nil, 0
	e.updatedAt = time.Now()
	if e.inflight == nil {
		e.status = StatusSuccess
	}
	e.markStartedLocked()
	e.enqueueLocked()
	e.mu.Unlock()
	e.notify()
	return nil
}

// Peek returns the state of key without subscribing.
func (c *QueryCache) Peek(key Key) (State, bool) {
	id, err := key.canonical()
	if err != nil {
		return State{}, false
	}
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked(), true
}

// Remove drops the entry for key. Existing subscriptions keep their
// detached entry; new subscribers start from idle.
func (c *QueryCache) Remove(key Key) bool {
	id, err := key.canonical()
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if ok {
		c.dropLocked(e)
	}
	return ok
}

// Clear drops every entry.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		c.dropLocked(e)
	}
}

// Len returns the number of entries.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *QueryCache) dropLocked(e *entry) {
	e.mu.Lock()
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
	e.mu.Unlock()
	delete(c.entries, e.id)
	c.metrics.RecordCacheSize(len(c.entries))
}

func (c *QueryCache) collect(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[e.id] != e {
		return
	}
	e.mu.Lock()
	idle := len(e.subs) == 0
	e.mu.Unlock()
	if idle {
		c.dropLocked(e)
		c.logger.Debug().Str("key", e.key.String()).Msg("Entry collected")
	}
}

// ensureFreshLocked starts a fetch when the entry has no usable result and
// nothing is in flight. It reports whether a fetch started.
func (e *entry) ensureFreshLocked() bool {
	if e.inflight != nil {
		e.cache.metrics.RecordDeduplicationHit(e.key.Endpoint)
		return false
	}
	if e.status == StatusIdle || e.stale || e.expiredLocked() {
		e.startFetchLocked()
		return true
	}
	e.cache.metrics.RecordCacheHit(e.key.Endpoint)
	return false
}

func (e *entry) expiredLocked() bool {
	if e.cache.staleTime < 0 || e.updatedAt.IsZero() {
		return false
	}
	return time.Since(e.updatedAt) >= e.cache.staleTime
}

// startFetchLocked issues a new fetch, superseding any in-flight one.
func (e *entry) startFetchLocked() {
	e.seq++
	f := &flight{seq: e.seq, done: make(chan struct{})}
	e.inflight = f
	e.status = StatusLoading
	e.markStartedLocked()
	fetcher := e.fetcher

	e.enqueueLocked()

	e.cache.metrics.RecordCacheFetch(e.key.Endpoint)
	e.cache.logger.Debug().Str("key", e.key.String()).Uint64("seq", f.seq).Msg("Fetch started")

	go func() {
		env := normalize(fetcher(context.Background()))
		e.complete(f, env)
	}()
}

func (e *entry) markStartedLocked() {
	select {
	case <-e.started:
	default:
		close(e.started)
	}
}

// complete commits env unless a newer fetch already committed.
func (e *entry) complete(f *flight, env Envelope) {
	e.mu.Lock()
	latest := e.inflight == f
	committed := f.seq > e.committed
	if committed {
		e.committed = f.seq
		e.data, e.err, e.statusCode = env.Data, env.Err, env.StatusCode
		e.updatedAt = time.Now()
	}
	if latest {
		e.inflight = nil
		e.stale = false
		if e.err != nil {
			e.status = StatusError
		} else {
			e.status = StatusSuccess
		}
	}
	if committed {
		e.enqueueLocked()
	}
	close(f.done)
	e.mu.Unlock()

	if !committed {
		e.cache.metrics.RecordStaleDiscard(e.key.Endpoint)
		e.cache.logger.Warn().Str("key", e.key.String()).Uint64("seq", f.seq).Msg("Discarded response older than committed result")
		return
	}
	e.notify()
}

func (e *entry) enabledSubsLocked() int {
	n := 0
	for _, s := range e.subs {
		if s.enabled {
			n++
		}
	}
	return n
}

func (e *entry) stateLocked() State {
	return State{
		Status:     e.status,
		Data:       e.data,
		Err:        e.err,
		StatusCode: e.statusCode,
		IsLoading:  e.status == StatusLoading,
		UpdatedAt:  e.updatedAt,
	}
}

// enqueueLocked records the current state for delivery. Every transition
// calls it before releasing e.mu.
func (e *entry) enqueueLocked() {
	e.pending = append(e.pending, e.stateLocked())
}

// notify delivers queued states to every listener. The goroutine that finds
// no dispatch running drains the queue, so listeners see transitions in
// order and may call back into the cache.
func (e *entry) notify() {
	e.mu.Lock()
	if e.dispatching {
		e.mu.Unlock()
		return
	}
	e.dispatching = true
	for len(e.pending) > 0 {
		batch := e.pending
		e.pending = nil
		listeners := make([]Listener, 0, len(e.subs))
		for _, s := range e.subs {
			if s.listener != nil {
				listeners = append(listeners, s.listener)
			}
		}
		e.mu.Unlock()
		for _, st := range batch {
			for _, l := range listeners {
				l(st)
			}
		}
		e.mu.Lock()
	}
	e.dispatching = false
	e.mu.Unlock()
}

// scheduleCollectLocked arranges removal once the entry has no subscribers.
func (e *entry) scheduleCollectLocked() {
	c := e.cache
	switch {
	case c.retention < 0:
	case c.retention == 0:
		go c.collect(e)
	default:
		if e.gcTimer != nil {
			e.gcTimer.Stop()
		}
		e.gcTimer = time.AfterFunc(c.retention, func() { c.collect(e) })
	}
}

// State returns the current state of the subscribed entry.
func (s *Subscription) State() State {
	s.entry.mu.Lock()
	defer s.entry.mu.Unlock()
	return s.entry.stateLocked()
}

// Key returns the subscribed key.
func (s *Subscription) Key() Key {
	return s.entry.key
}

// Refetch issues a new fetch even if one is in flight; the newest result wins.
func (s *Subscription) Refetch() {
	e := s.entry
	e.mu.Lock()
	if s.closed {
		e.mu.Unlock()
		return
	}
	e.startFetchLocked()
	e.mu.Unlock()
	e.notify()
}

// SetEnabled toggles fetching. Enabling an idle or stale entry starts a fetch.
func (s *Subscription) SetEnabled(enabled bool) {
	e := s.entry
	e.mu.Lock()
	if s.closed || s.enabled == enabled {
		e.mu.Unlock()
		return
	}
	s.enabled = enabled
	started := false
	if enabled {
		started = e.ensureFreshLocked()
	}
	e.mu.Unlock()
	if started {
		e.notify()
	}
}

// Wait blocks until the entry has settled with no fetch in flight and
// returns its result. On an entry that never started fetching it blocks
// until one starts or ctx ends.
func (s *Subscription) Wait(ctx context.Context) (Envelope, error) {
	e := s.entry
	for {
		e.mu.Lock()
		if s.closed {
			e.mu.Unlock()
			return Envelope{}, ErrSubscriptionClosed
		}
		f := e.inflight
		started := e.started
		if f == nil && e.status != StatusIdle {
			st := e.stateLocked()
			e.mu.Unlock()
			return st.Envelope(), nil
		}
		e.mu.Unlock()

		wait := started
		if f != nil {
			wait = f.done
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}
}

// Close unsubscribes. When the last subscriber leaves, the entry is
// collected after the cache retention.
func (s *Subscription) Close() {
	e := s.entry
	c := e.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(e.subs, s.id)
	if len(e.subs) == 0 && c.entries[e.id] == e {
		e.scheduleCollectLocked()
	}
}

// normalize guarantees that exactly one of Data and Err is set.
func normalize(env Envelope) Envelope {
	if env.Err != nil {
		env.Data = nil
		return env
	}
	if env.Data == nil {
		env.Data = nullData
	}
	return env
}
