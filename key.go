package hrquery

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies a cache entry. Two keys with the same endpoint and
// deep-equal params resolve to the same entry, whatever the params'
// insertion order.
type Key struct {
	Endpoint string
	Params   Params
}

// NewKey is shorthand for Key{Endpoint: endpoint, Params: params}.
func NewKey(endpoint string, params Params) Key {
	return Key{Endpoint: endpoint, Params: params}
}

// KeyOf derives the cache key of a request descriptor.
func KeyOf(d RequestDescriptor) Key {
	return Key{Endpoint: d.Endpoint, Params: d.Params}
}

const keySeparator = "\x00"

// canonical returns endpoint + NUL + the stable JSON form of params.
// encoding/json writes map keys in sorted order at every depth, which is
// what makes the form independent of insertion order.
func (k Key) canonical() (string, error) {
	if k.Endpoint == "" {
		return "", fmt.Errorf("%w: endpoint is empty", ErrInvalidKey)
	}
	params := k.Params
	if params == nil {
		params = Params{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return k.Endpoint + keySeparator + string(b), nil
}

// String renders the key for logs.
func (k Key) String() string {
	s, err := k.canonical()
	if err != nil {
		return k.Endpoint + "{?}"
	}
	return strings.Replace(s, keySeparator, "", 1)
}

// Equal reports whether k and other address the same entry.
func (k Key) Equal(other Key) bool {
	a, errA := k.canonical()
	b, errB := other.canonical()
	return errA == nil && errB == nil && a == b
}

// Invalidation selects the cache entries a signal applies to.
type Invalidation struct {
	match func(Key, string) bool
	label string
}

// Matches reports whether the invalidation applies to k.
func (i Invalidation) Matches(k Key) bool {
	if i.match == nil {
		return false
	}
	c, err := k.canonical()
	if err != nil {
		return false
	}
	return i.match(k, c)
}

func (i Invalidation) String() string {
	return i.label
}

// ExactKey matches one entry.
func ExactKey(k Key) Invalidation {
	want, err := k.canonical()
	return Invalidation{
		label: "key:" + k.String(),
		match: func(_ Key, c string) bool {
			return err == nil && c == want
		},
	}
}

// Endpoint matches every entry of endpoint whatever its params.
func Endpoint(endpoint string) Invalidation {
	return Invalidation{
		label: "endpoint:" + endpoint,
		match: func(k Key, _ string) bool {
			return k.Endpoint == endpoint
		},
	}
}

// KeyPrefix matches every entry whose endpoint starts with prefix.
func KeyPrefix(prefix string) Invalidation {
	return Invalidation{
		label: "prefix:" + prefix,
		match: func(k Key, _ string) bool {
			return strings.HasPrefix(k.Endpoint, prefix)
		},
	}
}
