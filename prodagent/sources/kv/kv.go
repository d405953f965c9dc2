// Package kv holds the small key-value stores used for session identity.
package kv

import "context"

// Store is a string key-value capability. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}

type namespaced struct {
	inner  Store
	prefix string
}

// Namespaced scopes every key of inner under prefix.
func Namespaced(inner Store, prefix string) Store {
	return &namespaced{inner: inner, prefix: prefix + ":"}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.inner.Set(ctx, n.prefix+key, value)
}
