// Package kv provides the durable key-value storage that keeps the client's
// credentials across restarts.
package kv

import "context"

// Store is a small durable key-value map. SetMany writes all entries together
// and Delete removes all named keys together.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetMany(ctx context.Context, entries map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}
