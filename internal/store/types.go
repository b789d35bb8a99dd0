package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("key not found")

// Store is the durable key-value storage behind guest identity, profile
// caches and conversation logs. Values are opaque JSON blobs; keys follow
// the chat_<id> / guest_<id> convention plus one global identity key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
