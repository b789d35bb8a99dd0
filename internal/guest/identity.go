package guest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/junostudio/leadchat/internal/store"
)

// ErrIdentityUnavailable means durable storage could not be reached; callers
// degrade to a session-only in-memory store.
var ErrIdentityUnavailable = errors.New("guest identity storage unavailable")

// Resolver resolves or creates the durable anonymous guest identifier.
type Resolver struct {
	store store.Store
}

func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the stored guest id, generating and persisting a new one
// first if none exists. Repeated calls in the same storage scope return the
// same id.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	raw, err := r.store.Get(ctx, store.IdentityKey)
	if err == nil && len(raw) > 0 {
		return string(raw), nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}

	id := uuid.NewString()
	if err := r.store.Set(ctx, store.IdentityKey, []byte(id)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	return id, nil
}
