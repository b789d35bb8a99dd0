package guest

import (
	"context"
	"errors"
	"testing"

	"github.com/junostudio/leadchat/internal/store"
)

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingStore) Set(context.Context, string, []byte) error { return f.err }
func (f failingStore) Delete(context.Context, string) error { return f.err }
func (f failingStore) Close() error { return nil }

func TestResolveIsStableAcrossCalls(t *testing.T) {
	s := store.NewInMemoryStore()
	r := NewResolver(s)

	first, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if first == "" {
		t.Fatalf("Resolve() returned empty id")
	}

	second, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if second != first {
		t.Fatalf("Resolve() = %q, want stable %q", second, first)
	}

	raw, err := s.Get(context.Background(), store.IdentityKey)
	if err != nil {
		t.Fatalf("Get(identity) error = %v", err)
	}
	if string(raw) != first {
		t.Fatalf("stored identity = %q, want %q", raw, first)
	}
}

func TestResolveReturnsExistingIdentity(t *testing.T) {
	s := store.NewInMemoryStore()
	if err := s.Set(context.Background(), store.IdentityKey, []byte("guest-42")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := NewResolver(s).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "guest-42" {
		t.Fatalf("Resolve() = %q, want %q", got, "guest-42")
	}
}

func TestResolveWrapsStorageFailure(t *testing.T) {
	r := NewResolver(failingStore{err: errors.New("disk on fire")})

	_, err := r.Resolve(context.Background())
	if !errors.Is(err, ErrIdentityUnavailable) {
		t.Fatalf("Resolve() error = %v, want ErrIdentityUnavailable", err)
	}
}
