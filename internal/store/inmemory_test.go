package store

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryStoreRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, GuestKey("g1"), []byte(`{"id":"g1"}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Get(ctx, GuestKey("g1"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"id":"g1"}` {
		t.Fatalf("Get() = %q, want stored value", got)
	}

	if err := s.Delete(ctx, GuestKey("g1")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, GuestKey("g1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryStoreCopiesValues(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	val := []byte("original")
	if err := s.Set(ctx, "k", val); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	val[0] = 'X'

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("Get() = %q, want %q (caller mutation must not leak)", got, "original")
	}
}

func TestKeys(t *testing.T) {
	if got := GuestKey("abc"); got != "guest_abc" {
		t.Fatalf("GuestKey = %q, want %q", got, "guest_abc")
	}
	if got := ChatKey("abc"); got != "chat_abc" {
		t.Fatalf("ChatKey = %q, want %q", got, "chat_abc")
	}
}
