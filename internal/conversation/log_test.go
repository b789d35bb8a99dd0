package conversation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/junostudio/leadchat/internal/store"
)

func TestLoadSeedsDefaultConversation(t *testing.T) {
	s := store.NewInMemoryStore()
	l := NewLog(s, "g1")

	msgs, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != DefaultSystemPrompt {
		t.Fatalf("msgs[0] = %+v, want seeded system prompt", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != DefaultGreeting {
		t.Fatalf("msgs[1] = %+v, want seeded greeting", msgs[1])
	}

	// The seeded default is persisted immediately.
	if _, err := s.Get(context.Background(), store.ChatKey("g1")); err != nil {
		t.Fatalf("seeded log not persisted: %v", err)
	}
}

func TestLoadSynthesizesMissingSystemMessage(t *testing.T) {
	s := store.NewInMemoryStore()
	stored := []Message{
		NewMessage(RoleUser, "hello"),
		NewMessage(RoleAssistant, "hi there"),
	}
	raw, _ := json.Marshal(stored)
	if err := s.Set(context.Background(), store.ChatKey("g1"), raw); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	msgs, err := NewLog(s, "g1").Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Fatalf("msgs[0].Role = %q, want system", msgs[0].Role)
	}
	if msgs[1].Content != "hello" || msgs[2].Content != "hi there" {
		t.Fatalf("stored order not preserved: %+v", msgs[1:])
	}
}

func TestAppendPersists(t *testing.T) {
	s := store.NewInMemoryStore()
	l := NewLog(s, "g1")
	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := l.Append(context.Background(), NewMessage(RoleUser, "what do you build?")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	raw, err := s.Get(context.Background(), store.ChatKey("g1"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var stored []Message
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("decode stored log: %v", err)
	}
	if got := stored[len(stored)-1].Content; got != "what do you build?" {
		t.Fatalf("last stored message = %q", got)
	}
}

func TestUpdateLastGrowsTrailingAssistantMessage(t *testing.T) {
	l := NewLog(store.NewInMemoryStore(), "g1")
	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := l.Append(context.Background(), NewMessage(RoleUser, "hi")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// First update appends a new assistant message.
	if err := l.UpdateLast("We "); err != nil {
		t.Fatalf("UpdateLast() error = %v", err)
	}
	before := len(l.Messages())

	// Later updates mutate it in place with the grown accumulation.
	if err := l.UpdateLast("We build"); err != nil {
		t.Fatalf("UpdateLast() error = %v", err)
	}
	msgs := l.Messages()
	if len(msgs) != before {
		t.Fatalf("len(msgs) = %d, want unchanged %d", len(msgs), before)
	}
	last := msgs[len(msgs)-1]
	if last.Role != RoleAssistant || last.Content != "We build" {
		t.Fatalf("last = %+v, want assistant %q", last, "We build")
	}
}

func TestPersistIsNoOpBeforeLoad(t *testing.T) {
	s := store.NewInMemoryStore()
	l := NewLog(s, "g1")

	if err := l.Persist(context.Background()); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if _, err := s.Get(context.Background(), store.ChatKey("g1")); err == nil {
		t.Fatalf("Persist() before Load wrote to the store")
	}
}

func TestWindowKeepsSystemMessage(t *testing.T) {
	l := NewLog(store.NewInMemoryStore(), "g1")
	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := l.Append(context.Background(), NewMessage(role, "turn")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	win := l.Window(4)
	if len(win) != 4 {
		t.Fatalf("len(win) = %d, want 4", len(win))
	}
	if win[0].Role != RoleSystem {
		t.Fatalf("win[0].Role = %q, want system kept", win[0].Role)
	}
	all := l.Messages()
	for i, m := range win[1:] {
		want := all[len(all)-3+i]
		if m.ID != want.ID {
			t.Fatalf("win[%d] = %+v, want trailing message %+v", i+1, m, want)
		}
	}
}

func TestWindowReturnsAllWhenShort(t *testing.T) {
	l := NewLog(store.NewInMemoryStore(), "g1")
	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := len(l.Window(15)); got != 2 {
		t.Fatalf("len(Window(15)) = %d, want full short history", got)
	}
}
