package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/junostudio/leadchat/internal/store"
)

// Log is the ordered message history for one guest, rehydrated from the
// durable store on load and written back after every mutation. Persistence is
// refused until the initial load has completed so a not-yet-loaded default
// can never clobber a real history.
type Log struct {
	store   store.Store
	guestID string

	mu       sync.RWMutex
	messages []Message
	loaded   bool
}

func NewLog(s store.Store, guestID string) *Log {
	return &Log{store: s, guestID: guestID}
}

// Load returns the stored history, synthesizing a missing system message at
// index 0, or seeds and persists the two-message default conversation.
func (l *Log) Load(ctx context.Context) ([]Message, error) {
	raw, err := l.store.Get(ctx, store.ChatKey(l.guestID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	var msgs []Message
	if err == nil {
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
	}

	if len(msgs) == 0 {
		msgs = []Message{
			NewMessage(RoleSystem, DefaultSystemPrompt),
			NewMessage(RoleAssistant, DefaultGreeting),
		}
	} else if msgs[0].Role != RoleSystem {
		msgs = append([]Message{NewMessage(RoleSystem, DefaultSystemPrompt)}, msgs...)
	}

	l.mu.Lock()
	l.messages = msgs
	l.loaded = true
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	if err := l.Persist(ctx); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Append adds a message and persists the log.
func (l *Log) Append(ctx context.Context, msg Message) error {
	l.mu.Lock()
	if !l.loaded {
		l.mu.Unlock()
		return errors.New("conversation not loaded")
	}
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
	return l.Persist(ctx)
}

// UpdateLast replaces the content of the trailing assistant message; used
// while a reply stream is in flight, so content only ever grows. If the log
// does not end with an assistant message one is appended first.
func (l *Log) UpdateLast(content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded {
		return errors.New("conversation not loaded")
	}
	if n := len(l.messages); n > 0 && l.messages[n-1].Role == RoleAssistant {
		l.messages[n-1].Content = content
		return nil
	}
	l.messages = append(l.messages, NewMessage(RoleAssistant, content))
	return nil
}

// Persist writes the full log back to the durable store. It is a no-op
// before the initial Load completes.
func (l *Log) Persist(ctx context.Context) error {
	l.mu.RLock()
	if !l.loaded {
		l.mu.RUnlock()
		return nil
	}
	snapshot := l.snapshotLocked()
	l.mu.RUnlock()

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := l.store.Set(ctx, store.ChatKey(l.guestID), raw); err != nil {
		return fmt.Errorf("persist conversation: %w", err)
	}
	return nil
}

// Messages returns a snapshot of the current history.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

// Window returns the trailing n messages, always keeping the system message
// at index 0 when the history is longer than n.
func (l *Log) Window(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	msgs := l.messages
	if n <= 0 || len(msgs) <= n {
		return l.snapshotLocked()
	}
	out := make([]Message, 0, n)
	if msgs[0].Role == RoleSystem {
		out = append(out, msgs[0])
		n--
	}
	out = append(out, msgs[len(msgs)-n:]...)
	return out
}

func (l *Log) snapshotLocked() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}
