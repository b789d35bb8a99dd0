package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/junostudio/leadchat/internal/conversation"
	"github.com/junostudio/leadchat/internal/guest"
	"github.com/junostudio/leadchat/internal/observability"
	"github.com/junostudio/leadchat/internal/store"
)

// Engine owns one live Session per guest and the shared collaborators behind
// them: the durable store, the CRM and the completion client.
type Engine struct {
	store       store.Store
	crm         guest.CRM
	client      CompletionClient
	notifier    ContactNotifier
	metrics     *observability.Metrics
	window      int
	idleTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewEngine(
	s store.Store,
	crm guest.CRM,
	client CompletionClient,
	notifier ContactNotifier,
	metrics *observability.Metrics,
	window int,
	idleTimeout time.Duration,
) *Engine {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Engine{
		store:       s,
		crm:         crm,
		client:      client,
		notifier:    notifier,
		metrics:     metrics,
		window:      window,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*Session),
	}
}

// BootstrapResult is everything the widget needs to render on open.
type BootstrapResult struct {
	GuestID      string                 `json:"guest_id"`
	SessionCount int                    `json:"session_count"`
	Fresh        bool                   `json:"fresh"`
	Messages     []conversation.Message `json:"messages"`
	Suggestions  []string               `json:"suggestions"`
	Profile      guest.Profile          `json:"profile"`
}

// Bootstrap resolves the guest identity, reconciles profile and conversation
// state and returns (or creates) the live session. A presented id keeps
// continuity across visits; an id whose remote record is out of sync is
// purged and replaced by a fresh guest.
func (e *Engine) Bootstrap(ctx context.Context, presentedID string) (BootstrapResult, error) {
	effStore := e.store
	id := presentedID

	if id == "" {
		// The durable store is shared by every visitor, so an empty-id
		// bootstrap mints its own identity rather than reading a store-wide
		// key. The identity key stays meaningful for single-visitor scopes
		// (the session-only degraded store below).
		id = uuid.NewString()
	}

	// A live session means the widget reconnected; don't bump the session
	// counter again.
	if sess, ok := e.Get(id); ok {
		p := sess.profiles.Current()
		return BootstrapResult{
			GuestID:      id,
			SessionCount: p.SessionCount,
			Messages:     sess.history.Messages(),
			Suggestions:  sess.Suggestions(),
			Profile:      p,
		}, nil
	}

	profiles := guest.NewProfileStore(effStore, e.crm)
	p, fresh, err := profiles.Load(ctx, id)

	var syncErr *guest.SyncError
	if errors.As(err, &syncErr) {
		// Out of sync with the remote record: purge the caches for this id
		// and restart as a brand-new guest.
		log.Printf("guest %s: %v, purging local state", id, err)
		if perr := guest.Purge(ctx, effStore, id); perr != nil {
			log.Printf("guest %s: purge failed: %v", id, perr)
		}
		id = uuid.NewString()
		p, fresh, err = profiles.Load(ctx, id)
	}
	if err != nil && !errors.As(err, &syncErr) {
		// Load only fails outright when the durable store is unreachable.
		// Degrade to a session-only store so the conversation still works,
		// it just won't survive a restart.
		log.Printf("guest %s: durable storage unavailable, degrading to session-only state: %v", id, err)
		effStore = store.NewInMemoryStore()
		if presentedID == "" {
			resolved, rerr := guest.NewResolver(effStore).Resolve(ctx)
			if rerr != nil {
				return BootstrapResult{}, fmt.Errorf("resolve guest identity: %w", rerr)
			}
			id = resolved
		}
		profiles = guest.NewProfileStore(effStore, e.crm)
		p, fresh, err = profiles.Load(ctx, id)
	}
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("load guest profile: %w", err)
	}

	history := conversation.NewLog(effStore, id)
	msgs, err := history.Load(ctx)
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("load conversation: %w", err)
	}

	dispatcher := NewDispatcher(profiles, e.notifier, e.metrics)
	sess := NewSession(id, profiles, history, e.client, dispatcher, e.metrics, e.window)

	e.mu.Lock()
	e.sessions[id] = sess
	count := len(e.sessions)
	e.mu.Unlock()
	e.metrics.ActiveConversations.Set(float64(count))

	return BootstrapResult{
		GuestID:      id,
		SessionCount: p.SessionCount,
		Fresh:        fresh,
		Messages:     msgs,
		Suggestions:  sess.Suggestions(),
		Profile:      p,
	}, nil
}

// Get returns the live session for a guest, if any.
func (e *Engine) Get(guestID string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sess, ok := e.sessions[guestID]
	return sess, ok
}

// ActiveCount reports live sessions.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// StartJanitor evicts sessions idle past the configured timeout. Durable
// state survives eviction; the next bootstrap rehydrates it.
func (e *Engine) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.evictIdle()
			}
		}
	}()
}

func (e *Engine) evictIdle() {
	cutoff := time.Now().UTC().Add(-e.idleTimeout)

	e.mu.Lock()
	for id, sess := range e.sessions {
		if sess.State() != StateIdle {
			continue
		}
		if sess.LastActivity().After(cutoff) {
			continue
		}
		delete(e.sessions, id)
		e.metrics.TurnEvents.WithLabelValues("session_evicted").Inc()
	}
	count := len(e.sessions)
	e.mu.Unlock()

	e.metrics.ActiveConversations.Set(float64(count))
}
