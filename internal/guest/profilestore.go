package guest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/junostudio/leadchat/internal/store"
)

const pushTimeout = 5 * time.Second

// ProfileStore reconciles the remote guest record with the locally cached
// copy and keeps both up to date. Remote is authoritative for CRM fields;
// the local cache is authoritative for SessionCount and QuestionsAsked.
type ProfileStore struct {
	store store.Store
	crm   CRM

	mu          sync.RWMutex
	profile     Profile
	loaded      bool
	subscribers []func(Profile)
}

func NewProfileStore(s store.Store, crm CRM) *ProfileStore {
	if crm == nil {
		crm = NoopCRM{}
	}
	return &ProfileStore{store: s, crm: crm}
}

// Subscribe registers a change listener invoked with a snapshot after every
// merge. Listeners fan profile changes out to interested surfaces.
func (ps *ProfileStore) Subscribe(fn func(Profile)) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.subscribers = append(ps.subscribers, fn)
}

// Load fetches the remote record for id, merges the local cache and writes
// the result back before returning. isFresh reports a first-ever session for
// this guest. A *SyncError propagates untouched so the caller can purge.
func (ps *ProfileStore) Load(ctx context.Context, id string) (Profile, bool, error) {
	remote, err := ps.crm.Fetch(ctx, id)
	var syncErr *SyncError
	switch {
	case errors.As(err, &syncErr):
		return Profile{}, false, err
	case errors.Is(err, ErrNoRecord):
		remote = NewProfile(id)
	case err != nil:
		// CRM unreachable is not fatal: fall back to the cached copy so the
		// conversation can continue.
		log.Printf("guest %s: remote fetch failed, using cache: %v", id, err)
		remote = NewProfile(id)
	}

	local, hasLocal := ps.readCache(ctx, id)
	isFresh := !hasLocal

	merged := remote
	if hasLocal {
		if err != nil {
			// No usable remote: the cache carries the CRM fields too.
			merged = local
		} else {
			merged = mergeRemoteLocal(remote, local)
		}
		merged.SessionCount = local.SessionCount + 1
	} else {
		merged = mergeRemoteLocal(remote, NewProfile(id))
		merged.SessionCount = 1
	}
	merged.ID = id

	if err := ps.writeCache(ctx, merged); err != nil {
		return Profile{}, false, fmt.Errorf("persist merged profile: %w", err)
	}

	ps.mu.Lock()
	ps.profile = merged
	ps.loaded = true
	ps.mu.Unlock()

	return merged, isFresh, nil
}

// Current returns a snapshot of the in-memory profile.
func (ps *ProfileStore) Current() Profile {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.profile
}

// Merge applies a partial update, notifies subscribers, pushes the CRM subset
// upstream best-effort and writes the full profile back to the store.
func (ps *ProfileStore) Merge(ctx context.Context, u Update) (Profile, error) {
	ps.mu.Lock()
	if !ps.loaded {
		ps.mu.Unlock()
		return Profile{}, errors.New("profile not loaded")
	}
	ps.profile = ps.profile.Apply(u)
	merged := ps.profile
	subs := append([]func(Profile){}, ps.subscribers...)
	ps.mu.Unlock()

	for _, fn := range subs {
		fn(merged)
	}

	// Profile capture is best-effort: a failed push must not abort the turn.
	go func(p Profile) {
		pushCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := ps.crm.Push(pushCtx, p.ID, p); err != nil {
			log.Printf("guest %s: profile push failed: %v", p.ID, err)
		}
	}(merged)

	if err := ps.writeCache(ctx, merged); err != nil {
		return merged, fmt.Errorf("persist merged profile: %w", err)
	}
	return merged, nil
}

// RecordQuestion tracks a suggestion/question once and persists the cache.
func (ps *ProfileStore) RecordQuestion(ctx context.Context, question string) bool {
	ps.mu.Lock()
	if !ps.loaded {
		ps.mu.Unlock()
		return false
	}
	added := ps.profile.RecordQuestion(question)
	snapshot := ps.profile
	ps.mu.Unlock()

	if !added {
		return false
	}
	if err := ps.writeCache(ctx, snapshot); err != nil {
		log.Printf("guest %s: question bookkeeping persist failed: %v", snapshot.ID, err)
	}
	return true
}

// Clear empties QuestionsAsked and removes the conversation log; CRM fields
// survive.
func (ps *ProfileStore) Clear(ctx context.Context) error {
	ps.mu.Lock()
	if !ps.loaded {
		ps.mu.Unlock()
		return errors.New("profile not loaded")
	}
	ps.profile.QuestionsAsked = []string{}
	snapshot := ps.profile
	ps.mu.Unlock()

	if err := ps.writeCache(ctx, snapshot); err != nil {
		return fmt.Errorf("persist cleared profile: %w", err)
	}
	if err := ps.store.Delete(ctx, store.ChatKey(snapshot.ID)); err != nil {
		return fmt.Errorf("remove conversation log: %w", err)
	}
	return nil
}

// Purge removes every cached key for the guest. Used on SyncError.
func Purge(ctx context.Context, s store.Store, guestID string) error {
	if err := s.Delete(ctx, store.GuestKey(guestID)); err != nil {
		return fmt.Errorf("purge profile cache: %w", err)
	}
	if err := s.Delete(ctx, store.ChatKey(guestID)); err != nil {
		return fmt.Errorf("purge conversation log: %w", err)
	}
	return nil
}

func (ps *ProfileStore) readCache(ctx context.Context, id string) (Profile, bool) {
	raw, err := ps.store.Get(ctx, store.GuestKey(id))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("guest %s: cache read failed: %v", id, err)
		}
		return Profile{}, false
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("guest %s: cache corrupt, discarding: %v", id, err)
		return Profile{}, false
	}
	if p.ID != id {
		// Stale cache written for a different identity; treat as absent.
		return Profile{}, false
	}
	if p.SessionCount < 1 {
		p.SessionCount = 1
	}
	return p, true
}

func (ps *ProfileStore) writeCache(ctx context.Context, p Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	return ps.store.Set(ctx, store.GuestKey(p.ID), raw)
}
