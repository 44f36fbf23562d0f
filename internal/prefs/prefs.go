// Package prefs keeps the notification toggles and the muted chat set in
// memory and mirrors every change to durable storage.
//
// Persistence is best-effort: a failed write is logged and returned, but the
// in-memory value still changes so the running session behaves as the user
// asked. The change may simply not survive a restart.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"chatnotify/internal/model"
	"chatnotify/internal/storage"
	logx "chatnotify/pkg/logx"
)

// Store is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	kv    storage.Store
	log   logx.Logger
	prefs model.Preferences
	muted map[string]struct{}

	// wmu serializes durable writes so the last in-memory state is also the
	// last one persisted.
	wmu sync.Mutex

	omu       sync.Mutex
	observers []func(model.Preferences)
}

// New returns a store with default preferences. Call Load to read the
// persisted values.
func New(kv storage.Store, log logx.Logger) *Store {
	if kv == nil {
		kv = storage.NewMemory()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		kv:    kv,
		log:   log,
		prefs: model.DefaultPreferences(),
		muted: map[string]struct{}{},
	}
}

// Load reads both keys once. Missing keys keep defaults; malformed blobs are
// logged and ignored.
func (s *Store) Load(ctx context.Context) {
	if raw, ok, err := s.kv.Get(ctx, storage.KeyPreferences); err != nil {
		s.log.Error("failed to load notification preferences", logx.Err(err))
	} else if ok {
		p := model.DefaultPreferences()
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.log.Warn("ignoring malformed notification preferences", logx.Err(err))
		} else {
			s.mu.Lock()
			s.prefs = p
			s.mu.Unlock()
		}
	}

	if raw, ok, err := s.kv.Get(ctx, storage.KeyMutedChats); err != nil {
		s.log.Error("failed to load muted chats", logx.Err(err))
	} else if ok {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			s.log.Warn("ignoring malformed muted chats", logx.Err(err))
		} else {
			m := make(map[string]struct{}, len(ids))
			for _, id := range ids {
				if id = strings.TrimSpace(id); id != "" {
					m[id] = struct{}{}
				}
			}
			s.mu.Lock()
			s.muted = m
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	p, n := s.prefs, len(s.muted)
	s.mu.Unlock()
	s.log.Debug("preferences loaded", logx.Bool("show_in_app", p.ShowInApp), logx.Bool("sounds", p.PlaySounds), logx.Bool("vibrate", p.Vibrate), logx.Int("muted", n))
}

// Preferences returns the current toggles.
func (s *Store) Preferences() model.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// SavePreferences replaces the toggles (last write wins) and persists them.
func (s *Store) SavePreferences(ctx context.Context, p model.Preferences) error {
	s.mu.Lock()
	s.prefs = p
	s.mu.Unlock()

	s.notify(p)

	return s.persist(ctx, storage.KeyPreferences, func() string {
		b, _ := json.Marshal(s.Preferences())
		return string(b)
	})
}

// OnChange registers fn to be called after every SavePreferences.
func (s *Store) OnChange(fn func(model.Preferences)) {
	if fn == nil {
		return
	}
	s.omu.Lock()
	s.observers = append(s.observers, fn)
	s.omu.Unlock()
}

func (s *Store) notify(p model.Preferences) {
	s.omu.Lock()
	obs := make([]func(model.Preferences), len(s.observers))
	copy(obs, s.observers)
	s.omu.Unlock()
	for _, fn := range obs {
		fn(p)
	}
}

// ToggleMute flips the mute state of chatID and reports whether the chat is
// muted afterwards.
func (s *Store) ToggleMute(ctx context.Context, chatID string) (bool, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return false, fmt.Errorf("toggle mute: empty chat id")
	}
	s.mu.Lock()
	_, muted := s.muted[chatID]
	if muted {
		delete(s.muted, chatID)
	} else {
		s.muted[chatID] = struct{}{}
	}
	s.mu.Unlock()

	err := s.persist(ctx, storage.KeyMutedChats, func() string {
		b, _ := json.Marshal(s.Muted())
		return string(b)
	})
	return !muted, err
}

// IsMuted reports whether chatID is muted.
func (s *Store) IsMuted(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.muted[chatID]
	return ok
}

// Muted returns the muted chat ids, sorted.
func (s *Store) Muted() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.muted))
	for id := range s.muted {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// MutedSet returns a copy of the muted set for lookups.
func (s *Store) MutedSet() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.muted))
	for id := range s.muted {
		out[id] = struct{}{}
	}
	return out
}

// persist writes the value produced by render. render runs under the write
// lock, so concurrent callers persist in the same order they observe state.
func (s *Store) persist(ctx context.Context, key string, render func() string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.kv.Put(cctx, key, render()); err != nil {
		s.log.Error("failed to persist notification settings", logx.String("key", key), logx.Err(err))
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}
