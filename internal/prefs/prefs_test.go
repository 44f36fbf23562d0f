package prefs

import (
	"context"
	"errors"
	"testing"

	"chatnotify/internal/model"
	"chatnotify/internal/storage"
	logx "chatnotify/pkg/logx"
)

type failingKV struct{ storage.Store }

func (failingKV) Put(context.Context, string, string) error { return errors.New("disk full") }

func TestLoadDefaultsAndPersisted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()

	s := New(kv, logx.Nop())
	s.Load(ctx)
	if got := s.Preferences(); got != model.DefaultPreferences() {
		t.Fatalf("defaults = %+v", got)
	}

	_ = kv.Put(ctx, storage.KeyPreferences, `{"showInAppNotifications":false,"playNotificationSounds":true,"vibrateOnNotification":false}`)
	_ = kv.Put(ctx, storage.KeyMutedChats, `["c2","c1"]`)
	s2 := New(kv, logx.Nop())
	s2.Load(ctx)
	want := model.Preferences{ShowInApp: false, PlaySounds: true, Vibrate: false}
	if got := s2.Preferences(); got != want {
		t.Fatalf("loaded = %+v, want %+v", got, want)
	}
	if got := s2.Muted(); len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("Muted = %v", got)
	}
}

func TestLoadIgnoresMalformed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	_ = kv.Put(ctx, storage.KeyPreferences, `{not json`)
	_ = kv.Put(ctx, storage.KeyMutedChats, `"c1"`)
	s := New(kv, logx.Nop())
	s.Load(ctx)
	if got := s.Preferences(); got != model.DefaultPreferences() {
		t.Fatalf("malformed prefs changed state: %+v", got)
	}
	if len(s.Muted()) != 0 {
		t.Fatalf("malformed muted list changed state: %v", s.Muted())
	}
}

func TestToggleMuteRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	s := New(kv, logx.Nop())

	muted, err := s.ToggleMute(ctx, "c1")
	if err != nil || !muted || !s.IsMuted("c1") {
		t.Fatalf("first toggle = (%v, %v), IsMuted=%v", muted, err, s.IsMuted("c1"))
	}
	if raw, _, _ := kv.Get(ctx, storage.KeyMutedChats); raw != `["c1"]` {
		t.Fatalf("persisted = %s", raw)
	}
	muted, err = s.ToggleMute(ctx, "c1")
	if err != nil || muted || s.IsMuted("c1") {
		t.Fatalf("second toggle = (%v, %v)", muted, err)
	}
	if raw, _, _ := kv.Get(ctx, storage.KeyMutedChats); raw != `[]` {
		t.Fatalf("persisted after unmute = %s", raw)
	}
	if _, err := s.ToggleMute(ctx, " "); err == nil {
		t.Fatal("expected error for empty chat id")
	}
}

func TestStorageFailureStillUpdatesMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(failingKV{storage.NewMemory()}, logx.Nop())

	var seen []model.Preferences
	s.OnChange(func(p model.Preferences) { seen = append(seen, p) })

	off := model.Preferences{ShowInApp: false}
	if err := s.SavePreferences(ctx, off); err == nil {
		t.Fatal("expected persistence error")
	}
	if s.Preferences() != off {
		t.Fatalf("in-memory prefs not updated: %+v", s.Preferences())
	}
	if len(seen) != 1 || seen[0] != off {
		t.Fatalf("observers saw %v", seen)
	}
	if muted, err := s.ToggleMute(ctx, "c9"); err == nil || !muted || !s.IsMuted("c9") {
		t.Fatalf("ToggleMute degraded = (%v, %v)", muted, err)
	}
}
