package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chatnotify/internal/model"
	"chatnotify/internal/source"
	logx "chatnotify/pkg/logx"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Path: ":memory:", PollInterval: 10 * time.Millisecond, Log: logx.Nop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *Store) (me, bob, chat string) {
	t.Helper()
	ctx := context.Background()
	var err error
	if me, err = s.CreateUser(ctx, "Me", "", ""); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if bob, err = s.CreateUser(ctx, "Bob", "Stone", "https://img/bob.png"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if chat, err = s.CreateChat(ctx, me, bob); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	return me, bob, chat
}

func TestUnreadQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTest(t)
	me, bob, chat := seed(t, s)

	eve, _ := s.CreateUser(ctx, "Eve", "", "")
	other, _ := s.CreateChat(ctx, bob, eve)

	m1, err := s.SendMessage(ctx, chat, bob, "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	_, _ = s.SendMessage(ctx, chat, me, "mine")
	_, _ = s.SendMessage(ctx, other, eve, "not for me")
	m2, _ := s.SendMessage(ctx, chat, bob, "there")

	got, err := s.Unread(ctx, me, 0)
	if err != nil {
		t.Fatalf("Unread: %v", err)
	}
	if len(got) != 2 || got[0].ID != m1.ID || got[1].ID != m2.ID {
		t.Fatalf("Unread = %+v, want [m1 m2]", got)
	}
	if got[0].SenderName != "Bob Stone" || got[0].SenderAvatarURL != "https://img/bob.png" {
		t.Fatalf("sender = %q %q", got[0].SenderName, got[0].SenderAvatarURL)
	}
	if got, _ := s.Unread(ctx, me, m1.Timestamp); len(got) != 1 || got[0].ID != m2.ID {
		t.Fatalf("Unread after m1 = %+v", got)
	}
	if again, _ := s.CreateChat(ctx, bob, me); again != chat {
		t.Fatalf("CreateChat = %q, want existing %q", again, chat)
	}
}

func TestSenderNameWithoutLastName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTest(t)
	me, _, _ := seed(t, s)
	eve, _ := s.CreateUser(ctx, "Eve", "", "")
	chat, _ := s.CreateChat(ctx, me, eve)
	if _, err := s.SendMessage(ctx, chat, eve, "yo"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	got, err := s.Unread(ctx, me, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("Unread = %+v, %v", got, err)
	}
	want := source.User{FirstName: "Eve"}.DisplayName()
	if got[0].SenderName != want || want != "Eve" {
		t.Fatalf("SenderName = %q, want %q", got[0].SenderName, want)
	}
}

func TestSubscribeEmitsOnChange(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := openTest(t)
	me, bob, chat := seed(t, s)

	ch, err := s.Subscribe(ctx, me, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	next := func() []model.Message {
		t.Helper()
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatal("subscription closed")
			}
			return snap
		case <-ctx.Done():
			t.Fatal("no snapshot")
		}
		return nil
	}

	if snap := next(); len(snap) != 0 {
		t.Fatalf("initial = %+v, want empty", snap)
	}

	// Unchanged results are not re-sent.
	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}

	m, _ := s.SendMessage(ctx, chat, bob, "hi")
	if snap := next(); len(snap) != 1 || snap[0].ID != m.ID {
		t.Fatalf("snapshot = %+v, want [%s]", snap, m.ID)
	}

	cancel()
	for range ch {
	}
}

func TestMarkRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTest(t)
	me, bob, chat := seed(t, s)

	m1, _ := s.SendMessage(ctx, chat, bob, "a")
	_, _ = s.SendMessage(ctx, chat, bob, "b")
	mine, _ := s.SendMessage(ctx, chat, me, "c")

	n, err := s.MarkRead(ctx, chat, me)
	if err != nil || n != 2 {
		t.Fatalf("MarkRead = (%d, %v), want 2", n, err)
	}
	if st, _ := s.Status(ctx, m1.ID); st != source.StatusRead {
		t.Fatalf("status = %q, want read", st)
	}
	if st, _ := s.Status(ctx, mine.ID); st != source.StatusSent {
		t.Fatalf("own status = %q, want sent", st)
	}
	if n, _ := s.MarkRead(ctx, chat, me); n != 0 {
		t.Fatalf("second MarkRead = %d, want 0", n)
	}

	eve, _ := s.CreateUser(ctx, "Eve", "", "")
	if _, err := s.MarkRead(ctx, chat, eve); !errors.Is(err, source.ErrNotParticipant) {
		t.Fatalf("MarkRead stranger = %v", err)
	}
	if _, err := s.MarkRead(ctx, "missing", me); !errors.Is(err, source.ErrChatNotFound) {
		t.Fatalf("MarkRead missing chat = %v", err)
	}
	if _, err := s.Subscribe(ctx, "ghost", nil); !errors.Is(err, source.ErrUserNotFound) {
		t.Fatalf("Subscribe ghost = %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	s, err := Open(Options{Path: path, Log: logx.Nop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	me, bob, chat := seed(t, s)
	m, _ := s.SendMessage(ctx, chat, bob, "persisted")
	_ = s.Close()

	s2, err := Open(Options{Path: path, Log: logx.Nop()})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Unread(ctx, me, 0)
	if err != nil || len(got) != 1 || got[0].ID != m.ID {
		t.Fatalf("Unread after reopen = (%+v, %v)", got, err)
	}
	next, _ := s2.SendMessage(ctx, chat, bob, "later")
	if next.Timestamp <= m.Timestamp {
		t.Fatalf("timestamp went backwards after reopen: %d <= %d", next.Timestamp, m.Timestamp)
	}
}
