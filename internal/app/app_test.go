package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatnotify/internal/source/sqlstore"
	"chatnotify/internal/toast"
	logx "chatnotify/pkg/logx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatnotify.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func startApp(t *testing.T, path string) *App {
	t.Helper()
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Stop(ctx, StopAppStop); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return a
}

func waitVisible(t *testing.T, views <-chan toast.View, chatID string) toast.View {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case v := <-views:
			if v.Phase == toast.PhaseVisible && (chatID == "" || v.Notification.ChatID == chatID) {
				return v
			}
		case <-deadline:
			t.Fatalf("no visible toast for chat %q", chatID)
		}
	}
}

// The app tests share zerolog globals through logx.New, so they run
// sequentially.

func TestMemorySourceEndToEnd(t *testing.T) {
	a := startApp(t, writeConfig(t, `{"logging":{"level":"error"},"source":{"driver":"memory"}}`))
	views, unsub := a.Toast().Subscribe(8)
	defer unsub()

	st := a.Memstore()
	if st == nil || a.SQLStore() != nil {
		t.Fatal("memory driver did not select the in-process store")
	}
	bob := st.CreateUser("Bob", "Stone", "")
	chat, err := st.CreateChat(a.UserID(), bob)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if _, err := st.SendMessage(chat, bob, "hello there"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	v := waitVisible(t, views, chat)
	if v.Notification.SenderName != "Bob Stone" || v.Initials != "B" || v.Preview != "hello there" {
		t.Fatalf("view = %+v", v)
	}
}

func TestSQLiteSourceEndToEnd(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	seed, err := sqlstore.Open(sqlstore.Options{Path: dbPath, Log: logx.Nop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer seed.Close()
	me, _ := seed.CreateUser(ctx, "Me", "", "")
	eve, _ := seed.CreateUser(ctx, "Eve", "", "")
	chat, err := seed.CreateChat(ctx, me, eve)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	cfg := fmt.Sprintf(`{
		"user_id": %q,
		"logging": {"level": "error"},
		"storage": {"driver": "sqlite", "path": %q},
		"source": {"driver": "sqlite", "path": %q, "poll_interval": "20ms"}
	}`, me, filepath.Join(t.TempDir(), "kv.db"), dbPath)
	a := startApp(t, writeConfig(t, cfg))
	if a.UserID() != me || a.SQLStore() == nil {
		t.Fatalf("user = %q, sql store = %v", a.UserID(), a.SQLStore())
	}
	views, unsub := a.Toast().Subscribe(8)
	defer unsub()

	if _, err := seed.SendMessage(ctx, chat, eve, "from sqlite"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if v := waitVisible(t, views, chat); v.Notification.SenderName != "Eve" {
		t.Fatalf("view = %+v", v)
	}
}

func TestDemoProducesToasts(t *testing.T) {
	a := startApp(t, writeConfig(t, `{
		"logging": {"level": "error"},
		"source": {"driver": "memory", "demo": true, "demo_interval": "20ms"},
		"notifications": {"auto_dismiss": "100ms", "display_settle": "20ms", "feedback_spacing": "10ms"}
	}`))
	views, unsub := a.Toast().Subscribe(8)
	defer unsub()
	waitVisible(t, views, "")
	if a.demo == nil || len(a.demo.chats) != len(demoContacts) {
		t.Fatal("demo not seeded")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	bad := []string{
		`{"source":{"driver":"carrier-pigeon"}}`,
		`{"notifications":{"auto_dismiss":"soon"}}`,
		`{"unknown_section":{}}`,
	}
	for _, body := range bad {
		if _, err := New(writeConfig(t, body)); err == nil {
			t.Fatalf("New accepted %s", body)
		}
	}
}

func TestApplyConfigSwapsLogging(t *testing.T) {
	a := startApp(t, writeConfig(t, `{"logging":{"level":"error"},"source":{"driver":"memory"}}`))
	next := *a.cfg
	next.Logging.Level = "warn"
	a.applyConfig(&next)
	if a.cfg.Logging.Level != "warn" {
		t.Fatalf("level = %q, want warn", a.cfg.Logging.Level)
	}
}

func TestDebugNotifyView(t *testing.T) {
	a := startApp(t, writeConfig(t, `{
		"logging": {"level": "error"},
		"source": {"driver": "memory"},
		"debug": {"enabled": true, "addr": "127.0.0.1:0", "token": "t0k"}
	}`))
	if a.debug == nil {
		t.Fatal("debug server not built")
	}
	st := a.Memstore()
	bob := st.CreateUser("Bob", "", "")
	chat, _ := st.CreateChat(a.UserID(), bob)
	views, unsub := a.Toast().Subscribe(8)
	defer unsub()
	_, _ = st.SendMessage(chat, bob, "ping")
	waitVisible(t, views, chat)

	rec := httptest.NewRecorder()
	a.debug.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/debug/notify?token=t0k", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var got NotifyStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserID != a.UserID() || !got.Connected || got.Current == nil || got.Current.ChatID != chat {
		t.Fatalf("status = %+v", got)
	}
}
