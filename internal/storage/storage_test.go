package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	logx "chatnotify/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestDriversRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "memory", cfg: Config{Driver: "memory"}},
		{name: "file", cfg: Config{Driver: "file", Path: filepath.Join(dir, "state.json")}},
		{name: "sqlite", cfg: Config{Driver: "sqlite", Path: filepath.Join(dir, "state.db")}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st, err := Open(tt.cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()

			if _, ok, err := st.Get(ctx, KeyMutedChats); err != nil || ok {
				t.Fatalf("Get(missing) = ok=%v err=%v", ok, err)
			}
			if err := st.Put(ctx, KeyMutedChats, `["c1"]`); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := st.Put(ctx, KeyMutedChats, `["c1","c2"]`); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			v, ok, err := st.Get(ctx, KeyMutedChats)
			if err != nil || !ok || v != `["c1","c2"]` {
				t.Fatalf("Get = (%q, %v, %v)", v, ok, err)
			}
			if err := st.Delete(ctx, KeyMutedChats); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := st.Get(ctx, KeyMutedChats); ok {
				t.Fatal("key still present after Delete")
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.Put(ctx, KeyPreferences, `{"showInAppNotifications":false}`)
	_ = st.Put(ctx, KeyWatermark, "1234")
	_ = st.Delete(ctx, KeyWatermark)

	// Simulate a crash: journal written, no compaction. Append a torn line too.
	fs := st.(*fileStore)
	_, _ = fs.journalFile.WriteString(`{"key":"broken`)
	_ = fs.journalFile.Close()
	fs.journalFile = nil

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, ok, err := st2.Get(ctx, KeyPreferences)
	if err != nil || !ok || v != `{"showInAppNotifications":false}` {
		t.Fatalf("after reopen Get = (%q, %v, %v)", v, ok, err)
	}
	if _, ok, _ := st2.Get(ctx, KeyWatermark); ok {
		t.Fatal("deleted key resurrected by journal replay")
	}
	if err := st2.Put(ctx, KeyMutedChats, `[]`); err != nil {
		t.Fatalf("Put after torn line: %v", err)
	}
	if err := st2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Close compacts into the snapshot.
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "prefs.kv.snapshot.json")); err != nil {
		t.Fatalf("snapshot missing after close: %v", err)
	}
	st3, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("third open: %v", err)
	}
	defer st3.Close()
	if v, ok, _ := st3.Get(ctx, KeyPreferences); !ok || v != `{"showInAppNotifications":false}` {
		t.Fatalf("after compaction Get = (%q, %v)", v, ok)
	}
	if v, ok, _ := st3.Get(ctx, KeyMutedChats); !ok || v != `[]` {
		t.Fatalf("record written after torn line lost: (%q, %v)", v, ok)
	}
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	t.Parallel()
	st := NewMemory()
	_ = st.Close()
	if err := st.Put(context.Background(), "k", "v"); err != ErrClosed {
		t.Fatalf("Put after Close err = %v, want ErrClosed", err)
	}
}
