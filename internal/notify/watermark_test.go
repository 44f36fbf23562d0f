package notify

import (
	"context"
	"testing"
	"time"

	"chatnotify/internal/model"
	"chatnotify/internal/storage"
	"chatnotify/pkg/clock"
	logx "chatnotify/pkg/logx"
)

func TestWatermarkColdStart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.UnixMilli(1_000_000)

	w := NewWatermark(Config{}, nil, clock.NewFake(now), nil, logx.Nop())
	if got, want := w.Value(), now.Add(-model.ColdStartLookback).UnixMilli(); got != want {
		t.Fatalf("cold start = %d, want %d", got, want)
	}

	kv := storage.NewMemory()
	_ = kv.Put(ctx, storage.KeyWatermark, "990000")
	w = NewWatermark(Config{}, kv, clock.NewFake(now), nil, logx.Nop())
	w.Load(ctx)
	if got := w.Value(); got != 990_000 {
		t.Fatalf("restored = %d, want checkpoint 990000", got)
	}

	// A stale checkpoint never pulls the start further back than the lookback.
	_ = kv.Put(ctx, storage.KeyWatermark, "5")
	w = NewWatermark(Config{}, kv, clock.NewFake(now), nil, logx.Nop())
	w.Load(ctx)
	if got := w.Value(); got != 970_000 {
		t.Fatalf("restored = %d, want 970000", got)
	}
}

func TestWatermarkMonotonic(t *testing.T) {
	t.Parallel()
	w := NewWatermark(Config{}, nil, clock.NewFake(time.UnixMilli(0)), nil, logx.Nop())

	steps := []struct {
		id   string
		ts   int64
		want bool
	}{
		{"a", 100, true},
		{"b", 50, false},
		{"a", 100, false},
		{"c", 100, true},
		{"d", 300, true},
		{"c", 100, false},
		{"e", 200, false},
		{"d", 300, false},
		{"f", 301, true},
	}
	highest := w.Value()
	for i, s := range steps {
		prev := w.Value()
		got := w.Observe(model.Message{ID: s.id, Timestamp: s.ts})
		if got != s.want {
			t.Fatalf("step %d: Observe(%s@%d) = %v, want %v", i, s.id, s.ts, got, s.want)
		}
		if s.ts > highest {
			highest = s.ts
		}
		if w.Value() < prev {
			t.Fatalf("step %d: watermark regressed %d -> %d", i, prev, w.Value())
		}
		if w.Value() != highest {
			t.Fatalf("step %d: watermark = %d, want max %d", i, w.Value(), highest)
		}
	}
}

func TestWatermarkResync(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.UnixMilli(100_000))
	w := NewWatermark(Config{}, nil, clk, nil, logx.Nop())
	start := w.Value()

	if w.Resync(clk.Now()) {
		t.Fatal("resync ran while disconnected")
	}
	if w.Value() != start {
		t.Fatal("watermark moved while disconnected")
	}

	w.SetConnected(true)
	if !w.Resync(clk.Now()) {
		t.Fatal("resync did not run while connected")
	}
	if got := w.Value(); got != 95_000 {
		t.Fatalf("after resync = %d, want 95000", got)
	}

	w.Observe(model.Message{ID: "x", Timestamp: 99_000})
	if w.Resync(clk.Now()) {
		t.Fatal("resync moved the watermark backward")
	}
	if got := w.Value(); got != 99_000 {
		t.Fatalf("watermark = %d, want 99000", got)
	}
}

func TestWatermarkCheckpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	w := NewWatermark(Config{}, kv, clock.NewFake(time.UnixMilli(0)), nil, logx.Nop())

	w.Start()
	w.Observe(model.Message{ID: "m", Timestamp: 1234})
	w.Stop(ctx)

	raw, ok, err := kv.Get(ctx, storage.KeyWatermark)
	if err != nil || !ok || raw != "1234" {
		t.Fatalf("checkpoint = (%q, %v, %v), want 1234", raw, ok, err)
	}

	w.tick()
	if raw, _, _ := kv.Get(ctx, storage.KeyWatermark); raw != "1234" {
		t.Fatalf("tick while disconnected rewrote checkpoint to %q", raw)
	}
}
