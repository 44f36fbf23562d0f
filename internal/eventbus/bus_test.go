package eventbus

import "testing"

func TestPublishHonorsPrefixes(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	notify, unsubNotify := b.Subscribe(4, "notify.")
	defer unsubNotify()

	b.Publish(Event{Type: "notify.shown"})
	b.Publish(Event{Type: "watermark.resync"})

	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", len(all))
	}
	if len(notify) != 1 {
		t.Fatalf("prefixed subscriber got %d events, want 1", len(notify))
	}
	if e := <-notify; e.Type != "notify.shown" || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "x"})
	}
	if got := b.Dropped(); got != 4 {
		t.Fatalf("Dropped = %d, want 4", got)
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "x"})
}
