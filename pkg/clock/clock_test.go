package clock

import (
	"testing"
	"time"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()
	f := NewFake(time.UnixMilli(0))
	var got []string
	f.AfterFunc(300*time.Millisecond, func() { got = append(got, "c") })
	f.AfterFunc(100*time.Millisecond, func() { got = append(got, "a") })
	f.AfterFunc(100*time.Millisecond, func() { got = append(got, "b") })

	f.Advance(200 * time.Millisecond)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("after 200ms got %v, want [a b]", got)
	}
	if f.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", f.Pending())
	}
	f.Advance(100 * time.Millisecond)
	if len(got) != 3 || got[2] != "c" {
		t.Fatalf("after 300ms got %v", got)
	}
	if !f.Now().Equal(time.UnixMilli(300)) {
		t.Fatalf("Now = %v, want 300ms", f.Now().UnixMilli())
	}
}

func TestFakeStopAndNestedScheduling(t *testing.T) {
	t.Parallel()
	f := NewFake(time.UnixMilli(0))
	fired := 0
	tm := f.AfterFunc(time.Second, func() { fired++ })
	if !tm.Stop() {
		t.Fatal("Stop() = false for pending timer")
	}
	if tm.Stop() {
		t.Fatal("second Stop() = true")
	}

	var at []int64
	f.AfterFunc(100*time.Millisecond, func() {
		at = append(at, f.Now().UnixMilli())
		f.AfterFunc(50*time.Millisecond, func() { at = append(at, f.Now().UnixMilli()) })
	})
	f.Advance(time.Second)
	if fired != 0 {
		t.Fatalf("stopped timer fired %d times", fired)
	}
	if len(at) != 2 || at[0] != 100 || at[1] != 150 {
		t.Fatalf("nested timers fired at %v, want [100 150]", at)
	}
}
