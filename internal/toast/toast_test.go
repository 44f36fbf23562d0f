package toast

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"chatnotify/internal/model"
	"chatnotify/internal/notify"
	"chatnotify/pkg/clock"
	logx "chatnotify/pkg/logx"
)

type hapticLog struct{ events *[]string }

func (h hapticLog) Haptic() { *h.events = append(*h.events, "haptic") }

func newPresenter(t *testing.T) (*Presenter, *notify.Queue, *clock.Fake, *[]string) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC))
	q := notify.NewQueue(notify.Config{}, notify.QueueDeps{Prefs: model.DefaultPreferences, Clock: clk, Log: logx.Nop()})
	events := &[]string{}
	p := New(q, hapticLog{events}, time.UTC, logx.Nop())
	return p, q, clk, events
}

func TestPhasesFollowQueue(t *testing.T) {
	t.Parallel()
	p, q, clk, _ := newPresenter(t)
	views, unsub := p.Subscribe(8)
	defer unsub()

	if p.Phase() != PhaseHidden {
		t.Fatalf("initial phase = %v", p.Phase())
	}
	q.Admit(model.Notification{ID: "m1", ChatID: "c1", SenderName: "bob", Preview: "hi", Timestamp: clk.Now().UnixMilli()})
	v := <-views
	if v.Phase != PhaseVisible || v.Notification.ChatID != "c1" || v.Time != "09:05" || v.Initials != "B" {
		t.Fatalf("view = %+v", v)
	}

	clk.Advance(model.AutoDismiss)
	if v := <-views; v.Phase != PhaseHidden {
		t.Fatalf("phase after auto-dismiss = %v", v.Phase)
	}
}

func TestSwipe(t *testing.T) {
	t.Parallel()
	p, q, _, _ := newPresenter(t)
	q.Admit(model.Notification{ID: "m1", ChatID: "c1"})

	tests := []struct {
		dy   float64
		want bool
	}{
		{dy: 80, want: false},
		{dy: -10, want: false},
		{dy: -50, want: false},
		{dy: -51, want: true},
	}
	for _, tt := range tests {
		if got := p.Swipe(tt.dy); got != tt.want {
			t.Fatalf("Swipe(%v) = %v, want %v", tt.dy, got, tt.want)
		}
	}
	if _, ok := q.Current(); ok {
		t.Fatal("queue still shows a notification after swipe")
	}
	if p.Phase() != PhaseHidden {
		t.Fatalf("phase = %v, want hidden", p.Phase())
	}
	if p.Swipe(-100) {
		t.Fatal("swipe with nothing on screen reported a dismissal")
	}
}

func TestPressDismissesBeforeNavigating(t *testing.T) {
	t.Parallel()
	p, q, _, events := newPresenter(t)
	q.Admit(model.Notification{ID: "m1", ChatID: "c1"})
	q.Admit(model.Notification{ID: "m2", ChatID: "c2"})

	p.Press(func(chatID string) {
		cur, _ := q.Current()
		*events = append(*events, "navigate:"+chatID+" current:"+cur.ChatID)
	})

	got := strings.Join(*events, ",")
	if got != "haptic,navigate:c1 current:c2" {
		t.Fatalf("events = %s", got)
	}
}

func TestDismissingPhaseIsPublished(t *testing.T) {
	t.Parallel()
	p, q, _, _ := newPresenter(t)
	q.Admit(model.Notification{ID: "m1", ChatID: "c1"})
	views, unsub := p.Subscribe(8)
	defer unsub()

	p.Dismiss()
	var phases []Phase
	for len(views) > 0 {
		phases = append(phases, (<-views).Phase)
	}
	if len(phases) != 2 || phases[0] != PhaseDismissing || phases[1] != PhaseHidden {
		t.Fatalf("phases = %v, want [dismissing hidden]", phases)
	}
}

func TestFormatting(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("é", 45)
	if got := PreviewText(long); got != strings.Repeat("é", 40)+"..." {
		t.Fatalf("PreviewText = %q", got)
	}
	if got := PreviewText("short"); got != "short" {
		t.Fatalf("PreviewText = %q", got)
	}
	if got := PreviewText(strings.Repeat("a", 40)); got != strings.Repeat("a", 40) {
		t.Fatalf("PreviewText at limit = %q", got)
	}
	if got := Initials("  ünal"); got != "Ü" {
		t.Fatalf("Initials = %q", got)
	}
	if got := Initials(""); got != "?" {
		t.Fatalf("Initials empty = %q", got)
	}
	ts := time.Date(2024, 1, 2, 23, 7, 0, 0, time.UTC).UnixMilli()
	if got := TimeLabel(ts, time.UTC); got != "23:07" {
		t.Fatalf("TimeLabel = %q", got)
	}
}

func TestLateHideDoesNotOverrideNewerToast(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.UnixMilli(0))
	q := notify.NewQueue(notify.Config{}, notify.QueueDeps{Prefs: model.DefaultPreferences, Clock: clk, Log: logx.Nop()})

	// Holds the first "nothing displayed" delivery until released.
	entered, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	q.OnCurrent(func(n *model.Notification) {
		if n != nil {
			return
		}
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	p := New(q, nil, time.UTC, logx.Nop())

	q.Admit(model.Notification{ID: "m1", ChatID: "c1"})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		clk.Advance(model.AutoDismiss)
	}()
	<-entered
	go func() {
		defer wg.Done()
		q.Admit(model.Notification{ID: "m2", ChatID: "c2"})
	}()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if cur, ok := q.Current(); ok && cur.ChatID == "c2" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("c2 never displayed")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	cur, ok := p.Current()
	if !ok || cur.ChatID != "c2" || p.Phase() != PhaseVisible {
		t.Fatalf("presenter = (%q, %v, %v), want (c2, true, visible)", cur.ChatID, ok, p.Phase())
	}
	p.Dismiss()
	if _, ok := q.Current(); ok {
		t.Fatal("Dismiss did not reach the queue")
	}
}

func TestPresenterTracksQueueConcurrently(t *testing.T) {
	t.Parallel()
	p, q, clk, _ := newPresenter(t)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 300; i++ {
				switch rng.Intn(5) {
				case 0, 1:
					q.Admit(model.Notification{ID: fmt.Sprintf("m%d-%d", seed, i), ChatID: fmt.Sprintf("c%d", rng.Intn(5))})
				case 2:
					p.Dismiss()
				case 3:
					p.Swipe(-100)
				case 4:
					clk.Advance(time.Duration(rng.Intn(3000)) * time.Millisecond)
				}
			}
		}(int64(w + 1))
	}
	wg.Wait()

	qc, qok := q.Current()
	pc, pok := p.Current()
	if qok != pok || qc != pc {
		t.Fatalf("queue = (%q, %v), presenter = (%q, %v)", qc.ChatID, qok, pc.ChatID, pok)
	}
	wantPhase := PhaseHidden
	if qok {
		wantPhase = PhaseVisible
	}
	if p.Phase() != wantPhase {
		t.Fatalf("phase = %v, want %v", p.Phase(), wantPhase)
	}
}
