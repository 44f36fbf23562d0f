// Package toast is the presentation side of in-app notifications: what is on
// screen, in which phase, and how gestures map to dismissal.
//
// Rendering and animation belong to the UI layer. It reads View values and
// forwards user input to Swipe and Press.
package toast

import (
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"chatnotify/internal/model"
	logx "chatnotify/pkg/logx"
)

const (
	// SwipeDismissThreshold is how far (in layout units) a toast must be
	// dragged upward to dismiss it.
	SwipeDismissThreshold = 50.0
	// PreviewLimit is the number of runes shown before the preview is cut.
	PreviewLimit = 40
)

type Phase int

const (
	PhaseHidden Phase = iota
	PhaseVisible
	PhaseDismissing
)

func (p Phase) String() string {
	switch p {
	case PhaseVisible:
		return "visible"
	case PhaseDismissing:
		return "dismissing"
	default:
		return "hidden"
	}
}

// View is one rendering state of the toast.
type View struct {
	Phase        Phase
	Notification model.Notification
	Preview      string
	Time         string
	Initials     string
}

// Queue is the notification queue the presenter displays.
type Queue interface {
	Current() (model.Notification, bool)
	Dismiss()
	OnCurrent(fn func(*model.Notification))
}

// Haptics fires the press feedback.
type Haptics interface {
	Haptic()
}

// Presenter is safe for concurrent use.
type Presenter struct {
	q   Queue
	fb  Haptics
	loc *time.Location
	log logx.Logger

	mu    sync.Mutex
	phase Phase
	cur   *model.Notification
	subs  map[uint64]chan View
	seq   uint64
}

// New attaches a presenter to q. fb may be nil; loc nil means time.Local.
func New(q Queue, fb Haptics, loc *time.Location, log logx.Logger) *Presenter {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Presenter{q: q, fb: fb, loc: loc, log: log, subs: map[uint64]chan View{}}
	if n, ok := q.Current(); ok {
		p.phase, p.cur = PhaseVisible, &n
	}
	q.OnCurrent(p.onCurrent)
	return p
}

func (p *Presenter) onCurrent(n *model.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == nil {
		p.phase, p.cur = PhaseHidden, nil
	} else {
		cp := *n
		p.phase, p.cur = PhaseVisible, &cp
	}
	p.emitLocked()
}

// Current returns the notification on screen.
func (p *Presenter) Current() (model.Notification, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return model.Notification{}, false
	}
	return *p.cur, true
}

// Phase returns the current phase.
func (p *Presenter) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// View returns the current rendering state.
func (p *Presenter) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

// Dismiss hides the toast through the same path as the auto-dismiss timer.
func (p *Presenter) Dismiss() {
	p.mu.Lock()
	if p.cur == nil || p.phase != PhaseVisible {
		p.mu.Unlock()
		return
	}
	p.phase = PhaseDismissing
	p.emitLocked()
	p.mu.Unlock()

	p.q.Dismiss()
}

// Swipe handles the end of a vertical drag of dy units (negative is up).
// It reports whether the drag dismissed the toast.
func (p *Presenter) Swipe(dy float64) bool {
	if dy >= -SwipeDismissThreshold {
		return false
	}
	if _, ok := p.Current(); !ok {
		return false
	}
	p.Dismiss()
	return true
}

// Press handles a tap: haptic, then dismiss, then navigate to the chat.
// Dismissing first lets the queue advance while navigation runs.
func (p *Presenter) Press(navigate func(chatID string)) {
	n, ok := p.Current()
	if !ok {
		return
	}
	if p.fb != nil {
		p.fb.Haptic()
	}
	p.Dismiss()
	if navigate != nil {
		navigate(n.ChatID)
	}
}

// Subscribe returns a channel of view updates. Slow readers lose the oldest
// pending view.
func (p *Presenter) Subscribe(buffer int) (<-chan View, func()) {
	if buffer <= 0 {
		buffer = 4
	}
	ch := make(chan View, buffer)
	p.mu.Lock()
	p.seq++
	id := p.seq
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			close(ch)
			p.mu.Unlock()
		})
	}
}

func (p *Presenter) emitLocked() {
	if len(p.subs) == 0 {
		return
	}
	v := p.viewLocked()
	for _, ch := range p.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
	p.log.Trace("toast view", logx.String("phase", v.Phase.String()), logx.String("chat_id", v.Notification.ChatID))
}

func (p *Presenter) viewLocked() View {
	v := View{Phase: p.phase}
	if p.cur != nil {
		v.Notification = *p.cur
		v.Preview = PreviewText(p.cur.Preview)
		v.Time = TimeLabel(p.cur.Timestamp, p.loc)
		v.Initials = Initials(p.cur.SenderName)
	}
	return v
}

// PreviewText cuts s to PreviewLimit runes and appends "..." when it was
// longer.
func PreviewText(s string) string {
	if utf8.RuneCountInString(s) <= PreviewLimit {
		return s
	}
	r := []rune(s)
	return string(r[:PreviewLimit]) + "..."
}

// TimeLabel formats a unix-ms timestamp as hours and minutes.
func TimeLabel(ts int64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ts).In(loc).Format("15:04")
}

// Initials is the avatar fallback: the first letter of the name, upper-cased.
func Initials(name string) string {
	name = strings.TrimSpace(name)
	r, _ := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return "?"
	}
	return string(unicode.ToUpper(r))
}
