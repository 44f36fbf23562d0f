package notify

import (
	"runtime/debug"
	"sync"

	"chatnotify/internal/eventbus"
	"chatnotify/internal/model"
	"chatnotify/pkg/clock"
	logx "chatnotify/pkg/logx"
)

// Queue serializes in-app notifications: at most one is displayed at a time,
// pending ones are coalesced per chat and bounded.
//
// Each display cycle gets an id. The settle-removal and auto-dismiss
// callbacks carry the id they were scheduled for and do nothing once the
// cycle is over, so a dismissal racing a timer cannot resurrect state.
//
// It is safe for concurrent use.
type Queue struct {
	cfg   Config
	clock clock.Clock
	log   logx.Logger
	bus   eventbus.Bus
	fb    Feedback
	prefs func() model.Preferences

	mu       sync.Mutex
	items    []model.QueueItem
	current  *model.Notification
	inflight bool
	seq      uint64
	cycle    uint64 // id of the running cycle; 0 when idle
	settle   clock.Timer
	expire   clock.Timer
	history  []HistoryItem
	ver      uint64 // bumped whenever current changes

	emu     sync.Mutex // serializes observer delivery
	emitted uint64

	omu       sync.Mutex
	observers []func(*model.Notification)
}

// QueueDeps are the collaborators of a Queue. Only Prefs is required.
type QueueDeps struct {
	Prefs    func() model.Preferences
	Feedback Feedback
	Clock    clock.Clock
	Bus      eventbus.Bus
	Log      logx.Logger
}

func NewQueue(cfg Config, deps QueueDeps) *Queue {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Prefs == nil {
		deps.Prefs = model.DefaultPreferences
	}
	return &Queue{
		cfg:   cfg,
		clock: deps.Clock,
		log:   deps.Log,
		bus:   deps.Bus,
		fb:    deps.Feedback,
		prefs: deps.Prefs,
	}
}

// OnCurrent registers fn to be called whenever the displayed notification
// changes. fn receives nil when nothing is displayed. Calls happen outside
// the queue lock, in the goroutine that caused the change, one at a time and
// always with the latest state: an intermediate state that was replaced
// before its delivery is skipped. fn must not call Admit, Kick or Dismiss.
func (q *Queue) OnCurrent(fn func(*model.Notification)) {
	if fn == nil {
		return
	}
	q.omu.Lock()
	q.observers = append(q.observers, fn)
	q.omu.Unlock()
}

// Admit adds n to the queue, coalescing with a pending or displayed item for
// the same chat, then tries to advance.
func (q *Queue) Admit(n model.Notification) {
	if !q.admit(n) {
		return
	}
	q.advance()
}

func (q *Queue) admit(n model.Notification) (ok bool) {
	var events []eventbus.Event
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("failed to queue notification", logx.String("chat_id", n.ChatID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			ok = false
		}
		for _, e := range events {
			q.publish(e)
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].ChatID != n.ChatID {
			continue
		}
		items := append([]model.QueueItem(nil), q.items...)
		items[i] = model.QueueItem{Notification: n, Processing: items[i].Processing}
		q.items = items
		events = append(events, q.event(EventCoalesced, n, ""))
		q.log.Debug("notification coalesced", logx.String("chat_id", n.ChatID), logx.Bool("processing", items[i].Processing))
		return true
	}

	items := make([]model.QueueItem, 0, len(q.items)+1)
	items = append(items, q.items...)
	items = append(items, model.QueueItem{Notification: n})
	events = append(events, q.event(EventQueued, n, ""))

	// Over the bound, drop the oldest items that are not on screen.
	for over := len(items) - q.cfg.MaxQueueSize; over > 0; over-- {
		idx := -1
		for i := range items {
			if !items[i].Processing {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		events = append(events, q.event(EventEvicted, items[idx].Notification, "queue_full"))
		q.log.Debug("notification evicted", logx.String("chat_id", items[idx].ChatID))
		items = append(items[:idx:idx], items[idx+1:]...)
	}
	q.items = items
	return true
}

// Kick re-runs advancement, e.g. after in-app notifications were switched
// back on.
func (q *Queue) Kick() { q.advance() }

func (q *Queue) advance() {
	var (
		shown *model.Notification
		reset bool
		prefs model.Preferences
	)
	func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		defer func() {
			if r := recover(); r != nil {
				q.log.Error("notification advancement failed", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				if q.current != nil {
					q.removeDisplayedLocked(q.current.ChatID)
				}
				q.finishLocked()
				shown, reset = nil, true
			}
		}()

		if q.inflight || len(q.items) == 0 {
			return
		}
		prefs = q.prefs()
		if !prefs.ShowInApp {
			return
		}
		idx := -1
		for i := range q.items {
			if !q.items[i].Processing {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}

		q.inflight = true
		q.seq++
		id := q.seq
		q.cycle = id

		items := append([]model.QueueItem(nil), q.items...)
		items[idx].Processing = true
		q.items = items

		n := items[idx].Notification
		q.current = &n
		q.ver++
		q.settle = q.clock.AfterFunc(q.cfg.DisplaySettle, func() { q.settled(id, n.ChatID) })
		q.expire = q.clock.AfterFunc(q.cfg.AutoDismiss, func() { q.expired(id) })

		q.history = append(q.history, HistoryItem{At: q.clock.Now(), Notification: n})
		if len(q.history) > q.cfg.HistorySize {
			q.history = q.history[len(q.history)-q.cfg.HistorySize:]
		}
		cp := n
		shown = &cp
	}()

	if shown == nil {
		if reset {
			q.emitCurrent()
		}
		return
	}
	q.log.Debug("notification shown", logx.String("chat_id", shown.ChatID), logx.String("id", shown.ID))
	q.publish(q.event(EventShown, *shown, ""))
	q.emitCurrent()
	if prefs.PlaySounds && q.fb != nil {
		q.safeFeedback(prefs.Vibrate)
	}
}

// settled removes the displayed item from the queue once it had time to
// appear on screen. Items admitted meanwhile stay queued for the next cycle.
func (q *Queue) settled(id uint64, chatID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cycle != id {
		return
	}
	q.removeDisplayedLocked(chatID)
}

func (q *Queue) expired(id uint64) {
	q.mu.Lock()
	if q.cycle != id || q.current == nil {
		q.mu.Unlock()
		return
	}
	n := *q.current
	q.removeDisplayedLocked(n.ChatID)
	q.finishLocked()
	q.mu.Unlock()

	q.publish(q.event(EventExpired, n, ""))
	q.emitCurrent()
	q.advance()
}

// Dismiss hides the displayed notification now. The item is removed from the
// queue as well, and the next pending item is shown immediately.
// Dismiss is a no-op when nothing is displayed.
func (q *Queue) Dismiss() {
	q.mu.Lock()
	if q.current == nil {
		q.mu.Unlock()
		return
	}
	n := *q.current
	q.removeDisplayedLocked(n.ChatID)
	q.finishLocked()
	q.mu.Unlock()

	q.log.Debug("notification dismissed", logx.String("chat_id", n.ChatID))
	q.publish(q.event(EventDismissed, n, ""))
	q.emitCurrent()
	q.advance()
}

func (q *Queue) finishLocked() {
	q.stopTimersLocked()
	q.current = nil
	q.ver++
	q.inflight = false
	q.cycle = 0
}

func (q *Queue) stopTimersLocked() {
	if q.settle != nil {
		q.settle.Stop()
		q.settle = nil
	}
	if q.expire != nil {
		q.expire.Stop()
		q.expire = nil
	}
}

func (q *Queue) removeDisplayedLocked(chatID string) {
	for i := range q.items {
		if q.items[i].ChatID == chatID && q.items[i].Processing {
			items := make([]model.QueueItem, 0, len(q.items)-1)
			items = append(items, q.items[:i]...)
			items = append(items, q.items[i+1:]...)
			q.items = items
			return
		}
	}
}

// Current returns the displayed notification.
func (q *Queue) Current() (model.Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return model.Notification{}, false
	}
	return *q.current, true
}

// Snapshot returns a copy of the queued items in order.
func (q *Queue) Snapshot() []model.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.QueueItem(nil), q.items...)
}

// History returns the most recently shown notifications, oldest first.
func (q *Queue) History() []HistoryItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]HistoryItem(nil), q.history...)
}

// emitCurrent delivers the displayed notification as it is now, not as it
// was when the caller changed it. Every change is followed by a call, so the
// last delivery always matches the queue.
func (q *Queue) emitCurrent() {
	q.emu.Lock()
	defer q.emu.Unlock()

	q.mu.Lock()
	ver := q.ver
	var cur *model.Notification
	if q.current != nil {
		cp := *q.current
		cur = &cp
	}
	q.mu.Unlock()
	if ver == q.emitted {
		return
	}
	q.emitted = ver

	q.omu.Lock()
	obs := make([]func(*model.Notification), len(q.observers))
	copy(obs, q.observers)
	q.omu.Unlock()
	for _, fn := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.log.Error("current-notification observer panicked", logx.Any("panic", r))
				}
			}()
			var arg *model.Notification
			if cur != nil {
				cp := *cur
				arg = &cp
			}
			fn(arg)
		}()
	}
}

func (q *Queue) safeFeedback(vibrate bool) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Warn("notification feedback failed", logx.Any("panic", r))
		}
	}()
	q.fb.Notify(vibrate)
}

func (q *Queue) event(typ string, n model.Notification, reason string) eventbus.Event {
	return eventbus.Event{
		Type: typ,
		Time: q.clock.Now(),
		Data: NotificationEvent{ID: n.ID, ChatID: n.ChatID, Sender: n.SenderName, Reason: reason},
	}
}

func (q *Queue) publish(e eventbus.Event) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(e)
}
