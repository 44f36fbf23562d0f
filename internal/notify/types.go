package notify

import (
	"context"
	"errors"
	"time"

	"chatnotify/internal/model"
)

var (
	ErrNoSource = errors.New("notify: no message source configured")
	ErrStopped  = errors.New("notify: service stopped")
)

// Event types published on the bus.
const (
	EventQueued    = "notify.queued"
	EventCoalesced = "notify.coalesced"
	EventEvicted   = "notify.evicted"
	EventShown     = "notify.shown"
	EventDismissed = "notify.dismissed"
	EventExpired   = "notify.expired"
	EventFiltered  = "notify.filtered"
	EventResync    = "notify.resync"
	EventReadFail  = "notify.read_failed"
	EventStream    = "notify.stream"
)

// Source is the reactive unread-message query.
//
// Subscribe emits full snapshots (not deltas) of messages with
// timestamp > after() and senderID != userID across every chat userID
// participates in, ascending by timestamp. after is re-read on every
// re-evaluation. The channel closes when ctx ends or the subscription
// fails.
type Source interface {
	Subscribe(ctx context.Context, userID string, after func() int64) (<-chan []model.Message, error)
	MarkRead(ctx context.Context, chatID, userID string) (int, error)
}

// Feedback is the cue fired when a notification is displayed.
type Feedback interface {
	Notify(vibrate bool) bool
}

// Config holds the pipeline timings. Zero values use the model defaults.
type Config struct {
	UserID         string
	AutoDismiss    time.Duration
	DisplaySettle  time.Duration
	MaxQueueSize   int
	HistorySize    int
	ResyncInterval time.Duration
	ResyncBuffer   time.Duration
	ColdStart      time.Duration
	ReadTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.AutoDismiss <= 0 {
		c.AutoDismiss = model.AutoDismiss
	}
	if c.DisplaySettle <= 0 {
		c.DisplaySettle = model.DisplaySettle
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = model.MaxQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = model.ResyncInterval
	}
	if c.ResyncBuffer <= 0 {
		c.ResyncBuffer = model.ResyncBuffer
	}
	if c.ColdStart <= 0 {
		c.ColdStart = model.ColdStartLookback
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	return c
}

// NotificationEvent is the Data of queue lifecycle events.
type NotificationEvent struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`
	Sender string `json:"sender,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResyncEvent is the Data of EventResync.
type ResyncEvent struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// HistoryItem records a notification that reached the screen.
type HistoryItem struct {
	At           time.Time
	Notification model.Notification
}
