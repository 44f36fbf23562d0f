package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"chatnotify/internal/eventbus"
	logx "chatnotify/pkg/logx"
)

// ActiveChat tracks the chat on screen and marks it read when the user
// enters it. Marking is one-directional: leaving a chat does nothing.
type ActiveChat struct {
	src     Source
	userID  string
	timeout time.Duration
	bus     eventbus.Bus
	log     logx.Logger

	mu     sync.Mutex
	chatID string
	wg     sync.WaitGroup
}

func NewActiveChat(src Source, userID string, timeout time.Duration, bus eventbus.Bus, log logx.Logger) *ActiveChat {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ActiveChat{src: src, userID: userID, timeout: timeout, bus: bus, log: log}
}

// Get returns the active chat id, or "" when none.
func (a *ActiveChat) Get() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chatID
}

// Set changes the active chat. Entering a different, non-empty chat fires a
// mark-as-read request in the background; its failure is only logged.
func (a *ActiveChat) Set(chatID string) {
	chatID = strings.TrimSpace(chatID)
	a.mu.Lock()
	prev := a.chatID
	a.chatID = chatID
	a.mu.Unlock()

	if chatID == "" || chatID == prev || a.src == nil || a.userID == "" {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.markRead(chatID)
	}()
}

func (a *ActiveChat) markRead(chatID string) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("mark as read panicked", logx.String("chat_id", chatID), logx.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	n, err := a.src.MarkRead(ctx, chatID, a.userID)
	if err != nil {
		a.log.Warn("failed to mark messages as read", logx.String("chat_id", chatID), logx.Err(err))
		if a.bus != nil {
			a.bus.Publish(eventbus.Event{Type: EventReadFail, Time: time.Now(), Data: NotificationEvent{ChatID: chatID, Reason: err.Error()}})
		}
		return
	}
	a.log.Debug("messages marked as read", logx.String("chat_id", chatID), logx.Int("count", n))
}

// Wait blocks until in-flight mark-as-read requests finish or ctx ends.
func (a *ActiveChat) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
