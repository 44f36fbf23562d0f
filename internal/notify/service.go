package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatnotify/internal/eventbus"
	"chatnotify/internal/model"
	"chatnotify/internal/prefs"
	rtsup "chatnotify/internal/runtime/supervisor"
	"chatnotify/internal/storage"
	"chatnotify/pkg/clock"
	logx "chatnotify/pkg/logx"
)

var errStreamClosed = errors.New("unread message stream closed")

// Deps are the collaborators of a Service. Nil Prefs builds a store over KV.
type Deps struct {
	Source   Source
	Prefs    *prefs.Store
	Feedback Feedback
	KV       storage.Store
	Bus      eventbus.Bus
	Clock    clock.Clock
	Log      logx.Logger
}

// Service wires the unread message stream through the watermark, the
// eligibility filter and the queue.
type Service struct {
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	src    Source
	prefs  *prefs.Store
	queue  *Queue
	wm     *Watermark
	active *ActiveChat

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	stopped bool
}

func New(cfg Config, deps Deps) *Service {
	cfg = cfg.withDefaults()
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	log := deps.Log.With(logx.String("comp", "notify"))

	ps := deps.Prefs
	if ps == nil {
		ps = prefs.New(deps.KV, log.With(logx.String("sub", "prefs")))
	}

	q := NewQueue(cfg, QueueDeps{
		Prefs:    ps.Preferences,
		Feedback: deps.Feedback,
		Clock:    deps.Clock,
		Bus:      deps.Bus,
		Log:      log.With(logx.String("sub", "queue")),
	})
	ps.OnChange(func(p model.Preferences) {
		if p.ShowInApp {
			q.Kick()
		}
	})

	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    deps.Bus,
		src:    deps.Source,
		prefs:  ps,
		queue:  q,
		wm:     NewWatermark(cfg, deps.KV, deps.Clock, deps.Bus, log.With(logx.String("sub", "watermark"))),
		active: NewActiveChat(deps.Source, cfg.UserID, cfg.ReadTimeout, deps.Bus, log.With(logx.String("sub", "receipts"))),
	}
}

// Start loads persisted state, schedules the watermark resync and subscribes
// to the unread message stream. Without a user id nothing is subscribed.
// Start is idempotent.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.sup != nil {
		return nil
	}

	s.prefs.Load(ctx)
	s.wm.Load(ctx)
	s.wm.Start()

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	if s.cfg.UserID == "" {
		s.log.Info("no user signed in; unread message stream not started")
		return nil
	}
	if s.src == nil {
		return ErrNoSource
	}
	s.sup.GoRestart("stream", s.consume,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithOnRestart(func(err error) {
			s.wm.SetConnected(false)
			s.publish(EventStream, NotificationEvent{Reason: err.Error()})
		}),
	)
	s.log.Info("notification pipeline started", logx.String("user_id", s.cfg.UserID), logx.Int64("watermark", s.wm.Value()))
	return nil
}

func (s *Service) consume(ctx context.Context) error {
	ch, err := s.src.Subscribe(ctx, s.cfg.UserID, s.wm.Value)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer s.wm.SetConnected(false)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msgs, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errStreamClosed
			}
			s.HandleSnapshot(msgs)
		}
	}
}

// HandleSnapshot processes one stream emission. Messages are handled in
// ascending timestamp order; each one advances the watermark whether or not
// it becomes a notification.
func (s *Service) HandleSnapshot(msgs []model.Message) {
	s.wm.SetConnected(true)
	if len(msgs) == 0 {
		return
	}
	sorted := append([]model.Message(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	fc := FilterContext{
		UserID:       s.cfg.UserID,
		ActiveChatID: s.active.Get(),
		Muted:        s.prefs.MutedSet(),
		Prefs:        s.prefs.Preferences(),
	}
	for _, m := range sorted {
		if !s.wm.Observe(m) {
			continue
		}
		if ok, reason := Eligible(m, fc); !ok {
			s.log.Debug("message not eligible", logx.String("id", m.ID), logx.String("chat_id", m.ChatID), logx.String("reason", string(reason)))
			s.publish(EventFiltered, NotificationEvent{ID: m.ID, ChatID: m.ChatID, Reason: string(reason)})
			continue
		}
		s.queue.Admit(model.NotificationFromMessage(m))
	}
}

// Stop ends the stream, the resync schedule and waits for pending read
// receipts until ctx expires. A stopped service cannot be restarted.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.stopped = true
	s.mu.Unlock()

	var err error
	if sup != nil {
		err = sup.Stop(ctx)
	}
	s.wm.Stop(ctx)
	s.active.Wait(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Supervisor returns the stream supervisor (nil before Start).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) SetActiveChat(chatID string) { s.active.Set(chatID) }
func (s *Service) ActiveChat() string { return s.active.Get() }

func (s *Service) Preferences() model.Preferences { return s.prefs.Preferences() }

func (s *Service) SavePreferences(ctx context.Context, p model.Preferences) error {
	return s.prefs.SavePreferences(ctx, p)
}

func (s *Service) ToggleMute(ctx context.Context, chatID string) (bool, error) {
	return s.prefs.ToggleMute(ctx, chatID)
}

func (s *Service) IsMuted(chatID string) bool { return s.prefs.IsMuted(chatID) }

// Current returns the notification on screen.
func (s *Service) Current() (model.Notification, bool) { return s.queue.Current() }

// Dismiss hides the notification on screen.
func (s *Service) Dismiss() { s.queue.Dismiss() }

func (s *Service) Queue() *Queue { return s.queue }
func (s *Service) Watermark() *Watermark { return s.wm }
func (s *Service) Prefs() *prefs.Store { return s.prefs }
func (s *Service) Receipts() *ActiveChat { return s.active }

func (s *Service) publish(typ string, data NotificationEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
