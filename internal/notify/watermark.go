package notify

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chatnotify/internal/eventbus"
	"chatnotify/internal/model"
	"chatnotify/internal/storage"
	"chatnotify/pkg/clock"
	logx "chatnotify/pkg/logx"
)

// Watermark is the timestamp (unix ms) below which messages have already
// been considered. It never moves backward.
//
// Messages sharing the current watermark timestamp are remembered by id, so
// a later snapshot carrying another message with the same timestamp is still
// considered while a re-delivered one is not.
type Watermark struct {
	cfg   Config
	clock clock.Clock
	kv    storage.Store
	bus   eventbus.Bus
	log   logx.Logger

	mu        sync.Mutex
	value     int64
	seenAt    map[string]struct{}
	connected bool
	saved     int64

	cmu  sync.Mutex
	cron *cron.Cron
}

// NewWatermark starts at now minus the cold-start lookback. Call Load to
// raise it to the last checkpoint. kv may be nil (no checkpoints).
func NewWatermark(cfg Config, kv storage.Store, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Watermark {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	start := clk.Now().Add(-cfg.ColdStart).UnixMilli()
	return &Watermark{
		cfg:    cfg,
		clock:  clk,
		kv:     kv,
		bus:    bus,
		log:    log,
		value:  start,
		seenAt: map[string]struct{}{},
	}
}

// Load raises the watermark to the persisted checkpoint, if any.
func (w *Watermark) Load(ctx context.Context) {
	if w.kv == nil {
		return
	}
	raw, ok, err := w.kv.Get(ctx, storage.KeyWatermark)
	if err != nil {
		w.log.Warn("failed to read watermark checkpoint", logx.Err(err))
		return
	}
	if !ok {
		return
	}
	ckpt, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		w.log.Warn("ignoring malformed watermark checkpoint", logx.String("value", raw), logx.Err(err))
		return
	}
	w.mu.Lock()
	if ckpt > w.value {
		w.value = ckpt
		w.seenAt = map[string]struct{}{}
	}
	w.saved = ckpt
	v := w.value
	w.mu.Unlock()
	w.log.Debug("watermark restored", logx.Int64("checkpoint", ckpt), logx.Int64("value", v))
}

// Value returns the current watermark.
func (w *Watermark) Value() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// Observe records msg and reports whether it still needed consideration.
// It returns false for messages below the watermark and for ids already
// observed at the watermark timestamp.
func (w *Watermark) Observe(msg model.Message) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case msg.Timestamp < w.value:
		return false
	case msg.Timestamp == w.value:
		if _, ok := w.seenAt[msg.ID]; ok {
			return false
		}
	default:
		w.value = msg.Timestamp
		w.seenAt = map[string]struct{}{}
	}
	w.seenAt[msg.ID] = struct{}{}
	return true
}

// SetConnected tells the tracker whether the stream is live. Resync only
// runs while it is.
func (w *Watermark) SetConnected(ok bool) {
	w.mu.Lock()
	w.connected = ok
	w.mu.Unlock()
}

// Connected reports the last value given to SetConnected.
func (w *Watermark) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Resync pulls the watermark forward to now minus the resync buffer. It
// reports whether the value moved.
func (w *Watermark) Resync(now time.Time) bool {
	target := now.Add(-w.cfg.ResyncBuffer).UnixMilli()
	w.mu.Lock()
	if !w.connected || target <= w.value {
		w.mu.Unlock()
		return false
	}
	from := w.value
	w.value = target
	w.seenAt = map[string]struct{}{}
	w.mu.Unlock()

	w.log.Debug("watermark resynced", logx.Int64("from", from), logx.Int64("to", target))
	if w.bus != nil {
		w.bus.Publish(eventbus.Event{Type: EventResync, Time: now, Data: ResyncEvent{From: from, To: target}})
	}
	return true
}

// Checkpoint persists the current value when it changed since the last
// checkpoint.
func (w *Watermark) Checkpoint(ctx context.Context) error {
	if w.kv == nil {
		return nil
	}
	w.mu.Lock()
	v, saved := w.value, w.saved
	w.mu.Unlock()
	if v == saved {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := w.kv.Put(cctx, storage.KeyWatermark, strconv.FormatInt(v, 10)); err != nil {
		w.log.Warn("failed to checkpoint watermark", logx.Err(err))
		return err
	}
	w.mu.Lock()
	if v > w.saved {
		w.saved = v
	}
	w.mu.Unlock()
	return nil
}

func (w *Watermark) tick() {
	w.Resync(w.clock.Now())
	_ = w.Checkpoint(context.Background())
}

// Start schedules the periodic resync and checkpoint. Start is idempotent.
func (w *Watermark) Start() {
	w.cmu.Lock()
	defer w.cmu.Unlock()
	if w.cron != nil {
		return
	}
	c := cron.New()
	c.Schedule(cron.Every(w.cfg.ResyncInterval), cron.FuncJob(w.tick))
	c.Start()
	w.cron = c
	w.log.Debug("watermark resync scheduled", logx.Duration("every", w.cfg.ResyncInterval))
}

// Stop cancels the schedule and writes a final checkpoint.
func (w *Watermark) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	w.cmu.Lock()
	c := w.cron
	w.cron = nil
	w.cmu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	_ = w.Checkpoint(ctx)
}
