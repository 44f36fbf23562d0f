// Package feedback emits the sound/haptic cue that accompanies an in-app
// notification.
//
// The emitter is an ordinary instance injected into the queue; its
// throttle state lives on the instance so tests can observe it.
package feedback

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatnotify/internal/model"
	"chatnotify/pkg/clock"
	logx "chatnotify/pkg/logx"
)

// Style is the strength of a haptic impact.
type Style int

const (
	StyleLight Style = iota
	StyleMedium
	StyleHeavy
)

func (s Style) String() string {
	switch s {
	case StyleLight:
		return "light"
	case StyleMedium:
		return "medium"
	case StyleHeavy:
		return "heavy"
	default:
		return fmt.Sprintf("style(%d)", int(s))
	}
}

// Device is the platform side of feedback.
type Device interface {
	PlaySound() error
	Impact(style Style) error
}

// Emitter is safe for concurrent use.
type Emitter struct {
	dev   Device
	clock clock.Clock
	log   logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
	skipped uint64
}

// New builds an emitter allowing at most one cue per spacing.
// A nil device makes every call a no-op.
func New(dev Device, spacing time.Duration, clk clock.Clock, log logx.Logger) *Emitter {
	if spacing <= 0 {
		spacing = model.FeedbackSpacing
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Emitter{
		dev:     dev,
		clock:   clk,
		log:     log,
		limiter: rate.NewLimiter(rate.Every(spacing), 1),
	}
}

// Notify plays the notification cue unless one was played within the
// spacing window. The haptic part only runs when vibrate is set.
// It reports whether the cue was emitted.
func (e *Emitter) Notify(vibrate bool) bool {
	if e == nil || e.dev == nil {
		return false
	}
	e.mu.Lock()
	ok := e.limiter.AllowN(e.clock.Now(), 1)
	if !ok {
		e.skipped++
	}
	e.mu.Unlock()
	if !ok {
		e.log.Debug("skipping notification feedback (too frequent)")
		return false
	}

	e.safely("sound", func() error { return e.dev.PlaySound() })
	if vibrate {
		e.safely("haptic", func() error { return e.dev.Impact(StyleLight) })
	}
	return true
}

// Haptic fires a light impact immediately, without throttling.
func (e *Emitter) Haptic() {
	if e == nil || e.dev == nil {
		return
	}
	e.safely("haptic", func() error { return e.dev.Impact(StyleLight) })
}

// Skipped returns how many cues were suppressed by the throttle.
func (e *Emitter) Skipped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.skipped
}

func (e *Emitter) safely(kind string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("feedback device panicked", logx.String("kind", kind), logx.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		e.log.Warn("failed to provide feedback", logx.String("kind", kind), logx.Err(err))
	}
}

// LogDevice is a Device that records cues in the log. Used headless.
type LogDevice struct {
	Log logx.Logger
}

func (d LogDevice) PlaySound() error {
	d.Log.Info("feedback: sound")
	return nil
}

func (d LogDevice) Impact(style Style) error {
	d.Log.Info("feedback: haptic", logx.String("style", style.String()))
	return nil
}
