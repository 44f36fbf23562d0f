package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatnotify/internal/config"
	"chatnotify/internal/eventbus"
	"chatnotify/internal/feedback"
	"chatnotify/internal/notify"
	"chatnotify/internal/observability/debughttp"
	"chatnotify/internal/prefs"
	"chatnotify/internal/runtime/supervisor"
	"chatnotify/internal/source/memstore"
	"chatnotify/internal/source/sqlstore"
	"chatnotify/internal/storage"
	"chatnotify/internal/toast"
	"chatnotify/pkg/clock"
	logx "chatnotify/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	kv   storage.Store

	userID   string
	src      notify.Source
	closeSrc func() error
	mem      *memstore.Store
	sql      *sqlstore.Store

	fb    *feedback.Emitter
	notif *notify.Service
	toast *toast.Presenter
	demo  *simulator
	debug *debughttp.Server

	sup *supervisor.Supervisor
}

// New loads cfgPath and wires the pipeline. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.ConfigManager, cfg *config.Config) (a *App, err error) {
	timings, err := cfg.Notifications.Timings()
	if err != nil {
		return nil, err
	}
	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogConfig())
	a = &App{cfgm: cfgm, cfg: cfg, logs: logSvc, log: log.With(logx.String("comp", "app")), bus: eventbus.New()}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	kv, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if kv == nil {
		kv = storage.NewMemory()
	}
	a.kv = kv
	a.log.Info("storage ready", logx.String("driver", storeCfg.Driver))

	userID, err := a.openSource(cfg, log)
	if err != nil {
		return nil, err
	}

	a.userID = userID
	clk := clock.Real()
	a.fb = feedback.New(feedback.LogDevice{Log: log.With(logx.String("comp", "device"))}, timings.FeedbackSpacing, clk, log.With(logx.String("comp", "feedback")))
	a.notif = notify.New(notify.Config{
		UserID:         userID,
		AutoDismiss:    timings.AutoDismiss,
		DisplaySettle:  timings.DisplaySettle,
		MaxQueueSize:   timings.MaxQueueSize,
		HistorySize:    timings.HistorySize,
		ResyncInterval: timings.ResyncInterval,
		ResyncBuffer:   timings.ResyncBuffer,
		ColdStart:      timings.ColdStartLookback,
		ReadTimeout:    timings.ReadTimeout,
	}, notify.Deps{
		Source:   a.src,
		Prefs:    prefs.New(kv, log.With(logx.String("comp", "prefs"))),
		Feedback: a.fb,
		KV:       kv,
		Bus:      a.bus,
		Clock:    clk,
		Log:      log,
	})
	a.toast = toast.New(a.notif.Queue(), a.fb, time.Local, log.With(logx.String("comp", "toast")))

	a.debug = a.newDebugServer(cfg.Debug, log.With(logx.String("comp", "debug")))

	if cfg.Source.Demo {
		every, _ := cfg.Source.DemoEvery()
		a.demo = newSimulator(a.mem, userID, a.toast, a.notif, every, log.With(logx.String("comp", "demo")))
		if err := a.demo.seed(); err != nil {
			return nil, fmt.Errorf("demo seed: %w", err)
		}
	}
	return a, nil
}

// openSource picks the unread stream and returns the user id to subscribe as.
func (a *App) openSource(cfg *config.Config, log logx.Logger) (string, error) {
	userID := strings.TrimSpace(cfg.UserID)
	srcLog := log.With(logx.String("comp", "source"))

	switch strings.ToLower(strings.TrimSpace(cfg.Source.Driver)) {
	case "sqlite":
		poll, err := cfg.Source.PollEvery()
		if err != nil {
			return "", err
		}
		st, err := sqlstore.Open(sqlstore.Options{Path: cfg.Source.Path, PollInterval: poll, Log: srcLog})
		if err != nil {
			return "", fmt.Errorf("open source: %w", err)
		}
		a.sql, a.src, a.closeSrc = st, st, st.Close
	default:
		st := memstore.New(clock.Real(), srcLog)
		a.mem, a.src = st, st
		// The in-process store generates its own ids, so the signed-in user
		// has to be created here.
		if cfg.Source.Demo || userID == "" {
			if userID != "" {
				a.log.Warn("user_id ignored by the memory source", logx.String("user_id", userID))
			}
			userID = st.CreateUser("Me", "", "")
		}
	}
	return userID, nil
}

// Done is closed when the app supervisor context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Logger() logx.Logger { return a.log }
func (a *App) Bus() eventbus.Bus { return a.bus }
func (a *App) Notifications() *notify.Service { return a.notif }
func (a *App) Toast() *toast.Presenter { return a.toast }

// UserID is the user the pipeline subscribes as.
func (a *App) UserID() string { return a.userID }

// Memstore and SQLStore return the active source; the other one is nil.
func (a *App) Memstore() *memstore.Store { return a.mem }
func (a *App) SQLStore() *sqlstore.Store { return a.sql }

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return nil
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.notif.Start(a.sup.Context()); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	views, unsubViews := a.toast.Subscribe(8)
	a.sup.Go0("toast.log", func(c context.Context) {
		defer unsubViews()
		for {
			select {
			case <-c.Done():
				return
			case v, ok := <-views:
				if !ok {
					return
				}
				if v.Phase == toast.PhaseVisible {
					a.log.Info("toast",
						logx.String("chat_id", v.Notification.ChatID),
						logx.String("from", v.Notification.SenderName),
						logx.String("initials", v.Initials),
						logx.String("time", v.Time),
						logx.String("preview", v.Preview),
					)
				}
			}
		}
	})

	if a.demo != nil {
		a.sup.Go("demo", a.demo.run)
	}
	if a.debug != nil {
		if err := a.debug.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log)
		sub := a.cfgm.Subscribe(4)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-c.Done():
					return
				case newCfg, ok := <-sub:
					if !ok {
						return
					}
					a.applyConfig(newCfg)
				}
			}
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started")
	return nil
}

// applyConfig hot-applies logging. Other sections are logged and wait for a
// restart.
func (a *App) applyConfig(newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(a.cfg, newCfg)
	a.cfg = newCfg
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.logs.Apply(newCfg.LogConfig())

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if config.RestartRequired(sections) {
		a.log.Warn("config change needs a restart to take effect", logx.String("changed", strings.Join(sections, ",")))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(stepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	// The pipeline writes its last checkpoint, so it stops before storage.
	if a.debug != nil {
		step("debug", time.Second, a.debug.Stop)
	}
	step("notify", 3*time.Second, a.notif.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	a.log.Info("stopped")
	a.closeResources()
	return errors.Join(errs...)
}

func (a *App) closeResources() {
	if a.closeSrc != nil {
		if err := a.closeSrc(); err != nil {
			a.log.Warn("source close failed", logx.Err(err))
		}
		a.closeSrc = nil
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.kv = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}
