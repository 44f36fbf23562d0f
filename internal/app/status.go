package app

import (
	"time"

	"chatnotify/internal/config"
	"chatnotify/internal/model"
	"chatnotify/internal/notify"
	"chatnotify/internal/observability/debughttp"
	"chatnotify/internal/runtime/supervisor"
	logx "chatnotify/pkg/logx"
)

// NotifyStatus is the /debug/notify view.
type NotifyStatus struct {
	UserID        string               `json:"user_id"`
	Connected     bool                 `json:"connected"`
	Watermark     int64                `json:"watermark"`
	ActiveChat    string               `json:"active_chat,omitempty"`
	Preferences   model.Preferences    `json:"preferences"`
	Muted         []string             `json:"muted"`
	Current       *model.Notification  `json:"current,omitempty"`
	Queue         []model.QueueItem    `json:"queue"`
	History       []notify.HistoryItem `json:"history"`
	FeedbackSkips uint64               `json:"feedback_skipped"`
	Stream        *supervisor.Counters `json:"stream,omitempty"`
	At            time.Time            `json:"at"`
}

func (a *App) notifyStatus() NotifyStatus {
	n := a.notif
	st := NotifyStatus{
		UserID:        a.userID,
		Connected:     n.Watermark().Connected(),
		Watermark:     n.Watermark().Value(),
		ActiveChat:    n.ActiveChat(),
		Preferences:   n.Preferences(),
		Muted:         n.Prefs().Muted(),
		Queue:         n.Queue().Snapshot(),
		History:       n.Queue().History(),
		FeedbackSkips: a.fb.Skipped(),
		At:            time.Now(),
	}
	if cur, ok := n.Current(); ok {
		st.Current = &cur
	}
	if sup := n.Supervisor(); sup != nil {
		c := sup.Counters()
		st.Stream = &c
	}
	return st
}

func (a *App) newDebugServer(dc *config.DebugConfig, log logx.Logger) *debughttp.Server {
	if dc == nil || !dc.Enabled {
		return nil
	}
	s := debughttp.New(debughttp.Config{Addr: dc.Addr, Token: dc.Token, AllowInsecure: dc.AllowInsecure}, log)
	s.Register("notify", func() any { return a.notifyStatus() })
	s.Register("bus", func() any { return map[string]uint64{"dropped": a.bus.Dropped()} })
	return s
}
