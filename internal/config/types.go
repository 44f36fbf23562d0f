package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chatnotify/internal/model"
	"chatnotify/internal/storage"
	logx "chatnotify/pkg/logx"
)

// Config is the daemon configuration file.
//
// All durations are Go duration strings ("500ms", "4s", "5m"). Omitted or
// zero durations fall back to the defaults in package model.
type Config struct {
	UserID        string              `json:"user_id"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Source        SourceConfig        `json:"source"`
	Notifications NotificationsConfig `json:"notifications"`
	Debug         *DebugConfig        `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls where preferences, muted chats and the watermark
// checkpoint are kept. A nil section keeps them in memory only.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./chatnotify_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SourceConfig selects the unread message stream.
//
// Driver "memory" is an in-process store (optionally fed by the demo
// simulator); "sqlite" polls a chat database.
type SourceConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	Demo         bool   `json:"demo,omitempty"`
	DemoInterval string `json:"demo_interval,omitempty"`
}

// DebugConfig controls the local pprof/state endpoint.
//
// Prefer a loopback Addr. A non-loopback bind needs a token or an explicit
// allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6061"
	Token         string `json:"token,omitempty"` // never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type NotificationsConfig struct {
	AutoDismiss       string `json:"auto_dismiss,omitempty"`
	DisplaySettle     string `json:"display_settle,omitempty"`
	FeedbackSpacing   string `json:"feedback_spacing,omitempty"`
	ResyncInterval    string `json:"resync_interval,omitempty"`
	ResyncBuffer      string `json:"resync_buffer,omitempty"`
	ColdStartLookback string `json:"cold_start_lookback,omitempty"`
	ReadTimeout       string `json:"read_timeout,omitempty"`
	MaxQueueSize      int    `json:"max_queue_size,omitempty"`
	HistorySize       int    `json:"history_size,omitempty"`
}

// Timings is NotificationsConfig with durations parsed and defaults applied.
type Timings struct {
	AutoDismiss       time.Duration
	DisplaySettle     time.Duration
	FeedbackSpacing   time.Duration
	ResyncInterval    time.Duration
	ResyncBuffer      time.Duration
	ColdStartLookback time.Duration
	ReadTimeout       time.Duration
	MaxQueueSize      int
	HistorySize       int
}

const (
	defaultReadTimeout  = 5 * time.Second
	defaultHistorySize  = 50
	defaultPollInterval = time.Second
	defaultDemoInterval = 7 * time.Second
)

func (n NotificationsConfig) Timings() (Timings, error) {
	t := Timings{MaxQueueSize: n.MaxQueueSize, HistorySize: n.HistorySize}
	if t.MaxQueueSize <= 0 {
		t.MaxQueueSize = model.MaxQueueSize
	}
	if t.HistorySize <= 0 {
		t.HistorySize = defaultHistorySize
	}
	fields := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"notifications.auto_dismiss", n.AutoDismiss, model.AutoDismiss, &t.AutoDismiss},
		{"notifications.display_settle", n.DisplaySettle, model.DisplaySettle, &t.DisplaySettle},
		{"notifications.feedback_spacing", n.FeedbackSpacing, model.FeedbackSpacing, &t.FeedbackSpacing},
		{"notifications.resync_interval", n.ResyncInterval, model.ResyncInterval, &t.ResyncInterval},
		{"notifications.resync_buffer", n.ResyncBuffer, model.ResyncBuffer, &t.ResyncBuffer},
		{"notifications.cold_start_lookback", n.ColdStartLookback, model.ColdStartLookback, &t.ColdStartLookback},
		{"notifications.read_timeout", n.ReadTimeout, defaultReadTimeout, &t.ReadTimeout},
	}
	for _, f := range fields {
		d, err := ParseDurationOrDefault(f.path, f.raw, f.def)
		if err != nil {
			return Timings{}, err
		}
		*f.dst = d
	}
	if t.DisplaySettle >= t.AutoDismiss {
		return Timings{}, fmt.Errorf("notifications.display_settle (%s) must be shorter than auto_dismiss (%s)", t.DisplaySettle, t.AutoDismiss)
	}
	return t, nil
}

// LogConfig converts the logging section for logx.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

// StoreConfig converts the storage section. A nil section selects memory.
func (c *Config) StoreConfig() (storage.Config, error) {
	if c.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(c.Storage.Driver)),
		Path:        strings.TrimSpace(c.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func (s SourceConfig) PollEvery() (time.Duration, error) {
	return ParseDurationOrDefault("source.poll_interval", s.PollInterval, defaultPollInterval)
}

func (s SourceConfig) DemoEvery() (time.Duration, error) {
	return ParseDurationOrDefault("source.demo_interval", s.DemoInterval, defaultDemoInterval)
}

// Validate checks cross-field rules that decoding cannot express.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	switch strings.ToLower(strings.TrimSpace(c.Source.Driver)) {
	case "", "memory":
	case "sqlite":
		if strings.TrimSpace(c.Source.Path) == "" {
			errs = append(errs, errors.New("source.path is required for the sqlite driver"))
		}
		if c.Source.Demo {
			errs = append(errs, errors.New("source.demo is only supported with the memory driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("source.driver: unknown driver %q", c.Source.Driver))
	}
	if _, err := c.Source.PollEvery(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Source.DemoEvery(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.StoreConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Notifications.Timings(); err != nil {
		errs = append(errs, err)
	}
	if c.Notifications.MaxQueueSize < 0 || c.Notifications.HistorySize < 0 {
		errs = append(errs, errors.New("notifications: sizes must be >= 0"))
	}
	return errors.Join(errs...)
}
