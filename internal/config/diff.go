package config

import (
	"encoding/json"
	"hash/fnv"
	"sort"
	"strings"

	logx "chatnotify/pkg/logx"
)

// SummarizeConfigChange returns the changed sections (sorted) and safe
// structured attrs for logging a reload. Storage paths and the debug token
// are reported as set or unset only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.UserID) != strings.TrimSpace(newCfg.UserID) {
		changed = append(changed, "user_id")
		attrs = append(attrs, logx.Bool("user_id.set", strings.TrimSpace(newCfg.UserID) != ""))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	if oldCfg.Source != newCfg.Source {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.driver", newCfg.Source.Driver),
			logx.String("source.poll_interval", strings.TrimSpace(newCfg.Source.PollInterval)),
			logx.Bool("source.demo", newCfg.Source.Demo),
		)
	}

	if oldCfg.Notifications != newCfg.Notifications {
		changed = append(changed, "notifications")
		if t, err := newCfg.Notifications.Timings(); err == nil {
			attrs = append(attrs,
				logx.Duration("notifications.auto_dismiss", t.AutoDismiss),
				logx.Duration("notifications.display_settle", t.DisplaySettle),
				logx.Duration("notifications.resync_interval", t.ResyncInterval),
				logx.Int("notifications.max_queue_size", t.MaxQueueSize),
			)
		}
	}

	var oDebug, nDebug DebugConfig
	if oldCfg.Debug != nil {
		oDebug = *oldCfg.Debug
	}
	if newCfg.Debug != nil {
		nDebug = *newCfg.Debug
	}
	if oDebug != nDebug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nDebug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nDebug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(nDebug.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports whether any of the changed sections can only take
// effect after a restart. Logging is applied live.
func RestartRequired(changed []string) bool {
	for _, s := range changed {
		if s != "logging" {
			return true
		}
	}
	return false
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// hashBytes returns a stable 64-bit hash of b. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
