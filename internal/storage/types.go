package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-lifetime map (tests, ephemeral runs)
//   - "file": JSON snapshot + JSON Lines journal
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Well-known keys.
const (
	KeyPreferences = "notification_preferences"
	KeyMutedChats  = "muted_chats"
	KeyWatermark   = "notification_watermark"
)
