// Package model holds the value types shared by the notification pipeline.
package model

import (
	"strings"
	"time"
)

// Timing and sizing defaults for the in-app notification pipeline.
const (
	AutoDismiss       = 4000 * time.Millisecond
	DisplaySettle     = 500 * time.Millisecond
	FeedbackSpacing   = 1000 * time.Millisecond
	ResyncInterval    = 5 * time.Minute
	ResyncBuffer      = 5 * time.Second
	ColdStartLookback = 30 * time.Second
	MaxQueueSize      = 3
)

// Message is a row delivered by the unread message stream.
// Timestamp is unix milliseconds.
type Message struct {
	ID              string `json:"id"`
	ChatID          string `json:"chatId"`
	SenderID        string `json:"senderId"`
	SenderName      string `json:"senderName"`
	SenderAvatarURL string `json:"senderAvatarUrl,omitempty"`
	Content         string `json:"content"`
	Timestamp       int64  `json:"timestamp"`
}

// Notification is what a toast displays.
type Notification struct {
	ID              string `json:"id"`
	ChatID          string `json:"chatId"`
	SenderName      string `json:"senderName"`
	SenderAvatarURL string `json:"senderAvatarUrl,omitempty"`
	Preview         string `json:"messagePreview"`
	Timestamp       int64  `json:"timestamp"`
}

// QueueItem is a pending or displayed notification owned by the queue.
type QueueItem struct {
	Notification
	Processing bool `json:"isProcessing"`
}

// NotificationFromMessage builds the toast payload for a message.
func NotificationFromMessage(m Message) Notification {
	name := strings.TrimSpace(m.SenderName)
	if name == "" {
		name = "Unknown"
	}
	return Notification{
		ID:              m.ID,
		ChatID:          m.ChatID,
		SenderName:      name,
		SenderAvatarURL: m.SenderAvatarURL,
		Preview:         m.Content,
		Timestamp:       m.Timestamp,
	}
}

// Preferences are the per-installation notification toggles.
//
// JSON field names match the blobs already written by the mobile client.
type Preferences struct {
	ShowInApp  bool `json:"showInAppNotifications"`
	PlaySounds bool `json:"playNotificationSounds"`
	Vibrate    bool `json:"vibrateOnNotification"`
}

// DefaultPreferences enables everything.
func DefaultPreferences() Preferences {
	return Preferences{ShowInApp: true, PlaySounds: true, Vibrate: true}
}
