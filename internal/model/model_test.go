package model

import (
	"encoding/json"
	"testing"
)

func TestNotificationFromMessage(t *testing.T) {
	t.Parallel()
	n := NotificationFromMessage(Message{ID: "m1", ChatID: "c1", SenderID: "u2", SenderName: "  ", Content: "hi", Timestamp: 100})
	if n.SenderName != "Unknown" {
		t.Fatalf("SenderName = %q, want Unknown", n.SenderName)
	}
	if n.ID != "m1" || n.ChatID != "c1" || n.Preview != "hi" || n.Timestamp != 100 {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

func TestPreferencesWireNames(t *testing.T) {
	t.Parallel()
	var p Preferences
	raw := `{"showInAppNotifications":true,"playNotificationSounds":false,"vibrateOnNotification":true}`
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.ShowInApp || p.PlaySounds || !p.Vibrate {
		t.Fatalf("decoded %+v from %s", p, raw)
	}
}
