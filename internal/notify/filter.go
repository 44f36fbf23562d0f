package notify

import "chatnotify/internal/model"

// Reason explains why a message was not eligible.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonOwnMessage Reason = "own_message"
	ReasonDisabled   Reason = "disabled"
	ReasonActiveChat Reason = "active_chat"
	ReasonMuted      Reason = "muted"
)

// FilterContext is the state a message is judged against.
type FilterContext struct {
	UserID       string
	ActiveChatID string
	Muted        map[string]struct{}
	Prefs        model.Preferences
}

// Eligible reports whether msg should produce an in-app notification.
// Checks run in a fixed order and the first failing one names the reason.
func Eligible(msg model.Message, fc FilterContext) (bool, Reason) {
	if msg.SenderID == fc.UserID {
		return false, ReasonOwnMessage
	}
	if !fc.Prefs.ShowInApp {
		return false, ReasonDisabled
	}
	if fc.ActiveChatID != "" && msg.ChatID == fc.ActiveChatID {
		return false, ReasonActiveChat
	}
	if _, ok := fc.Muted[msg.ChatID]; ok {
		return false, ReasonMuted
	}
	return true, ReasonNone
}
