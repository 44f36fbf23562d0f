// Package source holds the types shared by the unread message stores.
//
// A store keeps users, two-party chats and messages, and answers the unread
// query the notification pipeline subscribes to.
package source

import (
	"errors"
	"strings"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrChatNotFound   = errors.New("chat not found")
	ErrNotParticipant = errors.New("user is not a participant in this chat")
	ErrClosed         = errors.New("source closed")
)

// Message delivery states.
const (
	StatusSent = "sent"
	StatusRead = "read"
)

// User is a chat participant.
type User struct {
	ID        string `db:"id" json:"id"`
	FirstName string `db:"first_name" json:"firstName"`
	LastName  string `db:"last_name" json:"lastName"`
	AvatarURL string `db:"avatar_url" json:"profileImageUrl,omitempty"`
	CreatedAt int64  `db:"created_at" json:"createdAt"`
}

// DisplayName joins first and last name.
func (u User) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// Chat is a conversation between participants.
type Chat struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	CreatedAt    int64    `json:"createdAt"`
}

// Has reports whether userID participates in the chat.
func (c Chat) Has(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
