// Package memstore is an in-memory reactive chat store.
//
// Every mutation re-runs the unread query for each live subscription and
// pushes the fresh result. A slow subscriber only ever sees the latest
// snapshot.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"chatnotify/internal/model"
	"chatnotify/internal/source"
	"chatnotify/pkg/clock"
	logx "chatnotify/pkg/logx"
)

type record struct {
	model.Message
	status string
}

type subscription struct {
	userID string
	after  func() int64
	ch     chan []model.Message
}

// Store is safe for concurrent use.
type Store struct {
	clock clock.Clock
	log   logx.Logger

	mu       sync.Mutex
	users    map[string]source.User
	chats    map[string]source.Chat
	messages []record
	subs     map[uint64]*subscription
	subSeq   uint64
	lastTS   int64
}

func New(clk clock.Clock, log logx.Logger) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		clock: clk,
		log:   log,
		users: map[string]source.User{},
		chats: map[string]source.Chat{},
		subs:  map[uint64]*subscription{},
	}
}

// CreateUser adds a user and returns its id.
func (s *Store) CreateUser(firstName, lastName, avatarURL string) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.users[id] = source.User{
		ID:        id,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		AvatarURL: strings.TrimSpace(avatarURL),
		CreatedAt: s.clock.Now().UnixMilli(),
	}
	s.mu.Unlock()
	return id
}

// User returns a user by id.
func (s *Store) User(id string) (source.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

// CreateChat returns the chat between the two users, creating it if needed.
func (s *Store) CreateChat(userID, otherUserID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return "", fmt.Errorf("create chat: %w", source.ErrUserNotFound)
	}
	if _, ok := s.users[otherUserID]; !ok {
		return "", fmt.Errorf("create chat: %w", source.ErrUserNotFound)
	}
	for _, c := range s.chats {
		if c.Has(userID) && c.Has(otherUserID) {
			return c.ID, nil
		}
	}
	id := uuid.NewString()
	s.chats[id] = source.Chat{ID: id, Participants: []string{userID, otherUserID}, CreatedAt: s.clock.Now().UnixMilli()}
	s.publishLocked()
	return id, nil
}

// SendMessage appends a message from senderID to chatID and returns it.
// Timestamps are strictly increasing within the store.
func (s *Store) SendMessage(chatID, senderID, content string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return model.Message{}, fmt.Errorf("send message: %w", source.ErrChatNotFound)
	}
	if !c.Has(senderID) {
		return model.Message{}, fmt.Errorf("send message: %w", source.ErrNotParticipant)
	}
	ts := s.clock.Now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	m := model.Message{ID: uuid.NewString(), ChatID: chatID, SenderID: senderID, Content: content, Timestamp: ts}
	s.messages = append(s.messages, record{Message: m, status: source.StatusSent})
	s.publishLocked()
	return s.decorateLocked(m), nil
}

// Status returns the delivery status of a message.
func (s *Store) Status(messageID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.messages {
		if r.ID == messageID {
			return r.status, true
		}
	}
	return "", false
}

// Subscribe implements notify.Source. The first snapshot is delivered
// immediately.
func (s *Store) Subscribe(ctx context.Context, userID string, after func() int64) (<-chan []model.Message, error) {
	if after == nil {
		after = func() int64 { return 0 }
	}
	s.mu.Lock()
	if _, ok := s.users[userID]; !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("subscribe: %w", source.ErrUserNotFound)
	}
	s.subSeq++
	id := s.subSeq
	sub := &subscription{userID: userID, after: after, ch: make(chan []model.Message, 1)}
	s.subs[id] = sub
	s.pushLocked(sub)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(sub.ch)
		s.mu.Unlock()
	}()
	return sub.ch, nil
}

// Unread runs the unread query once.
func (s *Store) Unread(userID string, after int64) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, source.ErrUserNotFound
	}
	return s.unreadLocked(userID, after), nil
}

// MarkRead flips other senders' sent messages in chatID to read and returns
// how many changed.
func (s *Store) MarkRead(ctx context.Context, chatID, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return 0, fmt.Errorf("mark read: %w", source.ErrChatNotFound)
	}
	if !c.Has(userID) {
		return 0, fmt.Errorf("mark read: %w", source.ErrNotParticipant)
	}
	n := 0
	msgs := make([]record, len(s.messages))
	copy(msgs, s.messages)
	for i := range msgs {
		r := &msgs[i]
		if r.ChatID == chatID && r.SenderID != userID && r.status == source.StatusSent {
			r.status = source.StatusRead
			n++
		}
	}
	s.messages = msgs
	if n > 0 {
		s.publishLocked()
	}
	return n, nil
}

func (s *Store) unreadLocked(userID string, after int64) []model.Message {
	out := make([]model.Message, 0)
	for _, r := range s.messages {
		if r.Timestamp <= after || r.SenderID == userID {
			continue
		}
		c, ok := s.chats[r.ChatID]
		if !ok || !c.Has(userID) {
			continue
		}
		out = append(out, s.decorateLocked(r.Message))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func (s *Store) decorateLocked(m model.Message) model.Message {
	if u, ok := s.users[m.SenderID]; ok {
		m.SenderName = u.DisplayName()
		m.SenderAvatarURL = u.AvatarURL
	}
	return m
}

func (s *Store) publishLocked() {
	for _, sub := range s.subs {
		s.pushLocked(sub)
	}
}

// pushLocked replaces any undelivered snapshot with a fresh one. Sends and
// close both happen under s.mu, so the channel is never written after close.
func (s *Store) pushLocked(sub *subscription) {
	snap := s.unreadLocked(sub.userID, sub.after())
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- snap:
	default:
		s.log.Warn("dropping unread snapshot", logx.String("user_id", sub.userID))
	}
}
