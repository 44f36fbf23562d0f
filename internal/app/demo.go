package app

import (
	"context"
	"fmt"
	"time"

	"chatnotify/internal/notify"
	"chatnotify/internal/source/memstore"
	"chatnotify/internal/toast"
	logx "chatnotify/pkg/logx"
)

type contact struct {
	first, last string
	lines       []string
}

var demoContacts = []contact{
	{first: "Ava", last: "Moreno", lines: []string{"are we still on for lunch?", "running 10 min late", "ok see you there"}},
	{first: "Ben", last: "Okafor", lines: []string{"pushed the fix, can you take a look when you get a chance? no rush", "thanks!"}},
	{first: "Chen", last: "Liu", lines: []string{"📷 photo", "look at this view", "wish you were here"}},
}

// simulator feeds the in-process store with chat traffic so the pipeline
// can be watched end to end without a backend. Every fourth message it taps
// the visible toast (opening that chat), and every sixth it leaves the chat.
type simulator struct {
	store *memstore.Store
	me    string
	toast *toast.Presenter
	notif *notify.Service
	every time.Duration
	log   logx.Logger

	senders []string
	chats   []string
	sent    int
}

func newSimulator(st *memstore.Store, me string, p *toast.Presenter, n *notify.Service, every time.Duration, log logx.Logger) *simulator {
	return &simulator{store: st, me: me, toast: p, notif: n, every: every, log: log}
}

func (s *simulator) seed() error {
	if s.store == nil {
		return fmt.Errorf("demo needs the memory source")
	}
	for _, c := range demoContacts {
		id := s.store.CreateUser(c.first, c.last, "")
		chatID, err := s.store.CreateChat(s.me, id)
		if err != nil {
			return err
		}
		s.senders = append(s.senders, id)
		s.chats = append(s.chats, chatID)
	}
	s.log.Info("demo seeded", logx.Int("contacts", len(s.senders)), logx.Duration("every", s.every))
	return nil
}

func (s *simulator) run(ctx context.Context) error {
	t := time.NewTicker(s.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := s.step(); err != nil {
				return err
			}
		}
	}
}

func (s *simulator) step() error {
	i := s.sent % len(s.senders)
	c := demoContacts[i]
	line := c.lines[(s.sent/len(s.senders))%len(c.lines)]
	s.sent++

	if _, err := s.store.SendMessage(s.chats[i], s.senders[i], line); err != nil {
		return fmt.Errorf("demo send: %w", err)
	}
	switch {
	case s.sent%6 == 0:
		s.log.Debug("demo leaves chat", logx.String("chat_id", s.notif.ActiveChat()))
		s.notif.SetActiveChat("")
	case s.sent%4 == 0:
		s.toast.Press(func(chatID string) {
			s.log.Debug("demo opens chat", logx.String("chat_id", chatID))
			s.notif.SetActiveChat(chatID)
		})
	}
	return nil
}
