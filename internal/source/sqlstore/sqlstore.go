// Package sqlstore keeps chats in SQLite and serves the unread query by
// polling. A subscriber gets a snapshot only when the result changed.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"chatnotify/internal/model"
	"chatnotify/internal/source"
	"chatnotify/pkg/clock"
	logx "chatnotify/pkg/logx"
)

// Options configures Open.
type Options struct {
	Path         string
	PollInterval time.Duration
	BusyTimeout  time.Duration
	Clock        clock.Clock
	Log          logx.Logger
}

// Store is safe for concurrent use.
type Store struct {
	db       *sqlx.DB
	clock    clock.Clock
	log      logx.Logger
	interval time.Duration

	// tsMu keeps message timestamps strictly increasing.
	tsMu   sync.Mutex
	lastTS int64
}

type messageRow struct {
	ID              string `db:"id"`
	ChatID          string `db:"chat_id"`
	SenderID        string `db:"sender_id"`
	SenderFirst     string `db:"sender_first_name"`
	SenderLast      string `db:"sender_last_name"`
	SenderAvatarURL string `db:"sender_avatar_url"`
	Content         string `db:"content"`
	Timestamp       int64  `db:"timestamp"`
}

func (r messageRow) message() model.Message {
	return model.Message{
		ID:              r.ID,
		ChatID:          r.ChatID,
		SenderID:        r.SenderID,
		SenderName:      source.User{FirstName: r.SenderFirst, LastName: r.SenderLast}.DisplayName(),
		SenderAvatarURL: r.SenderAvatarURL,
		Content:         r.Content,
		Timestamp:       r.Timestamp,
	}
}

// Open opens (or creates) the database at opts.Path and applies pending
// migrations. ":memory:" is accepted for tests.
func Open(opts Options) (*Store, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, errors.New("sqlstore: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if opts.BusyTimeout > 0 {
		_, _ = db.Exec("PRAGMA busy_timeout = " + strconv.FormatInt(opts.BusyTimeout.Milliseconds(), 10))
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, clock: opts.Clock, log: opts.Log, interval: opts.PollInterval}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := db.Get(&s.lastTS, "SELECT COALESCE(MAX(timestamp), 0) FROM messages"); err != nil {
		db.Close()
		return nil, fmt.Errorf("reading last timestamp: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	current := 0
	var tables int
	if err := s.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"); err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateUser inserts a user and returns its id.
func (s *Store) CreateUser(ctx context.Context, firstName, lastName, avatarURL string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, first_name, last_name, avatar_url, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, strings.TrimSpace(firstName), strings.TrimSpace(lastName), strings.TrimSpace(avatarURL), s.clock.Now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting user: %w", err)
	}
	return id, nil
}

// User returns a user by id.
func (s *Store) User(ctx context.Context, id string) (source.User, error) {
	var u source.User
	err := s.db.GetContext(ctx, &u, `SELECT id, first_name, last_name, avatar_url, created_at FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return source.User{}, source.ErrUserNotFound
	}
	if err != nil {
		return source.User{}, fmt.Errorf("reading user: %w", err)
	}
	return u, nil
}

// CreateChat returns the chat between the two users, creating it if needed.
func (s *Store) CreateChat(ctx context.Context, userID, otherUserID string) (string, error) {
	for _, id := range []string{userID, otherUserID} {
		if _, err := s.User(ctx, id); err != nil {
			return "", fmt.Errorf("create chat: %w", err)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.GetContext(ctx, &existing, `
		SELECT a.chat_id FROM chat_participants a
		JOIN chat_participants b ON a.chat_id = b.chat_id
		WHERE a.user_id = ? AND b.user_id = ?
		LIMIT 1`, userID, otherUserID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("looking up chat: %w", err)
	}

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO chats (id, created_at) VALUES (?, ?)`, id, s.clock.Now().UnixMilli()); err != nil {
		return "", fmt.Errorf("inserting chat: %w", err)
	}
	for _, uid := range []string{userID, otherUserID} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES (?, ?)`, id, uid); err != nil {
			return "", fmt.Errorf("inserting participant: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing chat: %w", err)
	}
	return id, nil
}

func (s *Store) checkParticipant(ctx context.Context, q sqlx.QueryerContext, chatID, userID string) error {
	var chats int
	if err := sqlx.GetContext(ctx, q, &chats, `SELECT COUNT(*) FROM chats WHERE id = ?`, chatID); err != nil {
		return err
	}
	if chats == 0 {
		return source.ErrChatNotFound
	}
	var member int
	if err := sqlx.GetContext(ctx, q, &member, `SELECT COUNT(*) FROM chat_participants WHERE chat_id = ? AND user_id = ?`, chatID, userID); err != nil {
		return err
	}
	if member == 0 {
		return source.ErrNotParticipant
	}
	return nil
}

func (s *Store) nextTimestamp() int64 {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()
	ts := s.clock.Now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

// SendMessage stores a message from senderID in chatID.
func (s *Store) SendMessage(ctx context.Context, chatID, senderID, content string) (model.Message, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Message{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.checkParticipant(ctx, tx, chatID, senderID); err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	m := model.Message{ID: uuid.NewString(), ChatID: chatID, SenderID: senderID, Content: content, Timestamp: s.nextTimestamp()}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content, timestamp, status) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.Timestamp, source.StatusSent,
	); err != nil {
		return model.Message{}, fmt.Errorf("inserting message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET last_message_text = ?, last_message_time = ? WHERE id = ?`,
		content, m.Timestamp, chatID,
	); err != nil {
		return model.Message{}, fmt.Errorf("updating chat: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Message{}, fmt.Errorf("committing message: %w", err)
	}
	return m, nil
}

// Status returns the delivery status of a message.
func (s *Store) Status(ctx context.Context, messageID string) (string, error) {
	var st string
	err := s.db.GetContext(ctx, &st, `SELECT status FROM messages WHERE id = ?`, messageID)
	if err != nil {
		return "", err
	}
	return st, nil
}

// MarkRead implements notify.Source.
func (s *Store) MarkRead(ctx context.Context, chatID, userID string) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.checkParticipant(ctx, tx, chatID, userID); err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE chat_id = ? AND sender_id <> ? AND status = ?`,
		source.StatusRead, chatID, userID, source.StatusSent,
	)
	if err != nil {
		return 0, fmt.Errorf("updating messages: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing read receipts: %w", err)
	}
	return int(n), nil
}

// Unread runs the unread query once.
func (s *Store) Unread(ctx context.Context, userID string, after int64) ([]model.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT m.id, m.chat_id, m.sender_id, m.content, m.timestamp,
		       COALESCE(u.first_name, '') AS sender_first_name,
		       COALESCE(u.last_name, '') AS sender_last_name,
		       COALESCE(u.avatar_url, '') AS sender_avatar_url
		FROM messages m
		JOIN chat_participants p ON p.chat_id = m.chat_id AND p.user_id = ?
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.timestamp > ? AND m.sender_id <> ?
		ORDER BY m.timestamp ASC, m.rowid ASC`, userID, after, userID)
	if err != nil {
		return nil, fmt.Errorf("querying unread messages: %w", err)
	}
	out := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.message())
	}
	return out, nil
}

// Subscribe implements notify.Source by polling Unread. The first result is
// always delivered; later ones only when the set of (id, timestamp) pairs
// changed. A query error closes the channel.
func (s *Store) Subscribe(ctx context.Context, userID string, after func() int64) (<-chan []model.Message, error) {
	if after == nil {
		after = func() int64 { return 0 }
	}
	if _, err := s.User(ctx, userID); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	ch := make(chan []model.Message, 1)
	go func() {
		defer close(ch)
		t := time.NewTicker(s.interval)
		defer t.Stop()

		var (
			last uint64
			sent bool
		)
		for {
			msgs, err := s.Unread(ctx, userID, after())
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn("unread query failed", logx.String("user_id", userID), logx.Err(err))
				}
				return
			}
			if h := fingerprint(msgs); !sent || h != last {
				last, sent = h, true
				select {
				case <-ch:
				default:
				}
				ch <- msgs
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return ch, nil
}

func fingerprint(msgs []model.Message) uint64 {
	h := fnv.New64a()
	var buf [20]byte
	for _, m := range msgs {
		_, _ = h.Write([]byte(m.ID))
		_, _ = h.Write(strconv.AppendInt(buf[:0], m.Timestamp, 10))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
