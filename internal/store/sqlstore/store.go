package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // Postgres driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/pliu/nwitter/internal/feed"
)

type SQLStore struct {
	db         *sql.DB
	driverName string
	feed       *feed.Broker
}

// New opens the database and creates the schema. broker may be nil, in
// which case changes are not published.
func New(driverName, dataSourceName string, broker *feed.Broker) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		// Every sqlite connection to ":memory:" is its own database, and
		// file databases allow a single writer anyway.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName, feed: broker}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL,
		password TEXT NOT NULL,
		avatar_path TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS password_resets (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		expires_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		expires_at BIGINT NOT NULL,
		revoked BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL REFERENCES users(id),
		author_name TEXT NOT NULL,
		body TEXT NOT NULL,
		attachment_path TEXT NOT NULL DEFAULT '',
		attachment_url TEXT NOT NULL DEFAULT '',
		quoted_post_id TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS posts_created_idx ON posts (created_at);
	CREATE INDEX IF NOT EXISTS posts_author_idx ON posts (author_id, created_at);

	CREATE TABLE IF NOT EXISTS engagements (
		kind TEXT NOT NULL,
		user_id TEXT NOT NULL,
		post_id TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (kind, user_id, post_id)
	);
	CREATE INDEX IF NOT EXISTS engagements_post_idx ON engagements (post_id, kind);

	CREATE TABLE IF NOT EXISTS chat_rooms (
		id TEXT PRIMARY KEY,
		created_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_participants (
		room_id TEXT NOT NULL REFERENCES chat_rooms(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		PRIMARY KEY (room_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS room_participants_user_idx ON room_participants (user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES chat_rooms(id),
		sender_id TEXT NOT NULL REFERENCES users(id),
		sender_name TEXT NOT NULL,
		body TEXT NOT NULL,
		attachment_path TEXT NOT NULL DEFAULT '',
		attachment_url TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS messages_room_idx ON messages (room_id, created_at);

	CREATE TABLE IF NOT EXISTS message_reads (
		message_id TEXT NOT NULL REFERENCES messages(id),
		user_id TEXT NOT NULL,
		PRIMARY KEY (message_id, user_id)
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return classify(op, tx.Commit())
}

// readTx runs fn in a read-only transaction so that all of its queries see
// the same state. sqlite runs it on the single connection, which keeps
// writers out until it ends.
func (s *SQLStore) readTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	var opts *sql.TxOptions
	if s.driverName == "postgres" {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return classify(op, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return classify(op, tx.Commit())
}

func (s *SQLStore) publish(topics ...string) {
	if s.feed != nil && len(topics) > 0 {
		s.feed.Publish(topics...)
	}
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return email
	}
	local, domain := parts[0], parts[1]
	length := len(local)
	visible := 1
	if length > 2 {
		visible = length / 2
		if visible > 3 {
			visible = 3
		}
	}

	maskedLocal := local[:visible] + strings.Repeat("*", length-visible)
	return maskedLocal + "@" + domain
}
