// Package storage is the hot storage layer: a single Postgres table
// holding the latest state of every comment, written by the projector
// and read by the lookup API.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Postgres driver for database/sql.
	_ "github.com/lib/pq"

	"github.com/PablitoCBR/commenter/internal/comment"
)

// ErrNotFound reports a lookup for an id with no stored row.
var ErrNotFound = errors.New("storage: comment not found")

// Open connects to Postgres, verifies the connection and applies pool
// limits sized for the small write/read load of this system.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the comments table when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const ddl = `CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		text TEXT NOT NULL,
		state INTEGER NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("storage: ensure schema: %w", err)
	}
	return nil
}

// CommentStore reads and writes comment rows.
type CommentStore struct {
	db *sql.DB
}

// NewCommentStore wraps db.
func NewCommentStore(db *sql.DB) *CommentStore {
	return &CommentStore{db: db}
}

// Upsert writes c's latest state. On id conflict only text and state
// change; group_id keeps the value seen on first insert, so a comment
// can never migrate between groups through replays.
func (s *CommentStore) Upsert(ctx context.Context, c comment.Comment) error {
	const q = `INSERT INTO comments (id, group_id, text, state)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET text = EXCLUDED.text, state = EXCLUDED.state`
	if _, err := s.db.ExecContext(ctx, q, c.ID, c.GroupID, c.Text, int32(c.State)); err != nil {
		return fmt.Errorf("storage: upsert comment %q: %w", c.ID, err)
	}
	return nil
}

// Get returns the stored comment for id, or ErrNotFound.
func (s *CommentStore) Get(ctx context.Context, id string) (comment.Comment, error) {
	const q = `SELECT id, group_id, text, state FROM comments WHERE id = $1`

	var c comment.Comment
	var state int32
	err := s.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.GroupID, &c.Text, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return comment.Comment{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return comment.Comment{}, fmt.Errorf("storage: get comment %q: %w", id, err)
	}
	c.State = comment.State(state)
	return c, nil
}
