package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/classroom-labs/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	maxRetries     = 3
	retryBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the HTTP handlers read while the discussion loop writes.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS discussions (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL DEFAULT '',
		kickoff TEXT NOT NULL,
		outcome TEXT NOT NULL,
		rounds INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_discussions_started ON discussions(started_at);
	CREATE INDEX IF NOT EXISTS idx_discussions_client ON discussions(client_id, started_at);

	CREATE TABLE IF NOT EXISTS utterances (
		discussion_id TEXT NOT NULL,
		round_index INTEGER NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (discussion_id, round_index)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateDiscussion records a newly started discussion.
func (s *SQLiteStore) CreateDiscussion(ctx context.Context, t *domain.Transcript) error {
	query := `
	INSERT INTO discussions (id, client_id, kickoff, outcome, rounds, started_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	return s.withRetry(ctx, "create discussion", func() error {
		_, err := s.db.ExecContext(ctx, query,
			t.ID, t.ClientID, t.Kickoff, string(t.Outcome), t.Rounds, t.StartedAt.UnixMilli(),
		)
		return err
	})
}

// AppendUtterance appends one utterance to a discussion's transcript.
func (s *SQLiteStore) AppendUtterance(ctx context.Context, discussionID string, u domain.Utterance) error {
	query := `
	INSERT INTO utterances (discussion_id, round_index, sender, content, created_at)
	VALUES (?, ?, ?, ?, ?)`

	return s.withRetry(ctx, "append utterance", func() error {
		_, err := s.db.ExecContext(ctx, query,
			discussionID, u.RoundIndex, u.Sender, u.Content, u.CreatedAt.UnixMilli(),
		)
		return err
	})
}

// FinishDiscussion stamps the outcome and end time of a discussion.
func (s *SQLiteStore) FinishDiscussion(ctx context.Context, discussionID string, outcome domain.Outcome, rounds int, endedAt time.Time) error {
	query := `UPDATE discussions SET outcome = ?, rounds = ?, ended_at = ? WHERE id = ?`

	var rows int64
	err := s.withRetry(ctx, "finish discussion", func() error {
		result, err := s.db.ExecContext(ctx, query, string(outcome), rounds, endedAt.UnixMilli(), discussionID)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("finish discussion %s: not found", discussionID)
	}
	return nil
}

// GetDiscussion retrieves a transcript with its utterances.
func (s *SQLiteStore) GetDiscussion(ctx context.Context, discussionID string) (*domain.Transcript, error) {
	query := `
		SELECT id, client_id, kickoff, outcome, rounds, started_at, ended_at
		FROM discussions WHERE id = ?`

	t, err := scanTranscript(s.db.QueryRowContext(ctx, query, discussionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan discussion row: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT round_index, sender, content, created_at
		FROM utterances WHERE discussion_id = ? ORDER BY round_index`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("query utterances: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close utterance rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var u domain.Utterance
		var createdAt int64
		if err := rows.Scan(&u.RoundIndex, &u.Sender, &u.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan utterance row: %w", err)
		}
		u.CreatedAt = time.UnixMilli(createdAt)
		t.Utterances = append(t.Utterances, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate utterances: %w", err)
	}

	return t, nil
}

// ListDiscussions returns transcripts without utterances, newest first.
func (s *SQLiteStore) ListDiscussions(ctx context.Context, opts ListOptions) ([]*domain.Transcript, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, client_id, kickoff, outcome, rounds, started_at, ended_at
		FROM discussions`
	args := []any{}
	if opts.ClientID != "" {
		query += ` WHERE client_id = ?`
		args = append(args, opts.ClientID)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query discussions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close discussion rows", "error", closeErr)
		}
	}()

	var out []*domain.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discussion row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discussions: %w", err)
	}
	return out, nil
}

// DeleteDiscussionsBefore removes discussions started before cutoff.
func (s *SQLiteStore) DeleteDiscussionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	threshold := cutoff.UnixMilli()

	var deleted int64
	err := s.withRetry(ctx, "delete discussions", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM utterances WHERE discussion_id IN (
				SELECT id FROM discussions WHERE started_at < ? AND outcome != ?
			)`, threshold, string(domain.OutcomeActive)); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			`DELETE FROM discussions WHERE started_at < ? AND outcome != ?`,
			threshold, string(domain.OutcomeActive))
		if err != nil {
			return err
		}
		if deleted, err = result.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	return deleted, err
}

// AbandonActive marks discussions still active as failed.
func (s *SQLiteStore) AbandonActive(ctx context.Context, endedAt time.Time) (int64, error) {
	var n int64
	err := s.withRetry(ctx, "abandon active discussions", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE discussions SET outcome = ?, ended_at = ? WHERE outcome = ?`,
			string(domain.OutcomeFailed), endedAt.UnixMilli(), string(domain.OutcomeActive))
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTranscript(row rowScanner) (*domain.Transcript, error) {
	var t domain.Transcript
	var outcome string
	var startedAt int64
	var endedAt sql.NullInt64

	if err := row.Scan(&t.ID, &t.ClientID, &t.Kickoff, &outcome, &t.Rounds, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	t.Outcome = domain.Outcome(outcome)
	t.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		ended := time.UnixMilli(endedAt.Int64)
		t.EndedAt = &ended
	}
	return &t, nil
}

// withRetry runs fn, retrying with exponential backoff (100ms, 200ms) while
// SQLite reports a busy or locked database.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := retryBaseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ Repository = (*SQLiteStore)(nil)
