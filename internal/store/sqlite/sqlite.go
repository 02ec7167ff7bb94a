// Package sqlite implements store.Store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirecall/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS calls (
	id              TEXT PRIMARY KEY,
	caller_user_id  TEXT NOT NULL,
	callee_user_id  TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	is_video_call   INTEGER NOT NULL DEFAULT 0,
	is_group_call   INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	started_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ended_at        TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_calls_caller ON calls(caller_user_id, started_at);
CREATE INDEX IF NOT EXISTS idx_calls_callee ON calls(callee_user_id, started_at);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, id, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (id, username, password_hash)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, username, passwordHash); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== CallStore implementation ====

// CreateCall records a new call session.
func (s *SQLiteStore) CreateCall(ctx context.Context, rec *store.CallRecord) error {
	query := `
		INSERT INTO calls (id, caller_user_id, callee_user_id, conversation_id,
			is_video_call, is_group_call, status, reason, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.CallerUserID,
		rec.CalleeUserID,
		rec.ConversationID,
		rec.IsVideoCall,
		rec.IsGroupCall,
		rec.Status,
		rec.Reason,
		startedAt,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// UpdateCallStatus updates the status (and optional reason) of a call.
func (s *SQLiteStore) UpdateCallStatus(ctx context.Context, id, status, reason string, endedAt *time.Time) error {
	query := `
		UPDATE calls
		SET status = ?, reason = ?, ended_at = COALESCE(?, ended_at)
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, status, reason, endedAt, id)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetCall retrieves a call by ID.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*store.CallRecord, error) {
	query := `
		SELECT id, caller_user_id, callee_user_id, conversation_id,
			is_video_call, is_group_call, status, reason, started_at, ended_at
		FROM calls
		WHERE id = ?
	`
	var rec store.CallRecord
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.CallerUserID,
		&rec.CalleeUserID,
		&rec.ConversationID,
		&rec.IsVideoCall,
		&rec.IsGroupCall,
		&rec.Status,
		&rec.Reason,
		&rec.StartedAt,
		&rec.EndedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query call: %w", err)
	}
	return &rec, nil
}

// ListCallsForUser lists the most recent calls a user took part in.
func (s *SQLiteStore) ListCallsForUser(ctx context.Context, userID string, limit int) ([]*store.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, caller_user_id, callee_user_id, conversation_id,
			is_video_call, is_group_call, status, reason, started_at, ended_at
		FROM calls
		WHERE caller_user_id = ? OR callee_user_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var recs []*store.CallRecord
	for rows.Next() {
		var rec store.CallRecord
		err := rows.Scan(
			&rec.ID,
			&rec.CallerUserID,
			&rec.CalleeUserID,
			&rec.ConversationID,
			&rec.IsVideoCall,
			&rec.IsGroupCall,
			&rec.Status,
			&rec.Reason,
			&rec.StartedAt,
			&rec.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return recs, nil
}
