// Package store provides storage backends for leadqual.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/convoflow/leadqual/internal/models"
)

// DefaultDirPermissions defines the permissions for created database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists messages and onboarding sessions in a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite store for the given DSN (a file path).
// The parent directory is created if needed.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite store ready", "dsn", cfg.DSN)
	return &SQLiteStore{db: db}, nil
}

// Messages returns the session's messages ordered by creation time.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at, followup_type, bant_dimension, buttons_json
		 FROM messages WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore Messages query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query messages for %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// AppendMessage validates and inserts a message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	msg, args, err := messageInsertArgs(msg)
	if err != nil {
		return models.Message{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at, followup_type, bant_dimension, buttons_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		slog.Error("SQLiteStore AppendMessage failed", "error", err, "sessionID", msg.SessionID)
		return models.Message{}, fmt.Errorf("failed to insert message for %s: %w", msg.SessionID, err)
	}
	slog.Debug("SQLiteStore AppendMessage succeeded", "sessionID", msg.SessionID, "role", msg.Role)
	return msg, nil
}

// OnboardingSession returns the stored session or nil when absent.
func (s *SQLiteStore) OnboardingSession(ctx context.Context, sessionID string) (*models.OnboardingSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_json FROM onboarding_sessions WHERE session_id = ?`, sessionID)
	return scanOnboardingSession(row, sessionID)
}

// SaveOnboardingSession upserts the session row.
func (s *SQLiteStore) SaveOnboardingSession(ctx context.Context, session *models.OnboardingSession) error {
	data, err := session.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize onboarding session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO onboarding_sessions (session_id, session_json, status, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET session_json = excluded.session_json,
		 status = excluded.status, updated_at = excluded.updated_at`,
		session.SessionID, data, string(session.Status), session.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveOnboardingSession failed", "error", err, "sessionID", session.SessionID)
		return fmt.Errorf("failed to save onboarding session %s: %w", session.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveOnboardingSession succeeded", "sessionID", session.SessionID, "status", session.Status)
	return nil
}

// PatchOnboardingStatus updates the session's status fields in place.
func (s *SQLiteStore) PatchOnboardingStatus(ctx context.Context, sessionID string, patch models.OnboardingStatusPatch) error {
	session, err := s.OnboardingSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := patchStoredSession(session, sessionID, patch); err != nil {
		return err
	}
	return s.SaveOnboardingSession(ctx, session)
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
