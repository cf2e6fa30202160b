// Package store provides storage backends for leadqual.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/convoflow/leadqual/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists messages and onboarding sessions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres store ready")
	return &PostgresStore{db: db}, nil
}

// Messages returns the session's messages ordered by creation time.
func (s *PostgresStore) Messages(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at, followup_type, bant_dimension, buttons_json
		 FROM messages WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		slog.Error("PostgresStore Messages query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query messages for %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// AppendMessage validates and inserts a message.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	msg, args, err := messageInsertArgs(msg)
	if err != nil {
		return models.Message{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at, followup_type, bant_dimension, buttons_json)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, args...)
	if err != nil {
		slog.Error("PostgresStore AppendMessage failed", "error", err, "sessionID", msg.SessionID)
		return models.Message{}, fmt.Errorf("failed to insert message for %s: %w", msg.SessionID, err)
	}
	slog.Debug("PostgresStore AppendMessage succeeded", "sessionID", msg.SessionID, "role", msg.Role)
	return msg, nil
}

// OnboardingSession returns the stored session or nil when absent.
func (s *PostgresStore) OnboardingSession(ctx context.Context, sessionID string) (*models.OnboardingSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_json FROM onboarding_sessions WHERE session_id = $1`, sessionID)
	return scanOnboardingSession(row, sessionID)
}

// SaveOnboardingSession upserts the session row.
func (s *PostgresStore) SaveOnboardingSession(ctx context.Context, session *models.OnboardingSession) error {
	data, err := session.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize onboarding session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO onboarding_sessions (session_id, session_json, status, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO UPDATE SET session_json = EXCLUDED.session_json,
		 status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		session.SessionID, data, string(session.Status), session.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveOnboardingSession failed", "error", err, "sessionID", session.SessionID)
		return fmt.Errorf("failed to save onboarding session %s: %w", session.SessionID, err)
	}
	slog.Debug("PostgresStore SaveOnboardingSession succeeded", "sessionID", session.SessionID, "status", session.Status)
	return nil
}

// PatchOnboardingStatus updates the session's status fields in place.
func (s *PostgresStore) PatchOnboardingStatus(ctx context.Context, sessionID string, patch models.OnboardingStatusPatch) error {
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
