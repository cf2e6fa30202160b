package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/leadqual/internal/models"
)

// Backend identifies a store backend type.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// DetectBackend inspects a DSN and returns the backend it belongs to.
// Postgres URLs and keyword DSNs are recognized; anything else is treated as
// a SQLite file path.
func DetectBackend(dsn string) Backend {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return BackendPostgres
	}
	for _, kw := range []string{"host=", "user=", "dbname="} {
		if strings.Contains(lower, kw) {
			return BackendPostgres
		}
	}
	return BackendSQLite
}

// NewStore opens the backend matching the DSN. An empty DSN yields the
// in-memory store.
func NewStore(dsn string) (Store, error) {
	if dsn == "" {
		return NewInMemoryStore(), nil
	}
	switch DetectBackend(dsn) {
	case BackendPostgres:
		return NewPostgresStore(WithDSN(dsn))
	default:
		return NewSQLiteStore(WithDSN(dsn))
	}
}

// messageInsertArgs validates the message, fills defaults, and returns the
// ordered column values shared by both SQL backends.
func messageInsertArgs(msg models.Message) (models.Message, []interface{}, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := msg.Validate(); err != nil {
		return models.Message{}, nil, err
	}
	var buttonsJSON interface{}
	if len(msg.Buttons) > 0 {
		data, err := json.Marshal(msg.Buttons)
		if err != nil {
			return models.Message{}, nil, fmt.Errorf("failed to encode buttons: %w", err)
		}
		buttonsJSON = string(data)
	}
	args := []interface{}{
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.CreatedAt,
		nilIfEmpty(string(msg.FollowupType)), nilIfEmpty(string(msg.BantDimension)), buttonsJSON,
	}
	return msg, args, nil
}

// scanMessages reads message rows shared by both SQL backends.
func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var followupType, bantDimension, buttonsJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt,
			&followupType, &bantDimension, &buttonsJSON); err != nil {
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		m.FollowupType = models.FollowupType(followupType.String)
		m.BantDimension = models.Dimension(bantDimension.String)
		if buttonsJSON.Valid && buttonsJSON.String != "" {
			if err := json.Unmarshal([]byte(buttonsJSON.String), &m.Buttons); err != nil {
				return nil, fmt.Errorf("decode buttons failed: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages failed: %w", err)
	}
	return msgs, nil
}

// scanOnboardingSession decodes a session row; a missing row yields (nil, nil).
func scanOnboardingSession(row *sql.Row, sessionID string) (*models.OnboardingSession, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load onboarding session %s: %w", sessionID, err)
	}
	var session models.OnboardingSession
	if err := session.FromJSON(data); err != nil {
		return nil, fmt.Errorf("failed to decode onboarding session %s: %w", sessionID, err)
	}
	return &session, nil
}

// applyStatusPatch rewrites the session's status fields and bumps UpdatedAt.
func applyStatusPatch(session *models.OnboardingSession, patch models.OnboardingStatusPatch) {
	if patch.Status != "" {
		session.Status = patch.Status
	}
	session.LastError = patch.LastError
	session.LastErrorHTTPStatus = patch.LastErrorHTTPStatus
	session.UpdatedAt = time.Now()
}

// patchStoredSession is the read-modify-write shared by both SQL backends:
// sessions live as JSON blobs, so a status patch rewrites the blob.
func patchStoredSession(session *models.OnboardingSession, sessionID string, patch models.OnboardingStatusPatch) error {
	if session == nil {
		return fmt.Errorf("onboarding session %s not found", sessionID)
	}
	applyStatusPatch(session, patch)
	return nil
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
