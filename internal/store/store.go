// Package store provides storage backends for leadqual.
//
// It includes an in-memory store for tests and development plus SQLite and
// PostgreSQL backends for persistent deployments.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/leadqual/internal/models"
)

// Store is the persistence interface the engine and onboarding machine use.
// Messages are append-only; onboarding sessions are patched in place.
type Store interface {
	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
	AppendMessage(ctx context.Context, msg models.Message) (models.Message, error)
	OnboardingSession(ctx context.Context, sessionID string) (*models.OnboardingSession, error)
	SaveOnboardingSession(ctx context.Context, session *models.OnboardingSession) error
	PatchOnboardingStatus(ctx context.Context, sessionID string, patch models.OnboardingStatusPatch) error
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database DSN.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore keeps everything in process memory. Safe for concurrent use.
type InMemoryStore struct {
	mu         sync.RWMutex
	messages   map[string][]models.Message
	onboarding map[string]models.OnboardingSession
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		messages:   make(map[string][]models.Message),
		onboarding: make(map[string]models.OnboardingSession),
	}
}

// Messages returns the session's messages ordered by creation time.
func (s *InMemoryStore) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := append([]models.Message(nil), s.messages[sessionID]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

// AppendMessage validates and stores a message, assigning an ID and timestamp
// when missing.
func (s *InMemoryStore) AppendMessage(_ context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return msg, nil
}

// OnboardingSession returns the stored session or nil when absent.
func (s *InMemoryStore) OnboardingSession(_ context.Context, sessionID string) (*models.OnboardingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.onboarding[sessionID]; ok {
		copied := sess
		return &copied, nil
	}
	return nil, nil
}

// SaveOnboardingSession upserts the session row.
func (s *InMemoryStore) SaveOnboardingSession(_ context.Context, session *models.OnboardingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onboarding[session.SessionID] = *session
	return nil
}

// PatchOnboardingStatus updates the session's status fields in place. Absent
// sessions are an error; a patch has nothing to create.
func (s *InMemoryStore) PatchOnboardingStatus(_ context.Context, sessionID string, patch models.OnboardingStatusPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.onboarding[sessionID]
	if !ok {
		return fmt.Errorf("onboarding session %s not found", sessionID)
	}
	applyStatusPatch(&sess, patch)
	s.onboarding[sessionID] = sess
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
