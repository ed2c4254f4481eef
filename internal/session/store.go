// Package session provides storage backends for Curumim conversation sessions.
//
// It includes an in-memory store for tests and single-process deployments,
// plus SQLite and PostgreSQL backed stores for durable state.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/angelia-ai/curumim/internal/models"
)

// Store is the session persistence contract consumed by the conversation
// engine. Implementations must be safe for concurrent use across senders;
// per-sender serialization is the caller's responsibility.
type Store interface {
	// GetOrCreate returns the session for a sender, creating a fresh one at
	// the initial stage if none exists yet.
	GetOrCreate(ctx context.Context, senderID string) (models.Session, error)

	// Save persists the session record wholesale.
	Save(ctx context.Context, session models.Session) error

	// Reset replaces the sender's session with a fresh record and returns it.
	Reset(ctx context.Context, senderID string) (models.Session, error)

	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for store constructors.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store constructors.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports the database driver implied by a DSN: "postgres" for
// PostgreSQL URLs or key-value DSNs, "sqlite3" for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore is a map-backed session store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

// NewInMemoryStore creates an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]models.Session)}
}

// GetOrCreate returns the stored session or initializes a fresh one.
func (s *InMemoryStore) GetOrCreate(ctx context.Context, senderID string) (models.Session, error) {
	if senderID == "" {
		return models.Session{}, models.ErrEmptySender
	}

	s.mu.RLock()
	sess, ok := s.sessions[senderID]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[senderID]; ok {
		return sess, nil
	}
	sess = models.NewSession(senderID)
	s.sessions[senderID] = sess
	slog.Debug("InMemoryStore created session", "sender", senderID)
	return sess, nil
}

// Save stores the session record wholesale.
func (s *InMemoryStore) Save(ctx context.Context, session models.Session) error {
	if session.SenderID == "" {
		return models.ErrEmptySender
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SenderID] = session
	return nil
}

// Reset replaces the sender's session with a fresh record.
func (s *InMemoryStore) Reset(ctx context.Context, senderID string) (models.Session, error) {
	if senderID == "" {
		return models.Session{}, models.ErrEmptySender
	}
	sess := models.NewSession(senderID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[senderID] = sess
	slog.Debug("InMemoryStore reset session", "sender", senderID)
	return sess, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
