// Package session provides storage backends for Curumim conversation sessions.
//
// This file implements a PostgreSQL-backed session store.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/angelia-ai/curumim/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres session store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure the sessions table exists
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// GetOrCreate returns the stored session or initializes a fresh one.
func (s *PostgresStore) GetOrCreate(ctx context.Context, senderID string) (models.Session, error) {
	if senderID == "" {
		return models.Session{}, models.ErrEmptySender
	}

	query := `SELECT sender_id, stage, interaction_mode, metadata, tasks_queue, created_at, updated_at
			  FROM sessions WHERE sender_id = $1`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, senderID))
	if err == sql.ErrNoRows {
		sess = models.NewSession(senderID)
		if err := s.Save(ctx, sess); err != nil {
			return models.Session{}, err
		}
		slog.Debug("PostgresStore created session", "sender", senderID)
		return sess, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetOrCreate failed", "error", err, "sender", senderID)
		return models.Session{}, fmt.Errorf("failed to load session for %s: %w", senderID, err)
	}
	return sess, nil
}

// Save stores or updates the session record.
func (s *PostgresStore) Save(ctx context.Context, session models.Session) error {
	if session.SenderID == "" {
		return models.ErrEmptySender
	}

	metadataJSON, queueJSON, err := marshalSessionColumns(session)
	if err != nil {
		slog.Error("PostgresStore Save marshal failed", "error", err, "sender", session.SenderID)
		return err
	}

	query := `
		INSERT INTO sessions (sender_id, stage, interaction_mode, metadata, tasks_queue, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sender_id) DO UPDATE SET
			stage = EXCLUDED.stage,
			interaction_mode = EXCLUDED.interaction_mode,
			metadata = EXCLUDED.metadata,
			tasks_queue = EXCLUDED.tasks_queue,
			updated_at = EXCLUDED.updated_at`
	_, err = s.db.ExecContext(ctx, query, session.SenderID, string(session.Stage), string(session.Mode),
		metadataJSON, nilIfEmpty(queueJSON), session.CreatedAt, session.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore Save failed", "error", err, "sender", session.SenderID, "stage", session.Stage)
		return fmt.Errorf("failed to save session for %s: %w", session.SenderID, err)
	}
	slog.Debug("PostgresStore Save succeeded", "sender", session.SenderID, "stage", session.Stage)
	return nil
}

// Reset replaces the sender's session with a fresh record.
func (s *PostgresStore) Reset(ctx context.Context, senderID string) (models.Session, error) {
	if senderID == "" {
		return models.Session{}, models.ErrEmptySender
	}
	sess := models.NewSession(senderID)
	if err := s.Save(ctx, sess); err != nil {
		return models.Session{}, err
	}
	slog.Debug("PostgresStore reset session", "sender", senderID)
	return sess, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
