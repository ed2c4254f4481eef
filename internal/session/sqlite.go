// Package session provides storage backends for Curumim conversation sessions.
//
// This file implements an SQLite-backed session store.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/angelia-ai/curumim/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite session store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetOrCreate returns the stored session or initializes a fresh one.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, senderID string) (models.Session, error) {
	if senderID == "" {
		return models.Session{}, models.ErrEmptySender
	}

	query := `SELECT sender_id, stage, interaction_mode, metadata, tasks_queue, created_at, updated_at
			  FROM sessions WHERE sender_id = ?`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, senderID))
	if err == sql.ErrNoRows {
		sess = models.NewSession(senderID)
		if err := s.Save(ctx, sess); err != nil {
			return models.Session{}, err
		}
		slog.Debug("SQLiteStore created session", "sender", senderID)
		return sess, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetOrCreate failed", "error", err, "sender", senderID)
		return models.Session{}, fmt.Errorf("failed to load session for %s: %w", senderID, err)
	}
	return sess, nil
}

// Save stores or updates the session record.
func (s *SQLiteStore) Save(ctx context.Context, session models.Session) error {
	if session.SenderID == "" {
		return models.ErrEmptySender
	}

	metadataJSON, queueJSON, err := marshalSessionColumns(session)
	if err != nil {
		slog.Error("SQLiteStore Save marshal failed", "error", err, "sender", session.SenderID)
		return err
	}

	query := `
		INSERT OR REPLACE INTO sessions (sender_id, stage, interaction_mode, metadata, tasks_queue, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, session.SenderID, string(session.Stage), string(session.Mode),
		metadataJSON, queueJSON, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore Save failed", "error", err, "sender", session.SenderID, "stage", session.Stage)
		return fmt.Errorf("failed to save session for %s: %w", session.SenderID, err)
	}
	slog.Debug("SQLiteStore Save succeeded", "sender", session.SenderID, "stage", session.Stage)
	return nil
}

// Reset replaces the sender's session with a fresh record.
func (s *SQLiteStore) Reset(ctx context.Context, senderID string) (models.Session, error) {
	if senderID == "" {
		return models.Session{}, models.ErrEmptySender
	}
	sess := models.NewSession(senderID)
	if err := s.Save(ctx, sess); err != nil {
		return models.Session{}, err
	}
	slog.Debug("SQLiteStore reset session", "sender", senderID)
	return sess, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
