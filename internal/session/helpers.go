package session

import (
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/angelia-ai/curumim/internal/models"
)

// marshalSessionColumns serializes the metadata and task queue to JSON for
// the nullable database columns shared by the SQLite and Postgres stores.
func marshalSessionColumns(session models.Session) (metadataJSON, queueJSON string, err error) {
	metaBytes, err := json.Marshal(session.Metadata)
	if err != nil {
		return "", "", err
	}
	metadataJSON = string(metaBytes)

	if len(session.TasksQueue) > 0 {
		queueBytes, err := json.Marshal(session.TasksQueue)
		if err != nil {
			return "", "", err
		}
		queueJSON = string(queueBytes)
	}
	return metadataJSON, queueJSON, nil
}

// scanSession scans a session row produced by the SQLite or Postgres store.
func scanSession(row *sql.Row) (models.Session, error) {
	var sess models.Session
	var stage, mode string
	var metadataJSON, queueJSON sql.NullString

	err := row.Scan(&sess.SenderID, &stage, &mode, &metadataJSON, &queueJSON,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return sess, err
	}
	sess.Stage = models.Stage(stage)
	sess.Mode = models.InteractionMode(mode)

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &sess.Metadata); err != nil {
			slog.Error("scanSession metadata unmarshal failed", "error", err, "sender", sess.SenderID)
			// Continue with empty metadata rather than failing
			sess.Metadata = models.Metadata{}
		}
	}
	if queueJSON.Valid && queueJSON.String != "" {
		if err := json.Unmarshal([]byte(queueJSON.String), &sess.TasksQueue); err != nil {
			slog.Error("scanSession tasks queue unmarshal failed", "error", err, "sender", sess.SenderID)
			sess.TasksQueue = nil
		}
	}
	return sess, nil
}
