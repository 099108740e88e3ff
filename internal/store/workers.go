package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	cerrors "github.com/harrison/conductor/internal/errors"
	"github.com/harrison/conductor/internal/models"
)

// RegisterWorker upserts a worker registration row.
func (s *Store) RegisterWorker(ctx context.Context, id, role string, capabilities []string, metadata map[string]interface{}) error {
	capsJSON, err := json.Marshal(capabilities)
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "register_worker", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "register_worker", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workers (id, role, status, last_heartbeat, capabilities, metadata, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			status = excluded.status,
			last_heartbeat = excluded.last_heartbeat,
			capabilities = excluded.capabilities,
			metadata = excluded.metadata`,
		id, role, models.WorkerStatusIdle, time.Now().UTC(), string(capsJSON), string(metaJSON), time.Now().UTC())
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "register_worker", err)
	}
	return nil
}

// UpdateWorkerHeartbeat refreshes a worker's last_heartbeat, and its status
// if a non-empty one is supplied.
func (s *Store) UpdateWorkerHeartbeat(ctx context.Context, id, status string) error {
	if status == "" {
		_, err := s.db.ExecContext(ctx, "UPDATE workers SET last_heartbeat = ? WHERE id = ?", time.Now().UTC(), id)
		if err != nil {
			return cerrors.Wrap(cerrors.KindStore, "store", "update_worker_heartbeat", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, "UPDATE workers SET last_heartbeat = ?, status = ? WHERE id = ?",
		time.Now().UTC(), status, id)
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "update_worker_heartbeat", err)
	}
	return nil
}

// GetWorker returns a worker registration by id.
func (s *Store) GetWorker(ctx context.Context, id string) (*models.Worker, error) {
	var w models.Worker
	var capsJSON, metaJSON sql.NullString
	var currentTaskID sql.NullString
	var lastHeartbeat sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, role, status, last_heartbeat, capabilities, current_task_id, metadata, registered_at
		FROM workers WHERE id = ?`, id).Scan(
		&w.ID, &w.Role, &w.Status, &lastHeartbeat, &capsJSON, &currentTaskID, &metaJSON, &w.RegisteredAt)
	if err == sql.ErrNoRows {
		return nil, cerrors.ErrNotFound
	}
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_worker", err)
	}

	w.CurrentTaskID = currentTaskID.String
	if lastHeartbeat.Valid {
		w.LastHeartbeat = lastHeartbeat.Time
	}
	if capsJSON.Valid && capsJSON.String != "" {
		json.Unmarshal([]byte(capsJSON.String), &w.Capabilities)
	}
	if metaJSON.Valid && metaJSON.String != "" {
		json.Unmarshal([]byte(metaJSON.String), &w.Metadata)
	}
	return &w, nil
}
