package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/harrison/conductor/internal/errors"
	"github.com/harrison/conductor/internal/models"
)

// CreateRun inserts a new run for taskID, assigning run_number = max(existing)+1
// atomically inside the transaction (invariant 1: contiguous run numbers).
func (s *Store) CreateRun(ctx context.Context, taskID, workerID, phase string) (string, error) {
	id := uuid.NewString()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var maxRun sql.NullInt64
		if err := tx.QueryRowContext(ctx, "SELECT MAX(run_number) FROM runs WHERE task_id = ?", taskID).Scan(&maxRun); err != nil {
			return err
		}
		runNumber := 1
		if maxRun.Valid {
			runNumber = int(maxRun.Int64) + 1
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, task_id, worker_id, run_number, status, phase, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, taskID, workerID, runNumber, models.RunStatusRunning, phase, time.Now().UTC())
		return err
	})
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindStore, "store", "create_run", err)
	}
	return id, nil
}

// UpdateRunStatusParams carries the optional fields update_run_status may set.
type UpdateRunStatusParams struct {
	Phase        *string
	ResultData   *models.RunResult
	ErrorMessage *string
	OutputLog    *string
	Transcript   *string
}

var terminalRunStatuses = map[string]bool{
	models.RunStatusSuccess:   true,
	models.RunStatusFailure:   true,
	models.RunStatusTimeout:   true,
	models.RunStatusCancelled: true,
}

// UpdateRunStatus updates a run's status and optional result fields,
// setting completed_at when the new status is terminal.
func (s *Store) UpdateRunStatus(ctx context.Context, runID, status string, p UpdateRunStatusParams) error {
	sets := []string{"status = ?"}
	args := []interface{}{status}

	if p.Phase != nil {
		sets = append(sets, "phase = ?")
		args = append(args, *p.Phase)
	}
	if p.ResultData != nil {
		data, err := json.Marshal(p.ResultData)
		if err != nil {
			return cerrors.Wrap(cerrors.KindStore, "store", "update_run_status", err)
		}
		sets = append(sets, "result_data = ?")
		args = append(args, string(data))
	}
	if p.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *p.ErrorMessage)
	}
	if p.OutputLog != nil {
		sets = append(sets, "output_log = ?")
		args = append(args, *p.OutputLog)
	}
	if p.Transcript != nil {
		sets = append(sets, "transcript = ?")
		args = append(args, *p.Transcript)
	}
	if terminalRunStatuses[status] {
		sets = append(sets, "completed_at = ?")
		args = append(args, time.Now().UTC())
	}

	query := "UPDATE runs SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, runID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "update_run_status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "update_run_status", err)
	}
	if n == 0 {
		return cerrors.ErrNotFound
	}
	return nil
}

// GetRun returns the run plus its synthesized Outcome (spec §4.1).
func (s *Store) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var r models.Run
	var (
		workerID, phase, resultDataJSON, errorMessage, outputLog, transcript sql.NullString
		completedAt                                                          sql.NullTime
	)

	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, worker_id, run_number, status, phase, started_at,
			completed_at, result_data, error_message, output_log, transcript
		FROM runs WHERE id = ?`, runID)

	err := row.Scan(&r.ID, &r.TaskID, &workerID, &r.RunNumber, &r.Status, &phase, &r.StartedAt,
		&completedAt, &resultDataJSON, &errorMessage, &outputLog, &transcript)
	if err == sql.ErrNoRows {
		return nil, cerrors.ErrNotFound
	}
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_run", err)
	}

	r.WorkerID = workerID.String
	r.Phase = phase.String
	r.ErrorMessage = errorMessage.String
	r.OutputLog = outputLog.String
	r.Transcript = transcript.String
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	if resultDataJSON.Valid && resultDataJSON.String != "" {
		if err := json.Unmarshal([]byte(resultDataJSON.String), &r.ResultData); err != nil {
			return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_run", err)
		}
	}
	return &r, nil
}

// GetRunsForTask lists every run of a task, ordered by run_number.
func (s *Store) GetRunsForTask(ctx context.Context, taskID string) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, worker_id, run_number, status, phase, started_at,
			completed_at, result_data, error_message, output_log, transcript
		FROM runs WHERE task_id = ? ORDER BY run_number ASC`, taskID)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_runs_for_task", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		var r models.Run
		var (
			workerID, phase, resultDataJSON, errorMessage, outputLog, transcript sql.NullString
			completedAt                                                          sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &workerID, &r.RunNumber, &r.Status, &phase, &r.StartedAt,
			&completedAt, &resultDataJSON, &errorMessage, &outputLog, &transcript); err != nil {
			return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_runs_for_task", err)
		}
		r.WorkerID = workerID.String
		r.Phase = phase.String
		r.ErrorMessage = errorMessage.String
		r.OutputLog = outputLog.String
		r.Transcript = transcript.String
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Time
		}
		if resultDataJSON.Valid && resultDataJSON.String != "" {
			if err := json.Unmarshal([]byte(resultDataJSON.String), &r.ResultData); err != nil {
				return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_runs_for_task", err)
			}
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// AverageCompletedRunDuration reports the mean wall-clock duration of the
// most recent limit completed runs (across all tasks), and how many runs
// that average is drawn from. Used by the `status -v` CLI command, which
// runs as its own short-lived process and so cannot read Queen's in-memory
// rolling average (internal/queen.Queen.AverageRunDuration) directly; this
// recomputes a comparable figure (a plain mean, not an EMA) straight from
// persisted run history.
func (s *Store) AverageCompletedRunDuration(ctx context.Context, limit int) (time.Duration, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT started_at, completed_at FROM runs
		WHERE completed_at IS NOT NULL
		ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return 0, 0, cerrors.Wrap(cerrors.KindStore, "store", "average_completed_run_duration", err)
	}
	defer rows.Close()

	var total time.Duration
	var n int
	for rows.Next() {
		var startedAt, completedAt time.Time
		if err := rows.Scan(&startedAt, &completedAt); err != nil {
			return 0, 0, cerrors.Wrap(cerrors.KindStore, "store", "average_completed_run_duration", err)
		}
		total += completedAt.Sub(startedAt)
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, 0, cerrors.Wrap(cerrors.KindStore, "store", "average_completed_run_duration", err)
	}
	if n == 0 {
		return 0, 0, nil
	}
	return total / time.Duration(n), n, nil
}

// GetLatestRun returns the most recent run for a task, or cerrors.ErrNotFound.
func (s *Store) GetLatestRun(ctx context.Context, taskID string) (*models.Run, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM runs WHERE task_id = ? ORDER BY run_number DESC LIMIT 1", taskID).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, cerrors.ErrNotFound
	}
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_latest_run", err)
	}
	return s.GetRun(ctx, runID)
}
