// ABOUTME: Retry task persistence for SQLite
// ABOUTME: Implements enqueue, claim, completion, and dead-letter operations
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/constella-app/vecbridge/internal/models"
)

// TaskStore handles retry task persistence
type TaskStore struct {
	db *DB
}

// NewTaskStore creates a new TaskStore
func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

// Enqueue persists a task. Re-enqueueing the same id is an upsert so an
// at-least-once producer cannot duplicate rows.
func (s *TaskStore) Enqueue(task *models.RetryTask) error {
	payload, err := task.MarshalPayload()
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO retry_tasks (id, tenant_name, record_key, kind, payload,
			attempts, next_attempt_at, created_at, state, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			attempts = excluded.attempts,
			next_attempt_at = excluded.next_attempt_at,
			state = excluded.state,
			last_error = excluded.last_error
	`, task.ID, task.TenantName, task.RecordKey, string(task.Kind), string(payload),
		task.Attempts, task.NextAttemptAt.UTC(), task.CreatedAt.UTC(),
		string(task.State), task.LastError)
	if err != nil {
		return fmt.Errorf("failed to enqueue retry task: %w", err)
	}
	return nil
}

// ClaimDue atomically flips up to limit due pending tasks to inflight and
// returns them ordered by creation time. The claim keeps concurrent
// drainers from picking the same rows; idempotent application covers the
// rare overlap after a crashed drainer's tasks are released.
func (s *TaskStore) ClaimDue(now time.Time, limit int) ([]*models.RetryTask, error) {
	rows, err := s.db.Query(`
		UPDATE retry_tasks
		SET state = 'inflight'
		WHERE id IN (
			SELECT id FROM retry_tasks
			WHERE state = 'pending' AND next_attempt_at <= ?
			ORDER BY created_at
			LIMIT ?
		)
		RETURNING id, tenant_name, record_key, kind, payload,
			attempts, next_attempt_at, created_at, state, last_error
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// Complete removes a successfully applied task
func (s *TaskStore) Complete(id string) error {
	_, err := s.db.Exec(`DELETE FROM retry_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to complete retry task: %w", err)
	}
	return nil
}

// Fail records a failed attempt. The task returns to pending with the
// given next attempt time, or moves to dead once attempts reach
// maxAttempts. Dead rows are retained for reconciliation, never deleted.
func (s *TaskStore) Fail(id string, cause error, nextAttemptAt time.Time, maxAttempts int) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.Exec(`
		UPDATE retry_tasks
		SET attempts = attempts + 1,
			next_attempt_at = ?,
			last_error = ?,
			state = CASE WHEN attempts + 1 >= ? THEN 'dead' ELSE 'pending' END
		WHERE id = ?
	`, nextAttemptAt.UTC(), msg, maxAttempts, id)
	if err != nil {
		return fmt.Errorf("failed to record task failure: %w", err)
	}
	return nil
}

// Release returns inflight tasks to pending. Called on drainer shutdown so
// a crash mid-batch does not strand claimed work.
func (s *TaskStore) Release() error {
	_, err := s.db.Exec(`UPDATE retry_tasks SET state = 'pending' WHERE state = 'inflight'`)
	if err != nil {
		return fmt.Errorf("failed to release inflight tasks: %w", err)
	}
	return nil
}

// ReleaseTask returns one inflight task to pending without counting an
// attempt. Used for tasks held back because an earlier task on the same
// ordering key failed.
func (s *TaskStore) ReleaseTask(id string) error {
	_, err := s.db.Exec(`UPDATE retry_tasks SET state = 'pending' WHERE id = ? AND state = 'inflight'`, id)
	if err != nil {
		return fmt.Errorf("failed to release task: %w", err)
	}
	return nil
}

// PendingForKey reports whether older pending or inflight tasks exist for
// the same ordering key. Used to keep per-key submission order.
func (s *TaskStore) PendingForKey(tenant, recordKey string, createdBefore time.Time) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM retry_tasks
		WHERE tenant_name = ? AND record_key = ? AND state != 'dead' AND created_at < ?
	`, tenant, recordKey, createdBefore.UTC()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check pending tasks for key: %w", err)
	}
	return count > 0, nil
}

// DeadLetters returns dead-lettered tasks, newest first. An empty tenant
// returns all tenants.
func (s *TaskStore) DeadLetters(tenant string, limit int) ([]*models.RetryTask, error) {
	query := `
		SELECT id, tenant_name, record_key, kind, payload,
			attempts, next_attempt_at, created_at, state, last_error
		FROM retry_tasks
		WHERE state = 'dead'`
	args := []interface{}{}
	if tenant != "" {
		query += ` AND tenant_name = ?`
		args = append(args, tenant)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// Requeue moves a dead-lettered task back to pending with a fresh attempt
// budget. Used by manual reconciliation.
func (s *TaskStore) Requeue(id string) error {
	res, err := s.db.Exec(`
		UPDATE retry_tasks
		SET state = 'pending', attempts = 0, next_attempt_at = ?, last_error = ''
		WHERE id = ? AND state = 'dead'
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to requeue task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no dead-lettered task with id %s", id)
	}
	return nil
}

// Depth returns task counts by state
func (s *TaskStore) Depth() (pending, inflight, dead int, err error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM retry_tasks GROUP BY state`)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return 0, 0, 0, err
		}
		switch models.TaskState(state) {
		case models.TaskPending:
			pending = count
		case models.TaskInFlight:
			inflight = count
		case models.TaskDeadLettered:
			dead = count
		}
	}
	return pending, inflight, dead, rows.Err()
}

func scanTasks(rows *sql.Rows) ([]*models.RetryTask, error) {
	var tasks []*models.RetryTask
	for rows.Next() {
		var (
			task      models.RetryTask
			kind      string
			payload   string
			state     string
			lastError sql.NullString
		)
		if err := rows.Scan(&task.ID, &task.TenantName, &task.RecordKey, &kind, &payload,
			&task.Attempts, &task.NextAttemptAt, &task.CreatedAt, &state, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan retry task: %w", err)
		}
		task.Kind = models.TaskKind(kind)
		task.State = models.TaskState(state)
		if lastError.Valid {
			task.LastError = lastError.String
		}
		if err := task.UnmarshalPayload([]byte(payload)); err != nil {
			return nil, err
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}
