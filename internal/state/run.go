package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunStopped   RunStatus = "stopped"
	RunKilled    RunStatus = "killed"
)

// Run is one invocation of the orchestrator loop.
type Run struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Status         RunStatus  `json:"status"`
	MaxConcurrency int        `json:"max_concurrency"`
	Completed      int        `json:"completed"`
	Failed         int        `json:"failed"`
	Pending        int        `json:"pending"`
}

// CreateRun inserts a new run record.
func (db *DB) CreateRun(r *Run) error {
	_, err := db.Exec(`
		INSERT INTO runs (id, started_at, status, max_concurrency)
		VALUES (?, ?, ?, ?)
	`, r.ID, formatTime(r.StartedAt), string(r.Status), r.MaxConcurrency)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRunCounts records the latest task counts of a run.
func (db *DB) UpdateRunCounts(id string, completed, failed, pending int) error {
	_, err := db.Exec(`
		UPDATE runs SET completed = ?, failed = ?, pending = ? WHERE id = ?
	`, completed, failed, pending, id)
	if err != nil {
		return fmt.Errorf("update run counts: %w", err)
	}
	return nil
}

// FinishRun marks a run finished with the given status.
func (db *DB) FinishRun(id string, status RunStatus, finishedAt time.Time) error {
	_, err := db.Exec(`
		UPDATE runs SET status = ?, finished_at = ? WHERE id = ?
	`, string(status), formatTime(finishedAt), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns nil, nil if it does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, started_at, finished_at, status, max_concurrency, completed, failed, pending
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// LatestRun returns the most recently started run, or nil if there is none.
func (db *DB) LatestRun() (*Run, error) {
	row := db.QueryRow(`
		SELECT id, started_at, finished_at, status, max_concurrency, completed, failed, pending
		FROM runs ORDER BY started_at DESC LIMIT 1
	`)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*Run, error) {
	var r Run
	var startedAt string
	var finishedAt sql.NullString
	err := row.Scan(&r.ID, &startedAt, &finishedAt, &r.Status, &r.MaxConcurrency, &r.Completed, &r.Failed, &r.Pending)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	r.StartedAt, _ = parseTime(startedAt)
	r.FinishedAt = parseNullableTime(finishedAt)
	return &r, nil
}

// SaveTasks replaces the task snapshot of a run.
func (db *DB) SaveTasks(runID string, tasks []*models.Task) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM tasks WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("clear task snapshot: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO tasks (run_id, id, position, description, category, priority, status,
				dependencies, delegated_by, retries, error, created_at, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare task insert: %w", err)
		}
		defer stmt.Close()

		for i, t := range tasks {
			deps, err := json.Marshal(t.Dependencies)
			if err != nil {
				return fmt.Errorf("marshal dependencies of %s: %w", t.ID, err)
			}
			_, err = stmt.Exec(runID, t.ID, i, t.Description, string(t.Category), string(t.Priority),
				string(t.Status), string(deps), nullString(t.DelegatedBy), t.UnmetDependencyRetries,
				nullString(t.Error), formatTime(t.CreatedAt), formatNullableTime(t.StartedAt),
				formatNullableTime(t.CompletedAt))
			if err != nil {
				return fmt.Errorf("insert task %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// TasksForRun returns the task snapshot of a run in queue order.
func (db *DB) TasksForRun(runID string) ([]*models.Task, error) {
	rows, err := db.Query(`
		SELECT id, description, category, priority, status, dependencies, delegated_by,
			retries, error, created_at, started_at, completed_at
		FROM tasks WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var t models.Task
		var deps, delegatedBy, errText, startedAt, completedAt sql.NullString
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Description, &t.Category, &t.Priority, &t.Status, &deps,
			&delegatedBy, &t.UnmetDependencyRetries, &errText, &createdAt, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if deps.Valid && deps.String != "" && deps.String != "null" {
			if err := json.Unmarshal([]byte(deps.String), &t.Dependencies); err != nil {
				return nil, fmt.Errorf("unmarshal dependencies of %s: %w", t.ID, err)
			}
		}
		t.DelegatedBy = delegatedBy.String
		t.Error = errText.String
		t.CreatedAt, _ = parseTime(createdAt)
		t.StartedAt = parseNullableTime(startedAt)
		t.CompletedAt = parseNullableTime(completedAt)
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
