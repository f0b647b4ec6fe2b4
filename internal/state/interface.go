package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// RunStore handles run-related persistence operations.
type RunStore interface {
	CreateRun(r *Run) error
	UpdateRunCounts(id string, completed, failed, pending int) error
	FinishRun(id string, status RunStatus, finishedAt time.Time) error
	GetRun(id string) (*Run, error)
	LatestRun() (*Run, error)
}

// TaskSnapshotStore handles task snapshots of a run.
type TaskSnapshotStore interface {
	SaveTasks(runID string, tasks []*models.Task) error
	TasksForRun(runID string) ([]*models.Task, error)
}

// ContextStore persists the shared context entries.
type ContextStore interface {
	ReplaceContext(data map[string][]models.ContextEntry) error
	LoadContext() (map[string][]models.ContextEntry, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// StateStore composes every persistence concern of a project database.
type StateStore interface {
	io.Closer
	Migrator
	RunStore
	TaskSnapshotStore
	ContextStore
}

var (
	_ StateStore        = (*DB)(nil)
	_ RunStore          = (*DB)(nil)
	_ TaskSnapshotStore = (*DB)(nil)
	_ ContextStore      = (*DB)(nil)
)
