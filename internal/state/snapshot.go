package state

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// SnapshotStore is what a Snapshotter writes to.
type SnapshotStore interface {
	RunStore
	TaskSnapshotStore
}

// Snapshotter periodically writes the task list of a run. Snapshots are best
// effort: failures are logged and the next tick tries again.
type Snapshotter struct {
	store    SnapshotStore
	runID    string
	source   func() []*models.Task
	interval time.Duration
	logf     func(format string, args ...interface{})
}

// NewSnapshotter creates a snapshotter for runID reading tasks from source.
func NewSnapshotter(store SnapshotStore, runID string, source func() []*models.Task, interval time.Duration) *Snapshotter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Snapshotter{
		store:    store,
		runID:    runID,
		source:   source,
		interval: interval,
		logf:     log.Printf,
	}
}

// Save writes one snapshot now.
func (s *Snapshotter) Save() error {
	tasks := s.source()
	if err := s.store.SaveTasks(s.runID, tasks); err != nil {
		return fmt.Errorf("snapshot run %s: %w", s.runID, err)
	}

	var completed, failed, pending int
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
		case models.TaskStatusPending, models.TaskStatusRunning:
			pending++
		}
	}
	return s.store.UpdateRunCounts(s.runID, completed, failed, pending)
}

// Run saves a snapshot every interval until ctx is done, then saves once more.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Save(); err != nil {
				s.logf("[state] WARNING: final snapshot failed: %v", err)
			}
			return
		case <-ticker.C:
			if err := s.Save(); err != nil {
				s.logf("[state] WARNING: snapshot failed: %v", err)
			}
		}
	}
}
