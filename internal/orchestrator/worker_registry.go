package orchestrator

import (
	"sort"
	"sync"

	"github.com/ShayCichocki/hive/pkg/models"
)

// WorkerRegistry tracks the executions in flight. The run loop registers a
// worker when it dispatches a task and unregisters it once the result has
// been recorded, so Count is the number of occupied concurrency slots.
type WorkerRegistry struct {
	// workers maps worker IDs to execution records.
	workers map[string]*models.Worker
	// mu protects all fields.
	mu sync.RWMutex
}

// NewWorkerRegistry creates a new WorkerRegistry.
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{
		workers: make(map[string]*models.Worker),
	}
}

// Register adds a worker to the registry.
func (r *WorkerRegistry) Register(w *models.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.ID] = w
}

// Unregister removes a worker and returns it, or nil if it was not registered.
func (r *WorkerRegistry) Unregister(id string) *models.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return nil
	}
	delete(r.workers, id)
	return w
}

// All returns copies of all registered workers, oldest first.
func (r *WorkerRegistry) All() []*models.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workers := make([]*models.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		cp := *w
		workers = append(workers, &cp)
	}
	sort.Slice(workers, func(i, j int) bool {
		if workers[i].StartTime.Equal(workers[j].StartTime) {
			return workers[i].ID < workers[j].ID
		}
		return workers[i].StartTime.Before(workers[j].StartTime)
	})
	return workers
}

// RunningCategories returns the category of every registered worker, one
// entry per worker.
func (r *WorkerRegistry) RunningCategories() []models.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cats := make([]models.Category, 0, len(r.workers))
	for _, w := range r.workers {
		cats = append(cats, w.Category)
	}
	return cats
}

// Count returns the number of registered workers.
func (r *WorkerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
