// Package plan loads YAML plan files: a list of tasks with categories,
// priorities and dependencies that is submitted to the orchestrator in one go.
//
//	tasks:
//	  - id: design
//	    description: Design the storage layer
//	    category: architect
//	    priority: high
//	  - id: build
//	    description: Implement the storage layer
//	    category: coder
//	    depends_on: [design]
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrCycleDetected is returned when plan dependencies form a cycle.
var ErrCycleDetected = errors.New("dependency cycle detected")

// Plan is a parsed plan file.
type Plan struct {
	Tasks []Entry `yaml:"tasks"`
}

// Entry is one task in a plan.
type Entry struct {
	ID          string   `yaml:"id,omitempty"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Priority    string   `yaml:"priority,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
}

// Submitter accepts tasks. *orchestrator.Orchestrator implements it.
type Submitter interface {
	Submit(task *models.Task) (string, error)
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates plan YAML. Unknown keys are errors so a
// misspelled depends_on cannot silently drop an ordering constraint.
func Parse(data []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("plan is empty")
		}
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every entry and the dependency graph. Dependencies must
// name tasks in the same plan.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return errors.New("plan has no tasks")
	}

	ids := make(map[string]bool, len(p.Tasks))
	for i, e := range p.Tasks {
		if e.ID == "" {
			continue
		}
		if ids[e.ID] {
			return fmt.Errorf("task %d: duplicate id %q", i+1, e.ID)
		}
		ids[e.ID] = true
	}

	for i, e := range p.Tasks {
		name := e.label(i)
		if _, ok := models.ParseCategory(e.Category); !ok {
			return fmt.Errorf("%s: unknown category %q", name, e.Category)
		}
		if _, ok := models.ParsePriority(e.Priority); !ok {
			return fmt.Errorf("%s: unknown priority %q", name, e.Priority)
		}
		for _, dep := range e.DependsOn {
			if dep == e.ID {
				return fmt.Errorf("%s: depends on itself: %w", name, ErrCycleDetected)
			}
			if !ids[dep] {
				return fmt.Errorf("%s: depends on unknown task %q", name, dep)
			}
		}
	}

	if cycle := p.findCycle(); cycle != "" {
		return fmt.Errorf("task %q: %w", cycle, ErrCycleDetected)
	}
	return nil
}

func (e Entry) label(i int) string {
	if e.ID != "" {
		return fmt.Sprintf("task %q", e.ID)
	}
	return fmt.Sprintf("task %d", i+1)
}

// findCycle returns a task on a dependency cycle, or "".
// Depth-first search with coloring; a gray neighbour is a back edge.
func (p *Plan) findCycle() string {
	edges := make(map[string][]string, len(p.Tasks))
	for _, e := range p.Tasks {
		if e.ID != "" {
			edges[e.ID] = e.DependsOn
		}
	}

	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(edges))

	var visit func(id string) string
	visit = func(id string) string {
		colors[id] = gray
		for _, dep := range edges[id] {
			switch colors[dep] {
			case gray:
				return dep
			case white:
				if found := visit(dep); found != "" {
					return found
				}
			}
		}
		colors[id] = black
		return ""
	}

	// Sorted for a deterministic error message.
	ids := make([]string, 0, len(edges))
	for id := range edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if colors[id] == white {
			if found := visit(id); found != "" {
				return found
			}
		}
	}
	return ""
}

// ToTasks converts the plan into tasks in file order.
func (p *Plan) ToTasks() []*models.Task {
	tasks := make([]*models.Task, 0, len(p.Tasks))
	for _, e := range p.Tasks {
		category, _ := models.ParseCategory(e.Category)
		priority, _ := models.ParsePriority(e.Priority)
		tasks = append(tasks, &models.Task{
			ID:           e.ID,
			Description:  e.Description,
			Category:     category,
			Priority:     priority,
			Dependencies: append([]string(nil), e.DependsOn...),
		})
	}
	return tasks
}

// Submit adds every task to s and returns their IDs. It stops at the first
// rejected task; tasks already submitted stay submitted.
func (p *Plan) Submit(s Submitter) ([]string, error) {
	ids := make([]string, 0, len(p.Tasks))
	for i, t := range p.ToTasks() {
		id, err := s.Submit(t)
		if err != nil {
			return ids, fmt.Errorf("submit %s: %w", p.Tasks[i].label(i), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
