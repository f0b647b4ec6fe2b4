// Package policy defines configurable policy parameters for orchestrator behavior.
// Category grouping, loop backoffs and per-category timeouts live here so they
// can be loaded from configuration and swapped in tests.
package policy

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// Config contains all configurable policy parameters for the orchestrator.
type Config struct {
	// Dispatch controls which categories may run together.
	Dispatch DispatchPolicy

	// Loop controls run loop timing and retry bounds.
	Loop LoopPolicy

	// Timeouts bounds every executor call.
	Timeouts TimeoutPolicy

	// Context controls how much prior context goes into a prompt.
	Context ContextPolicy
}

// DispatchPolicy controls category admission.
type DispatchPolicy struct {
	// SequentialCategories only run when nothing else is active, and block
	// every other dispatch while they run.
	SequentialCategories []models.Category

	// ConflictGroups are sets of categories that must not run concurrently
	// with each other. Two tasks of the same category never conflict.
	ConflictGroups [][]models.Category
}

// LoopPolicy controls run loop behavior.
type LoopPolicy struct {
	// RequeueBackoff is the delay between retries of tasks whose
	// dependencies are unmet.
	RequeueBackoff time.Duration

	// ErrorBackoff is the pause after an unexpected error in the loop body.
	ErrorBackoff time.Duration

	// MaxUnmetRetries is the number of backoff requeues after which a task
	// with unmet dependencies is failed.
	MaxUnmetRetries int

	// MaxDelegationDepth bounds chains of delegated tasks. Requests from a
	// task this many delegations below a submitted task are ignored. Zero
	// disables delegation.
	MaxDelegationDepth int

	// CompletedRetention is how long completed tasks stay in the queue
	// before the loop removes them. Zero keeps them for the whole run.
	CompletedRetention time.Duration
}

// TimeoutPolicy holds the hard executor timeouts.
type TimeoutPolicy struct {
	// Default applies to categories without an override.
	Default time.Duration

	// PerCategory overrides Default for specific categories.
	PerCategory map[models.Category]time.Duration
}

// ContextPolicy controls prompt context.
type ContextPolicy struct {
	// Limit is the number of context entries included in a prompt.
	Limit int

	// SummaryLength truncates each entry's content.
	SummaryLength int
}

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		Dispatch: DispatchPolicy{
			SequentialCategories: []models.Category{models.CategoryArchitect},
			ConflictGroups: [][]models.Category{
				{models.CategoryCoder, models.CategoryIntegrator},
				{models.CategoryIntegrator, models.CategoryDevOps},
			},
		},
		Loop: LoopPolicy{
			RequeueBackoff:     250 * time.Millisecond,
			ErrorBackoff:       time.Second,
			MaxUnmetRetries:    50,
			MaxDelegationDepth: 5,
		},
		Timeouts: TimeoutPolicy{
			Default: 10 * time.Minute,
			PerCategory: map[models.Category]time.Duration{
				models.CategoryArchitect:  15 * time.Minute,
				models.CategoryResearcher: 5 * time.Minute,
			},
		},
		Context: ContextPolicy{
			Limit:         5,
			SummaryLength: 500,
		},
	}
}

// Validate checks that policy values are within acceptable ranges.
// Out-of-range numbers are reset to defaults; unknown categories are errors.
func (c *Config) Validate() error {
	if c.Loop.RequeueBackoff < time.Millisecond {
		c.Loop.RequeueBackoff = 250 * time.Millisecond
	}
	if c.Loop.ErrorBackoff < time.Millisecond {
		c.Loop.ErrorBackoff = time.Second
	}
	if c.Loop.MaxUnmetRetries < 1 {
		c.Loop.MaxUnmetRetries = 50
	}
	if c.Loop.MaxDelegationDepth < 0 {
		c.Loop.MaxDelegationDepth = 5
	}
	if c.Loop.CompletedRetention < 0 {
		c.Loop.CompletedRetention = 0
	}
	if c.Timeouts.Default <= 0 {
		c.Timeouts.Default = 10 * time.Minute
	}
	if c.Context.Limit < 0 {
		c.Context.Limit = 5
	}
	if c.Context.SummaryLength < 1 {
		c.Context.SummaryLength = 500
	}

	for _, cat := range c.Dispatch.SequentialCategories {
		if !cat.Valid() {
			return fmt.Errorf("sequential category %q is not a known category", cat)
		}
	}
	for i, group := range c.Dispatch.ConflictGroups {
		if len(group) < 2 {
			return fmt.Errorf("conflict group %d needs at least two categories", i)
		}
		for _, cat := range group {
			if !cat.Valid() {
				return fmt.Errorf("conflict group %d: %q is not a known category", i, cat)
			}
		}
	}
	for cat, d := range c.Timeouts.PerCategory {
		if !cat.Valid() {
			return fmt.Errorf("timeout override for unknown category %q", cat)
		}
		if d <= 0 {
			return fmt.Errorf("timeout override for %s must be positive", cat)
		}
	}
	return nil
}

// For returns the executor timeout for a category.
func (t TimeoutPolicy) For(c models.Category) time.Duration {
	if d, ok := t.PerCategory[c]; ok && d > 0 {
		return d
	}
	return t.Default
}

// IsSequential reports whether c is a sequential category.
func (d DispatchPolicy) IsSequential(c models.Category) bool {
	for _, s := range d.SequentialCategories {
		if s == c {
			return true
		}
	}
	return false
}

// ConflictsWith reports whether a and b share a conflict group.
func (d DispatchPolicy) ConflictsWith(a, b models.Category) bool {
	if a == b {
		return false
	}
	for _, group := range d.ConflictGroups {
		hasA, hasB := false, false
		for _, c := range group {
			if c == a {
				hasA = true
			}
			if c == b {
				hasB = true
			}
		}
		if hasA && hasB {
			return true
		}
	}
	return false
}

// Admit decides whether a task of category c may start while the given
// categories are running. The reason is empty when the task is admitted.
//
// Rules, in order: a sequential category needs an idle system; nothing starts
// next to a running sequential category; conflict groups exclude each other.
func (d DispatchPolicy) Admit(c models.Category, running []models.Category) (bool, string) {
	if d.IsSequential(c) && len(running) > 0 {
		return false, fmt.Sprintf("sequential category %s waits for %d active task(s)", c, len(running))
	}
	for _, r := range running {
		if d.IsSequential(r) {
			return false, fmt.Sprintf("sequential category %s is running", r)
		}
		if d.ConflictsWith(c, r) {
			return false, fmt.Sprintf("conflicts with running %s", r)
		}
	}
	return true, ""
}
