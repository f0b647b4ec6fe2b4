package models

import "strings"

// Category is the closed set of task kinds.
type Category string

const (
	// CategoryArchitect plans and coordinates work for other categories.
	CategoryArchitect Category = "architect"
	// CategoryCoder writes and changes source code.
	CategoryCoder Category = "coder"
	// CategoryTester writes and runs tests.
	CategoryTester Category = "tester"
	// CategoryReviewer reviews finished work.
	CategoryReviewer Category = "reviewer"
	// CategorySecurity audits work for vulnerabilities.
	CategorySecurity Category = "security"
	// CategoryIntegrator wires components together.
	CategoryIntegrator Category = "integrator"
	// CategoryDocumenter writes documentation.
	CategoryDocumenter Category = "documenter"
	// CategoryResearcher gathers background information.
	CategoryResearcher Category = "researcher"
	// CategoryDevOps handles build, deploy and infrastructure work.
	CategoryDevOps Category = "devops"
)

// AllCategories returns every known category in a stable order.
func AllCategories() []Category {
	return []Category{
		CategoryArchitect,
		CategoryCoder,
		CategoryTester,
		CategoryReviewer,
		CategorySecurity,
		CategoryIntegrator,
		CategoryDocumenter,
		CategoryResearcher,
		CategoryDevOps,
	}
}

// Valid returns true if the category is a known value.
func (c Category) Valid() bool {
	switch c {
	case CategoryArchitect, CategoryCoder, CategoryTester, CategoryReviewer,
		CategorySecurity, CategoryIntegrator, CategoryDocumenter,
		CategoryResearcher, CategoryDevOps:
		return true
	default:
		return false
	}
}

// ParseCategory converts a string to a Category, ignoring case and
// surrounding whitespace. The second result is false for unknown names.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", false
	}
	return c, true
}

// Priority orders ready tasks.
type Priority string

const (
	// PriorityLow is dispatched after everything else.
	PriorityLow Priority = "low"
	// PriorityMedium is the default priority.
	PriorityMedium Priority = "medium"
	// PriorityHigh is dispatched first.
	PriorityHigh Priority = "high"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Rank returns a sortable weight; higher runs first. Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ParsePriority converts a string to a Priority. An empty string yields
// PriorityMedium.
func ParsePriority(s string) (Priority, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PriorityMedium, true
	}
	p := Priority(s)
	if !p.Valid() {
		return "", false
	}
	return p, true
}
