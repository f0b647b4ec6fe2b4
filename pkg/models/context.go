package models

import "time"

// EntryType classifies a context entry.
type EntryType string

const (
	// EntryKnowledge is background information worth sharing.
	EntryKnowledge EntryType = "knowledge"
	// EntryDecision records a decision made by a worker.
	EntryDecision EntryType = "decision"
	// EntryError records a task failure.
	EntryError EntryType = "error"
	// EntryResult records a task's successful output.
	EntryResult EntryType = "result"
	// EntryDelegation records a task spawned from another task's output.
	EntryDelegation EntryType = "delegation"
)

// Valid returns true if the entry type is a known value.
func (t EntryType) Valid() bool {
	switch t {
	case EntryKnowledge, EntryDecision, EntryError, EntryResult, EntryDelegation:
		return true
	default:
		return false
	}
}

// ContextEntry is one immutable record in the shared context store.
type ContextEntry struct {
	// ID is the unique identifier for this entry.
	ID string `json:"id"`
	// ProducerID is the task or worker that produced the entry.
	ProducerID string `json:"producer_id"`
	// Type classifies the entry.
	Type EntryType `json:"type"`
	// Content is the entry payload.
	Content string `json:"content"`
	// Tags always include the producing task's category.
	Tags []string `json:"tags"`
	// Timestamp is when the entry was written.
	Timestamp time.Time `json:"timestamp"`
}

// HasTag reports whether the entry carries tag.
func (e ContextEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with e.
func (e ContextEntry) Clone() ContextEntry {
	c := e
	if e.Tags != nil {
		c.Tags = append([]string(nil), e.Tags...)
	}
	return c
}
