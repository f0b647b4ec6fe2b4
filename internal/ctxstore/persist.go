package ctxstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ShayCichocki/hive/pkg/models"
)

// Persister saves and loads the whole store. The layout is a map from
// producer ID to that producer's entries in append order.
type Persister interface {
	Save(data map[string][]models.ContextEntry) error
	Load() (map[string][]models.ContextEntry, error)
	// Location describes where data is kept, for error messages.
	Location() string
}

// PersistenceError reports an I/O failure reading or writing the store.
// In-memory state is never affected by one.
type PersistenceError struct {
	Op       string
	Location string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("context store %s %s: %v", e.Op, e.Location, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func wrapPersistence(op string, p Persister, err error) error {
	return &PersistenceError{Op: op, Location: p.Location(), Err: err}
}

// NopPersister keeps nothing. Used when persistence is disabled.
type NopPersister struct{}

// Save does nothing.
func (NopPersister) Save(map[string][]models.ContextEntry) error { return nil }

// Load returns an empty map.
func (NopPersister) Load() (map[string][]models.ContextEntry, error) {
	return map[string][]models.ContextEntry{}, nil
}

// Location returns "memory".
func (NopPersister) Location() string { return "memory" }

// FilePersister stores the context as one JSON document. Timestamps are
// encoded as RFC 3339 strings, which sort lexically in UTC.
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Location returns the file path.
func (p *FilePersister) Location() string {
	return p.path
}

// Save writes the document atomically: data goes to a temporary file which
// is then renamed into place.
func (p *FilePersister) Save(data map[string][]models.ContextEntry) error {
	if data == nil {
		data = map[string][]models.ContextEntry{}
	}
	for _, entries := range data {
		for i := range entries {
			entries[i].Timestamp = entries[i].Timestamp.UTC()
		}
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("create context directory: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads the document. A missing file is an empty store.
func (p *FilePersister) Load() (map[string][]models.ContextEntry, error) {
	raw, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]models.ContextEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read context file: %w", err)
	}

	data := map[string][]models.ContextEntry{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return data, nil
}
