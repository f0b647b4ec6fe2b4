package ctxstore

import (
	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/pkg/models"
)

// SQLitePersister keeps the context in the project state database.
type SQLitePersister struct {
	db state.ContextStore
	// location is used in error messages only.
	location string
}

// NewSQLitePersister creates a persister backed by db.
func NewSQLitePersister(db *state.DB) *SQLitePersister {
	return &SQLitePersister{db: db, location: db.Path()}
}

// Save replaces every stored entry with data.
func (p *SQLitePersister) Save(data map[string][]models.ContextEntry) error {
	return p.db.ReplaceContext(data)
}

// Load reads every stored entry.
func (p *SQLitePersister) Load() (map[string][]models.ContextEntry, error) {
	return p.db.LoadContext()
}

// Location returns the database path.
func (p *SQLitePersister) Location() string {
	return p.location
}
