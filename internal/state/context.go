package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ReplaceContext overwrites the stored context entries with data, keyed by
// producer ID, in one transaction.
func (db *DB) ReplaceContext(data map[string][]models.ContextEntry) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM context_entries`); err != nil {
			return fmt.Errorf("clear context entries: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO context_entries (id, producer_id, position, type, content, tags, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare context insert: %w", err)
		}
		defer stmt.Close()

		for producer, entries := range data {
			for i, e := range entries {
				tags, err := json.Marshal(e.Tags)
				if err != nil {
					return fmt.Errorf("marshal tags of %s: %w", e.ID, err)
				}
				if _, err := stmt.Exec(e.ID, producer, i, string(e.Type), e.Content, string(tags), formatTime(e.Timestamp)); err != nil {
					return fmt.Errorf("insert context entry %s: %w", e.ID, err)
				}
			}
		}
		return nil
	})
}

// LoadContext reads every stored context entry grouped by producer ID.
func (db *DB) LoadContext() (map[string][]models.ContextEntry, error) {
	rows, err := db.Query(`
		SELECT id, producer_id, type, content, tags, timestamp
		FROM context_entries ORDER BY producer_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("query context entries: %w", err)
	}
	defer rows.Close()

	data := make(map[string][]models.ContextEntry)
	for rows.Next() {
		var e models.ContextEntry
		var tags, ts string
		if err := rows.Scan(&e.ID, &e.ProducerID, &e.Type, &e.Content, &tags, &ts); err != nil {
			return nil, fmt.Errorf("scan context entry: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags of %s: %w", e.ID, err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse timestamp of %s: %w", e.ID, err)
		}
		data[e.ProducerID] = append(data[e.ProducerID], e)
	}
	return data, rows.Err()
}
