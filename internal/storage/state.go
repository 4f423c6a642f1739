// Package storage keeps small JSON documents in sqlite, grouped by kind.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is a (kind, id) -> JSON document table. Each write replaces the
// whole document.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Put writes one document, replacing any previous one.
func (s *Store) Put(kind, id string, doc []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO saved_state (kind, id, doc, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
	`, kind, id, string(doc), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", kind, id, err)
	}
	return nil
}

// Load returns every document of kind, keyed by id.
func (s *Store) Load(kind string) (map[string][]byte, error) {
	rows, err := s.db.Query(`SELECT id, doc FROM saved_state WHERE kind = ?`, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	defer rows.Close()

	docs := make(map[string][]byte)
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("load %s: %w", kind, err)
		}
		docs[id] = []byte(doc)
	}
	return docs, rows.Err()
}

// Drop removes every document of kind.
func (s *Store) Drop(kind string) error {
	res, err := s.db.Exec(`DELETE FROM saved_state WHERE kind = ?`, kind)
	if err != nil {
		return fmt.Errorf("drop %s: %w", kind, err)
	}
	n, _ := res.RowsAffected()
	log.Debug().Str("kind", kind).Int64("removed", n).Msg("Dropped saved state")
	return nil
}
