// Package contacts holds the current contact list: an ordered sequence
// of rows replaced wholesale on every upload.
package contacts

import "sync"

// Row is one contact as ingested: verbatim, untrimmed.
// Rows are immutable once created.
type Row struct {
	Nombre   string
	Telefono string
	Mensaje  string
}

// Store is the shared contact-list holder.
//
// Runners capture Snapshot() once at run start and never re-read the
// store, so a wholesale Replace during an in-flight run cannot change
// that run's totals or indices.
type Store struct {
	mu       sync.RWMutex
	rows     []Row
	filename string
}

func NewStore() *Store { return &Store{} }

// Replace swaps in a new row sequence, discarding the previous one.
func (s *Store) Replace(rows []Row, filename string) {
	s.mu.Lock()
	s.rows = rows
	s.filename = filename
	s.mu.Unlock()
}

// Clear drops the loaded list.
func (s *Store) Clear() {
	s.mu.Lock()
	s.rows = nil
	s.filename = ""
	s.mu.Unlock()
}

// Snapshot returns the current row sequence. The slice is never
// mutated after Replace, so callers may iterate it without copying.
func (s *Store) Snapshot() []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *Store) HasUpload() bool { return s.Count() > 0 }

// Filename reports the basename of the last uploaded file ("" if none).
func (s *Store) Filename() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filename
}
