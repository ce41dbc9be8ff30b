package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the run-history store.
//
// Driver values:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord summarizes one completed (or cancelled) campaign run.
// Keep it compact and schema-stable.
type RunRecord struct {
	RunID      string
	AccountID  string
	StartedAt  time.Time
	Duration   time.Duration
	Total      int
	Processed  int
	Sent       int
	Duplicates int
	Skipped    int
	Invalid    int
	Errors     int
	Cancelled  bool

	ReportAll     string
	ReportValid   string
	ReportInvalid string
}
