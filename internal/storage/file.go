package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "masivos/pkg/logx"
)

// fileStore is the dependency-free history backend: one append-only
// JSON Lines file, with a bounded in-memory tail for queries.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	file *os.File

	// tail holds the most recent records, oldest first.
	tail    []RunRecord
	tailMax int
}

type runLine struct {
	RunID      string `json:"run_id"`
	AccountID  string `json:"account_id"`
	StartedAt  int64  `json:"started_at"` // unix milli
	DurationMS int64  `json:"duration_ms"`
	Total      int    `json:"total"`
	Processed  int    `json:"processed"`
	Sent       int    `json:"sent"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
	Invalid    int    `json:"invalid"`
	Errors     int    `json:"errors"`
	Cancelled  bool   `json:"cancelled,omitempty"`

	ReportAll     string `json:"report_all,omitempty"`
	ReportValid   string `json:"report_valid,omitempty"`
	ReportInvalid string `json:"report_invalid,omitempty"`
}

const defaultTailMax = 500

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if filepath.Ext(path) == "" {
		path += ".runs.jsonl"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, tailMax: defaultTailMax}

	// Best-effort replay; a missing or torn file starts empty.
	if f, err := os.Open(path); err == nil {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			var ln runLine
			if err := json.Unmarshal(sc.Bytes(), &ln); err != nil {
				continue
			}
			s.appendTailLocked(ln.record())
		}
		_ = f.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.file = f
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("history file closed")
	}
	s.appendTailLocked(r)
	return json.NewEncoder(s.file).Encode(lineOf(r))
}

func (s *fileStore) RecentRuns(ctx context.Context, accountID string, limit int) ([]RunRecord, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// newest first
	out := make([]RunRecord, 0, limit)
	for i := len(s.tail) - 1; i >= 0 && len(out) < limit; i-- {
		if accountID != "" && s.tail[i].AccountID != accountID {
			continue
		}
		out = append(out, s.tail[i])
	}
	return out, nil
}

func (s *fileStore) appendTailLocked(r RunRecord) {
	s.tail = append(s.tail, r)
	if over := len(s.tail) - s.tailMax; over > 0 {
		s.tail = append(s.tail[:0:0], s.tail[over:]...)
	}
}

func lineOf(r RunRecord) runLine {
	return runLine{
		RunID:      r.RunID,
		AccountID:  r.AccountID,
		StartedAt:  r.StartedAt.UnixMilli(),
		DurationMS: r.Duration.Milliseconds(),
		Total:      r.Total,
		Processed:  r.Processed,
		Sent:       r.Sent,
		Duplicates: r.Duplicates,
		Skipped:    r.Skipped,
		Invalid:    r.Invalid,
		Errors:     r.Errors,
		Cancelled:  r.Cancelled,

		ReportAll:     r.ReportAll,
		ReportValid:   r.ReportValid,
		ReportInvalid: r.ReportInvalid,
	}
}

func (ln runLine) record() RunRecord {
	return RunRecord{
		RunID:      ln.RunID,
		AccountID:  ln.AccountID,
		StartedAt:  time.UnixMilli(ln.StartedAt),
		Duration:   time.Duration(ln.DurationMS) * time.Millisecond,
		Total:      ln.Total,
		Processed:  ln.Processed,
		Sent:       ln.Sent,
		Duplicates: ln.Duplicates,
		Skipped:    ln.Skipped,
		Invalid:    ln.Invalid,
		Errors:     ln.Errors,
		Cancelled:  ln.Cancelled,

		ReportAll:     ln.ReportAll,
		ReportValid:   ln.ReportValid,
		ReportInvalid: ln.ReportInvalid,
	}
}
