// Package ledger persists the set of recipients each account has
// already contacted, so campaigns never re-send across runs or process
// restarts.
package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "masivos/pkg/logx"
)

// record is one appended journal line.
type record struct {
	Key string `json:"key"`
	At  int64  `json:"at"` // unix milli
}

const fileSuffix = ".ledger.jsonl"

// Ledger is a durable per-account set of contacted recipient keys.
//
// Backing store is one append-only JSON Lines journal per account,
// replayed into memory at open. Entries are only ever added; Reset is
// the single destructive operation and deletes the journal.
//
// Durability is best-effort: a failed append is logged and the
// in-memory set still updates, so within-process dedup holds even when
// the disk does not.
type Ledger struct {
	dir string
	log logx.Logger

	mu    sync.Mutex
	keys  map[string]map[string]struct{}
	files map[string]*os.File
}

// Open loads every existing account journal under dir.
// A journal that cannot be read is treated as empty (non-fatal).
func Open(dir string, log logx.Logger) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	l := &Ledger{
		dir:   dir,
		log:   log,
		keys:  map[string]map[string]struct{}{},
		files: map[string]*os.File{},
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("ledger dir unreadable; starting empty", logx.String("dir", dir), logx.Err(err))
		return l, nil
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		account := strings.TrimSuffix(name, fileSuffix)
		set := map[string]struct{}{}
		if err := replayJournal(filepath.Join(dir, name), set); err != nil {
			log.Warn("ledger journal unreadable; treating as empty",
				logx.String("account", account), logx.Err(err))
			continue
		}
		l.keys[account] = set
		log.Debug("ledger loaded", logx.String("account", account), logx.Int("keys", len(set)))
	}
	return l, nil
}

func replayJournal(path string, out map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r record
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			// tolerate a torn tail line from a crash mid-append
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = struct{}{}
	}
	return s.Err()
}

// Has reports whether key was already contacted by account.
func (l *Ledger) Has(accountID, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := l.keys[accountID]
	if set == nil {
		return false
	}
	_, ok := set[key]
	return ok
}

// Mark records key as contacted by account. Idempotent: marking a
// present key changes nothing and appends nothing.
func (l *Ledger) Mark(accountID, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	set := l.keys[accountID]
	if set == nil {
		set = map[string]struct{}{}
		l.keys[accountID] = set
	}
	if _, ok := set[key]; ok {
		return
	}
	set[key] = struct{}{}

	f, err := l.journalLocked(accountID)
	if err != nil {
		l.log.Warn("ledger journal open failed; entry kept in memory only",
			logx.String("account", accountID), logx.Err(err))
		return
	}
	if err := json.NewEncoder(f).Encode(record{Key: key, At: time.Now().UnixMilli()}); err != nil {
		l.log.Warn("ledger append failed; entry kept in memory only",
			logx.String("account", accountID), logx.Err(err))
	}
}

// Reset clears account's in-memory set and deletes its journal.
// This is the only way ledger entries are ever removed.
func (l *Ledger) Reset(accountID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.keys, accountID)
	if f := l.files[accountID]; f != nil {
		_ = f.Close()
		delete(l.files, accountID)
	}
	err := os.Remove(l.pathFor(accountID))
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	if err == nil {
		l.log.Info("ledger reset", logx.String("account", accountID))
	}
	return err
}

// Count returns the number of contacted keys for account.
func (l *Ledger) Count(accountID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys[accountID])
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for id, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(l.files, id)
	}
	return first
}

func (l *Ledger) pathFor(accountID string) string {
	return filepath.Join(l.dir, accountID+fileSuffix)
}

func (l *Ledger) journalLocked(accountID string) (*os.File, error) {
	if f := l.files[accountID]; f != nil {
		return f, nil
	}
	f, err := os.OpenFile(l.pathFor(accountID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	l.files[accountID] = f
	return f, nil
}
