package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	logx "masivos/pkg/logx"
)

func openTestLedger(t *testing.T, dir string) *Ledger {
	t.Helper()
	l, err := Open(dir, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestMarkAndHas(t *testing.T) {
	l := openTestLedger(t, t.TempDir())

	if l.Has("a", "525512345678") {
		t.Fatalf("fresh ledger reports key present")
	}
	l.Mark("a", "525512345678")
	if !l.Has("a", "525512345678") {
		t.Fatalf("marked key not present")
	}
	if l.Has("b", "525512345678") {
		t.Fatalf("key leaked across accounts")
	}
	if l.Count("a") != 1 {
		t.Fatalf("count = %d", l.Count("a"))
	}
}

func TestMarkIdempotent(t *testing.T) {
	dir := t.TempDir()
	l := openTestLedger(t, dir)

	l.Mark("a", "k1")
	l.Mark("a", "k1")
	l.Mark("a", "k1")
	if l.Count("a") != 1 {
		t.Fatalf("count = %d after repeated marks", l.Count("a"))
	}

	data, err := os.ReadFile(filepath.Join(dir, "a.ledger.jsonl"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := strings.Count(strings.TrimRight(string(data), "\n"), "\n") + 1
	if lines != 1 {
		t.Fatalf("journal has %d lines, want 1", lines)
	}
}

func TestReopenReplaysJournal(t *testing.T) {
	dir := t.TempDir()
	l := openTestLedger(t, dir)
	l.Mark("a", "k1")
	l.Mark("a", "k2")
	l.Mark("b", "k1")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2 := openTestLedger(t, dir)
	if !l2.Has("a", "k1") || !l2.Has("a", "k2") || !l2.Has("b", "k1") {
		t.Fatalf("replayed ledger missing keys")
	}
	if l2.Count("a") != 2 || l2.Count("b") != 1 {
		t.Fatalf("replayed counts = %d/%d", l2.Count("a"), l2.Count("b"))
	}
}

func TestReopenToleratesTornTail(t *testing.T) {
	dir := t.TempDir()
	l := openTestLedger(t, dir)
	l.Mark("a", "k1")
	l.Close()

	// simulate a crash mid-append
	f, err := os.OpenFile(filepath.Join(dir, "a.ledger.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if _, err := f.WriteString(`{"key":"k2","at":17`); err != nil {
		t.Fatalf("write torn line: %v", err)
	}
	f.Close()

	l2 := openTestLedger(t, dir)
	if !l2.Has("a", "k1") {
		t.Fatalf("intact entry lost")
	}
	if l2.Has("a", "k2") {
		t.Fatalf("torn entry surfaced")
	}
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	l := openTestLedger(t, dir)
	l.Mark("a", "k1")
	l.Mark("b", "k1")

	if err := l.Reset("a"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if l.Has("a", "k1") {
		t.Fatalf("reset account still has key")
	}
	if !l.Has("b", "k1") {
		t.Fatalf("reset clobbered another account")
	}
	if _, err := os.Stat(filepath.Join(dir, "a.ledger.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("journal survived reset: %v", err)
	}

	// a fresh mark after reset starts a new journal
	l.Mark("a", "k2")
	if !l.Has("a", "k2") {
		t.Fatalf("mark after reset lost")
	}

	// resetting an account with no journal is a no-op
	if err := l.Reset("nunca"); err != nil {
		t.Fatalf("Reset on empty account: %v", err)
	}
}

func TestUnreadableJournalIsEmpty(t *testing.T) {
	dir := t.TempDir()
	// a directory where a journal file is expected
	if err := os.MkdirAll(filepath.Join(dir, "a.ledger.jsonl"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	l := openTestLedger(t, dir)
	if l.Has("a", "k1") {
		t.Fatalf("unreadable journal produced keys")
	}
}
