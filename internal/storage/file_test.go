package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "masivos/pkg/logx"
)

func rec(id, account string, sent int) RunRecord {
	return RunRecord{
		RunID:     id,
		AccountID: account,
		StartedAt: time.Now().Truncate(time.Millisecond),
		Duration:  3 * time.Second,
		Total:     10,
		Processed: 10,
		Sent:      sent,
		ReportAll: "report-" + account + "-x.csv",
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		s, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || s != nil {
			t.Fatalf("driver %q: store=%v err=%v, want nil/nil", driver, s, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	ctx := context.Background()

	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.AppendRun(ctx, rec("r1", "a", 5)); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	if err := s.AppendRun(ctx, rec("r2", "a", 7)); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	if err := s.AppendRun(ctx, rec("r3", "b", 1)); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// reopen replays the journal
	s, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	runs, err := s.RecentRuns(ctx, "a", 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs for a = %d", len(runs))
	}
	// newest first
	if runs[0].RunID != "r2" || runs[1].RunID != "r1" {
		t.Fatalf("order = %s, %s", runs[0].RunID, runs[1].RunID)
	}
	if runs[0].Sent != 7 || runs[0].Duration != 3*time.Second {
		t.Fatalf("replayed record = %+v", runs[0])
	}

	all, err := s.RecentRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentRuns all: %v", err)
	}
	if len(all) != 3 || all[0].RunID != "r3" {
		t.Fatalf("all runs = %d, first = %s", len(all), all[0].RunID)
	}
}

func TestFileStoreLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	ctx := context.Background()
	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for i := 0; i < 5; i++ {
		if err := s.AppendRun(ctx, rec(string(rune('a'+i)), "x", i)); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	runs, err := s.RecentRuns(ctx, "x", 2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "e" {
		t.Fatalf("limited runs = %+v", runs)
	}
}
