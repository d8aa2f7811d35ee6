package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"adlift/internal/saga"
)

func TestFileJournal_RecordAppendsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transitions.log")

	j, err := NewFileJournal(path)
	if err != nil {
		t.Fatalf("NewFileJournal: %v", err)
	}
	t.Cleanup(func() {
		if err := j.Close(); err != nil {
			t.Fatalf("close journal: %v", err)
		}
	})

	if err := j.Record("corr-1", saga.StateStarted, saga.StatePendingBillingCheck, ""); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := j.Record("corr-1", saga.StatePendingBillingCheck, saga.StateCompensating, "budget rejected"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal entry: %v", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan journal: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].To != saga.StatePendingBillingCheck {
		t.Fatalf("unexpected first transition: %+v", entries[0])
	}
	if entries[1].Reason != "budget rejected" {
		t.Fatalf("unexpected second transition: %+v", entries[1])
	}
	if entries[1].RecordedAt.IsZero() {
		t.Fatalf("expected recorded_at to be set")
	}
}
