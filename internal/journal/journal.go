// Package journal appends saga state transitions to a local file so
// operators can reconstruct the path a saga took without querying the
// database.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"adlift/internal/saga"
)

// Entry is one recorded state transition.
type Entry struct {
	CorrelationID string     `json:"correlation_id"`
	From          saga.State `json:"from"`
	To            saga.State `json:"to"`
	Reason        string     `json:"reason,omitempty"`
	RecordedAt    time.Time  `json:"recorded_at"`
}

// FileJournal appends JSON lines to a file, one per transition.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileJournal constructs a FileJournal targeting the given path.
func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

// Record appends one transition entry and syncs the file.
func (j *FileJournal) Record(correlationID string, from, to saga.State, reason string) error {
	data, err := json.Marshal(Entry{
		CorrelationID: correlationID,
		From:          from,
		To:            to,
		Reason:        reason,
		RecordedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	n, err := j.f.Write(append(data, '\n'))
	if err != nil {
		return err
	}
	if n != len(data)+1 {
		return fmt.Errorf("partial write: wrote %d of %d bytes", n, len(data)+1)
	}

	return j.f.Sync()
}

// Close releases the underlying file handle.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// NopJournal discards transitions. It stands in when journaling is
// disabled.
type NopJournal struct{}

func (NopJournal) Record(string, saga.State, saga.State, string) error { return nil }
