// Package ledger records which messages have already been fully processed,
// so re-running the tool never attaches the same tickets twice.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Record is one fully processed message. Records are append-only: once
// written they are never changed or removed.
type Record struct {
	MessageID string    `json:"message_id"`
	Subject   string    `json:"subject"`
	Date      time.Time `json:"date"`
}

// ErrDuplicate is returned by Add when the message ID is already recorded.
var ErrDuplicate = errors.New("duplicate message id")

// CorruptError means the ledger file exists but could not be parsed. This is
// a setup failure: continuing would risk reprocessing everything.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt ledger %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Ledger is the in-memory set of processed records, keyed by message ID and
// backed by a JSON file.
type Ledger struct {
	path    string
	records map[string]Record
}

// Load reads the ledger at path. A missing file is not an error: the first
// run starts with an empty ledger.
func Load(path string) (*Ledger, error) {
	l := &Ledger{
		path:    path,
		records: make(map[string]Record),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	for _, r := range records {
		if r.MessageID == "" {
			return nil, &CorruptError{Path: path, Err: errors.New("record without message_id")}
		}
		l.records[r.MessageID] = r
	}
	return l, nil
}

// Contains reports whether id has already been processed.
func (l *Ledger) Contains(id string) bool {
	_, ok := l.records[id]
	return ok
}

// Add inserts a record. The caller is expected to have checked Contains
// first; Add still refuses a repeat ID so a bug upstream cannot silently
// overwrite history.
func (l *Ledger) Add(r Record) error {
	if _, exists := l.records[r.MessageID]; exists {
		return fmt.Errorf("add %s: %w", r.MessageID, ErrDuplicate)
	}
	l.records[r.MessageID] = r
	return nil
}

// Count returns the number of recorded messages.
func (l *Ledger) Count() int { return len(l.records) }

// Persist writes the full record set back to disk. The write goes to a
// temporary file in the same directory which is then renamed over the
// ledger, so an interrupted run never leaves a half-written file behind.
func (l *Ledger) Persist() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	records := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].MessageID < records[j].MessageID
	})

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}
