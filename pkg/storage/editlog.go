package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// EditLogEntry is one recorded message-edit attempt: messageId,
// newContent, chatId, and the resubmission outcome.
type EditLogEntry struct {
	MessageID          string    `json:"messageId"`
	NewContent         string    `json:"newContent"`
	ChatID             string    `json:"chatId"`
	ResubmissionStatus string    `json:"resubmissionStatus"`
	ResubmissionError  string    `json:"resubmissionError,omitempty"`
	RecordedAt         time.Time `json:"recordedAt"`
}

// MaxEditLogEntries bounds the ring buffer at 100 entries.
const MaxEditLogEntries = 100

// EditLogWriter is an optional StorageAPI capability (type-asserted by
// callers, same pattern as EventStorage) exposed by backends that can
// record message-edit attempts against the bounded per-world ring
// buffer.
type EditLogWriter interface {
	AppendEditLog(worldID string, entry EditLogEntry) error
}

// EditLog is the bounded ring buffer persisted under a world's
// directory as edit-errors.json, maintained read-modify-write with
// os.MkdirAll for the containing directory.
type EditLog struct {
	mu   sync.Mutex
	path string
}

// NewEditLog returns an EditLog backed by <worldDir>/edit-errors.json.
func NewEditLog(worldDir string) *EditLog {
	return &EditLog{path: filepath.Join(worldDir, "edit-errors.json")}
}

// Append adds entry to the ring buffer, evicting the oldest entry first
// if the buffer is already at MaxEditLogEntries.
func (l *EditLog) Append(entry EditLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readLocked()
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	if len(entries) > MaxEditLogEntries {
		entries = entries[len(entries)-MaxEditLogEntries:]
	}
	return l.writeLocked(entries)
}

// All returns every entry currently in the log, oldest first.
func (l *EditLog) All() ([]EditLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked()
}

func (l *EditLog) readLocked() ([]EditLogEntry, error) {
	b, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read edit log")
	}
	var entries []EditLogEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, errors.Wrap(err, "failed to parse edit log")
	}
	return entries, nil
}

func (l *EditLog) writeLocked(entries []EditLogEntry) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create world directory for edit log")
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal edit log")
	}
	if err := os.WriteFile(l.path, b, 0o644); err != nil {
		return errors.Wrap(err, "failed to write edit log")
	}
	return nil
}
