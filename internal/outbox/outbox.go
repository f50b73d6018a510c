// Package outbox appends the engine's execution records to a JSONL log.
// Entries are immutable once written; the log is the durable twin of the
// in-memory order arena.
package outbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry wraps one logged record with its kind and write time.
type Entry struct {
	Type     string    `json:"type"`
	Data     any       `json:"data"`
	LoggedAt time.Time `json:"logged_at"`
}

// Outbox serializes appends to a single log file. The handle stays open
// for the life of the process and is flushed to disk on Close.
type Outbox struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// New opens (creating if needed) the log at path.
func New(path string) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	return &Outbox{f: f, path: path}, nil
}

// Append writes one record. Failures are returned, not fatal; the caller
// decides whether a missing log line matters.
func (o *Outbox) Append(kind string, data any) error {
	b, err := json.Marshal(Entry{Type: kind, Data: data, LoggedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal outbox entry: %w", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.f == nil {
		return fmt.Errorf("outbox %s is closed", o.path)
	}
	_, err = o.f.Write(append(b, '\n'))
	return err
}

// Close syncs and closes the log. Further appends fail.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.f == nil {
		return nil
	}
	syncErr := o.f.Sync()
	closeErr := o.f.Close()
	o.f = nil
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
