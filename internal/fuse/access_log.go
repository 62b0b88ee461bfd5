package fuse

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/systemshift/bup-fs/internal/locator"
)

// AccessEntry records one opened file version.
type AccessEntry struct {
	Timestamp time.Time `json:"ts"`
	Path      string    `json:"path"`
	Locator   string    `json:"locator"`
}

// AccessLog appends an AccessEntry per opened version to a JSONL file.
// A nil *AccessLog discards everything.
type AccessLog struct {
	path string
	now  func() time.Time

	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewAccessLog opens path for appending, creating it if needed.
func NewAccessLog(path string) (*AccessLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open access log: %w", err)
	}
	return &AccessLog{path: path, now: time.Now, f: f, enc: json.NewEncoder(f)}, nil
}

// Log records that the version l addresses was opened.
func (a *AccessLog) Log(l locator.Locator) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return os.ErrClosed
	}
	return a.enc.Encode(AccessEntry{
		Timestamp: a.now().UTC(),
		Path:      l.Path,
		Locator:   l.String(),
	})
}

// Close closes the log file.
func (a *AccessLog) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f = nil
	return err
}
