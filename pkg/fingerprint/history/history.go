// Package history journals stage runs, one JSON file per run.
package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/artifact"
)

// ErrNotFound is returned when no entry has the requested id.
var ErrNotFound = errors.New("history entry not found")

// Status is the outcome of a stage run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Entry is one journaled stage run.
type Entry struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Stage     string           `json:"stage"`
	Status    Status           `json:"status"`
	Reason    string           `json:"reason,omitempty"`
	Inputs    []string         `json:"inputs,omitempty"`
	Outputs   []string         `json:"outputs,omitempty"`
	Duration  time.Duration    `json:"duration"`
	Summary   map[string]int64 `json:"summary,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Journal stores entries under a directory.
type Journal struct {
	dir string
	mu  sync.Mutex
}

// New returns a Journal rooted at dir. The directory is created lazily.
func New(dir string) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("history directory cannot be empty")
	}
	return &Journal{dir: dir}, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string { return j.dir }

// Log assigns an id and timestamp to e and persists it.
func (j *Journal) Log(e Entry) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e.ID = uuid.NewString()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := artifact.WriteJSON(j.entryPath(&e), &e); err != nil {
		return nil, fmt.Errorf("failed to write history entry: %w", err)
	}
	return &e, nil
}

// Names sort chronologically.
func (j *Journal) entryPath(e *Entry) string {
	ts := e.Timestamp.UTC().Format("20060102T150405.000000000")
	return filepath.Join(j.dir, fmt.Sprintf("%s-%s-%s.json", ts, e.Stage, e.ID))
}

// List returns entries newest first. A limit of zero or less returns all.
func (j *Journal) List(limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAll()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(a, b int) bool {
		return entries[a].Timestamp.After(entries[b].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get returns the entry with id.
func (j *Journal) Get(id string) (*Entry, error) {
	if id == "" {
		return nil, errors.New("entry ID cannot be empty")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAll()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Cleanup removes entries older than retention and returns how many went.
func (j *Journal) Cleanup(retention time.Duration) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAll()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-retention)
	var removed int
	for i := range entries {
		if entries[i].Timestamp.Before(cutoff) {
			if err := os.Remove(j.entryPath(&entries[i])); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (j *Journal) readAll() ([]Entry, error) {
	files, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	entries := []Entry{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		var e Entry
		if err := artifact.ReadJSON(filepath.Join(j.dir, f.Name()), &e); err != nil {
			// Skip files that can't be parsed
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
