package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a task id is absent from the store.
var ErrNotFound = errors.New("task not found")

// Store is the persisted task queue. The engine, the repair agent and the
// session-boundary enqueue all mutate it from one process; the mutex
// serializes their read-modify-write cycles over the backing file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store backed by the JSON file at path. A missing
// file reads as an empty task set.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Add assigns an id and creation time to t, appends it, and persists.
func (s *Store) Add(t Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return Task{}, err
	}

	t.ID = uuid.NewString()
	t.CreatedAt = time.Now().UTC()
	if t.Status == "" {
		t.Status = StatusPending
	}
	tasks = append(tasks, t)

	if err := s.save(tasks); err != nil {
		return Task{}, err
	}
	return t, nil
}

// ListRunnable returns the pending tasks in insertion order.
func (s *Store) ListRunnable() ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []Task
	for _, t := range tasks {
		if t.Status == StatusPending {
			out = append(out, t)
		}
	}
	return out, nil
}

// All returns every task in insertion order.
func (s *Store) All() ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// UpdateStatus moves a task to status, recording errMsg (may be empty)
// and the update time.
func (s *Store) UpdateStatus(id, status, errMsg string) error {
	return s.mutate(id, func(t *Task) {
		t.Status = status
		t.Error = errMsg
		now := time.Now().UTC()
		t.UpdatedAt = &now
	})
}

// Complete marks a task completed and stamps CompletedAt.
func (s *Store) Complete(id string) error {
	return s.mutate(id, func(t *Task) {
		t.Status = StatusCompleted
		t.Error = ""
		now := time.Now().UTC()
		t.UpdatedAt = &now
		t.CompletedAt = &now
	})
}

// Requeue is the repair path: reset the task to pending with repaired
// payload paths, clear its error, and count the attempt.
func (s *Store) Requeue(id string, paths []string) error {
	return s.mutate(id, func(t *Task) {
		t.Status = StatusPending
		t.Error = ""
		if paths != nil {
			t.FilePaths = paths
		}
		t.RetryCount++
		now := time.Now().UTC()
		t.UpdatedAt = &now
	})
}

func (s *Store) mutate(id string, fn func(*Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	for i := range tasks {
		if tasks[i].ID == id {
			fn(&tasks[i])
			return s.save(tasks)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *Store) load() ([]Task, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading task file: %w", err)
	}
	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parsing task file: %w", err)
	}
	return tasks, nil
}

// save rewrites the whole set via temp file + rename so a crash mid-write
// cannot corrupt the queue.
func (s *Store) save(tasks []Task) error {
	if tasks == nil {
		tasks = []Task{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tasks: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating task dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tasks-*.json")
	if err != nil {
		return fmt.Errorf("creating temp task file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing task file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing task file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing task file: %w", err)
	}
	return nil
}
