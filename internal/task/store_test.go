package task

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "tasks.json"))
}

func TestAddAssignsIdentity(t *testing.T) {
	s := newTestStore(t)

	added, err := s.Add(Task{Type: TypeProcessSession, FilePaths: []string{"a.wav"}})
	if err != nil {
		t.Fatal(err)
	}
	if added.ID == "" {
		t.Error("Add did not assign an id")
	}
	if added.Status != StatusPending {
		t.Errorf("Status = %q, want pending", added.Status)
	}
	if added.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestListRunnableOrderAndFilter(t *testing.T) {
	s := newTestStore(t)

	first, _ := s.Add(Task{Type: TypeProcessSession})
	second, _ := s.Add(Task{Type: TypeGeneratePhoto})
	done, _ := s.Add(Task{Type: TypeProcessSession})
	if err := s.Complete(done.ID); err != nil {
		t.Fatal(err)
	}

	runnable, err := s.ListRunnable()
	if err != nil {
		t.Fatal(err)
	}
	if len(runnable) != 2 {
		t.Fatalf("got %d runnable, want 2", len(runnable))
	}
	if runnable[0].ID != first.ID || runnable[1].ID != second.ID {
		t.Error("runnable tasks not in insertion order")
	}
}

func TestDiscardedExcludedFromRunnable(t *testing.T) {
	s := newTestStore(t)
	bad, _ := s.Add(Task{}) // no type
	if err := s.UpdateStatus(bad.ID, StatusDiscarded, "task has no type"); err != nil {
		t.Fatal(err)
	}

	runnable, err := s.ListRunnable()
	if err != nil {
		t.Fatal(err)
	}
	if len(runnable) != 0 {
		t.Errorf("discarded task still runnable: %v", runnable)
	}

	all, _ := s.All()
	if len(all) != 1 || all[0].Error == "" {
		t.Error("discarded task lost or missing error text")
	}
}

func TestSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	s := NewStore(path)

	added, _ := s.Add(Task{Type: TypeProcessSession, FilePaths: []string{"x.wav"}})
	if err := s.UpdateStatus(added.ID, StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}

	// A fresh store over the same file sees the same state.
	reloaded := NewStore(path)
	all, err := reloaded.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d tasks after reload, want 1", len(all))
	}
	if all[0].Status != StatusFailed || all[0].Error != "boom" {
		t.Errorf("reloaded task = %+v", all[0])
	}
}

func TestRequeueClearsErrorAndCounts(t *testing.T) {
	s := newTestStore(t)
	added, _ := s.Add(Task{Type: TypeProcessSession, FilePaths: []string{`data\recordings\a.wav`}})
	if err := s.UpdateStatus(added.ID, StatusFailed, "open data\\recordings\\a.wav: no such file"); err != nil {
		t.Fatal(err)
	}

	if err := s.Requeue(added.ID, []string{"data/recordings/a.wav"}); err != nil {
		t.Fatal(err)
	}

	all, _ := s.All()
	got := all[0]
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Error != "" {
		t.Errorf("Error = %q, want cleared", got.Error)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if got.FilePaths[0] != "data/recordings/a.wav" {
		t.Errorf("FilePaths = %v", got.FilePaths)
	}
}

func TestUpdateUnknownID(t *testing.T) {
	s := newTestStore(t)
	err := s.Complete("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestNoPartialFileOnDisk(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "tasks.json"))
	if _, err := s.Add(Task{Type: TypeProcessSession}); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "tasks.json" {
		t.Errorf("unexpected files in store dir: %v", entries)
	}
}

func TestCorruptFileSurfacesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	if _, err := s.ListRunnable(); err == nil {
		t.Error("expected error for corrupt task file")
	}
}
