package repair

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tkhr/chronicle/internal/artifact"
	"github.com/tkhr/chronicle/internal/pipeline"
	"github.com/tkhr/chronicle/internal/task"
	"github.com/tkhr/chronicle/internal/whisper"
)

type stubClients struct {
	transcribes int
	unloads     int
	summaries   int
	chapters    int
	prompts     int
	images      int
	syncs       int
}

func (s *stubClients) Transcribe(_ context.Context, audioPath string) ([]whisper.Segment, error) {
	s.transcribes++
	return []whisper.Segment{{Text: "recovered words from " + filepath.Base(audioPath)}}, nil
}

func (s *stubClients) Unload(context.Context) error {
	s.unloads++
	return nil
}

func (s *stubClients) Summarize(_ context.Context, _, date, _, _ string) (string, error) {
	s.summaries++
	return "summary for " + date, nil
}

func (s *stubClients) GenerateChapter(_ context.Context, summary, _ string) (string, error) {
	s.chapters++
	return "Chapter: " + summary, nil
}

func (s *stubClients) ImagePrompt(context.Context, string) (string, error) {
	s.prompts++
	return "a scene", nil
}

func (s *stubClients) BuildPrompt(scene string) (string, string) {
	return scene, ""
}

func (s *stubClients) Generate(_ context.Context, _, _, outPath string) error {
	s.images++
	return artifact.WriteFile(outPath, []byte("png"))
}

func (s *stubClients) Sync(context.Context) error {
	s.syncs++
	return nil
}

// constructions counts how many lazy clients were actually built.
func testAgent(t *testing.T, maxRepairs int) (*Agent, *task.Store, *stubClients, artifact.Layout, *int) {
	t.Helper()
	layout := artifact.NewLayout(t.TempDir())
	if err := layout.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	store := task.NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	clients := &stubClients{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stages := pipeline.NewStages(layout, nil, logger)

	constructions := 0
	count := func() { constructions++ }
	lazy := Clients{
		Transcriber: func() pipeline.Transcriber { count(); return clients },
		Diarizer:    func() pipeline.Diarizer { count(); return nil },
		Summarizer:  func() pipeline.Summarizer { count(); return clients },
		Novelist:    func() pipeline.Novelist { count(); return clients },
		Prompts:     func() pipeline.PromptExtractor { count(); return clients },
		Images:      func() pipeline.ImageGenerator { count(); return clients },
	}
	return NewAgent(store, stages, lazy, clients, maxRepairs, logger), store, clients, layout, &constructions
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := artifact.WriteFile(path, []byte(content)); err != nil {
		t.Fatal(err)
	}
}

func TestRunBackfillsEveryStage(t *testing.T) {
	agent, _, clients, layout, _ := testAgent(t, 3)

	write(t, filepath.Join(layout.Recordings, "20250110_100000.wav"), "fake-wav")

	if err := agent.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !artifact.Exists(layout.TranscriptPath("20250110_100000.wav")) {
		t.Error("transcript not backfilled")
	}
	if !artifact.Exists(layout.SummaryPath("20250110")) {
		t.Error("summary not backfilled")
	}
	if !artifact.Exists(layout.ChapterPath("20250110")) {
		t.Error("chapter not backfilled")
	}
	if !artifact.Exists(layout.PhotoPath("20250110")) {
		t.Error("photo not backfilled")
	}
	if clients.unloads != 1 {
		t.Errorf("unload calls = %d, want 1 after transcript batch", clients.unloads)
	}
	if clients.syncs != 1 {
		t.Errorf("sync calls = %d, want 1", clients.syncs)
	}
}

func TestRunOnCleanTreeConstructsNoClients(t *testing.T) {
	agent, _, clients, layout, constructions := testAgent(t, 3)

	// A fully materialized date: nothing to do anywhere.
	write(t, filepath.Join(layout.Transcripts, "20250111_100000.txt"), "words")
	write(t, layout.SummaryPath("20250111"), "summary")
	write(t, layout.ChapterPath("20250111"), "chapter")
	write(t, layout.PhotoPath("20250111"), "png")

	if err := agent.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if *constructions != 0 {
		t.Errorf("constructed %d clients on a clean tree, want 0", *constructions)
	}
	if clients.unloads != 0 {
		t.Errorf("unload calls = %d on a clean tree", clients.unloads)
	}
	if clients.syncs != 1 {
		t.Errorf("sync calls = %d, want 1 (sync always runs)", clients.syncs)
	}
}

func TestRepairRequeuesMissingFileFailures(t *testing.T) {
	agent, store, _, _, _ := testAgent(t, 3)

	added, err := store.Add(task.Task{
		Type:      task.TypeProcessSession,
		FilePaths: []string{`C:\recordings\20250112_100000.wav`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateStatus(added.ID, task.StatusFailed, "reading segment: stat file: no such file or directory"); err != nil {
		t.Fatal(err)
	}

	if err := agent.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := taskByID(t, store, added.ID)
	if got.Status != task.StatusPending {
		t.Fatalf("status = %q, want pending after requeue", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
	if strings.Contains(got.FilePaths[0], `\`) {
		t.Errorf("path separators not normalized: %q", got.FilePaths[0])
	}
	if got.Error != "" {
		t.Errorf("error not cleared: %q", got.Error)
	}
}

func TestRepairRequeuesOrphanedProcessingTask(t *testing.T) {
	agent, store, _, _, _ := testAgent(t, 3)

	added, err := store.Add(task.Task{Type: task.TypeProcessSession, FilePaths: []string{"a.wav"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateStatus(added.ID, task.StatusProcessing, ""); err != nil {
		t.Fatal(err)
	}

	if err := agent.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := taskByID(t, store, added.ID); got.Status != task.StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
}

func TestRepairLeavesUnrecognizedFailuresAlone(t *testing.T) {
	agent, store, _, _, _ := testAgent(t, 3)

	added, err := store.Add(task.Task{Type: task.TypeProcessSession, FilePaths: []string{"a.wav"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateStatus(added.ID, task.StatusFailed, "summarizing 20250113: model overloaded"); err != nil {
		t.Fatal(err)
	}

	if err := agent.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := taskByID(t, store, added.ID); got.Status != task.StatusFailed {
		t.Fatalf("status = %q, want failed untouched", got.Status)
	}
}

func TestRepairStopsAtRetryCap(t *testing.T) {
	agent, store, _, _, _ := testAgent(t, 2)

	added, err := store.Add(task.Task{Type: task.TypeProcessSession, FilePaths: []string{"a.wav"}})
	if err != nil {
		t.Fatal(err)
	}

	fail := func() {
		t.Helper()
		if err := store.UpdateStatus(added.ID, task.StatusFailed, "stat a.wav: no such file or directory"); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 3; i++ {
		fail()
		if err := agent.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	got := taskByID(t, store, added.ID)
	if got.RetryCount != 2 {
		t.Errorf("retry count = %d, want capped at 2", got.RetryCount)
	}
	if got.Status != task.StatusFailed {
		t.Errorf("status = %q, want failed once the cap is hit", got.Status)
	}
}

func TestSecondRunIsIdempotent(t *testing.T) {
	agent, _, clients, layout, constructions := testAgent(t, 3)

	write(t, filepath.Join(layout.Recordings, "20250114_100000.wav"), "fake-wav")

	if err := agent.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	firstConstructions := *constructions
	if firstConstructions == 0 {
		t.Fatal("first run constructed no clients")
	}

	if err := agent.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if clients.transcribes != 1 || clients.summaries != 1 || clients.chapters != 1 || clients.images != 1 {
		t.Errorf("generators re-ran: transcribe %d, summarize %d, chapter %d, image %d",
			clients.transcribes, clients.summaries, clients.chapters, clients.images)
	}
	if clients.syncs != 2 {
		t.Errorf("sync calls = %d, want one per run", clients.syncs)
	}
}

func TestCheckLogsDoesNotBlockRun(t *testing.T) {
	agent, _, clients, layout, _ := testAgent(t, 3)

	var log strings.Builder
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&log, "panic: runtime error: index out of range [%d]\n", i)
	}
	if err := os.WriteFile(layout.LogFile(), []byte(log.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := agent.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if clients.syncs != 1 {
		t.Errorf("sync calls = %d, want 1", clients.syncs)
	}
}

func taskByID(t *testing.T, store *task.Store, id string) task.Task {
	t.Helper()
	all, err := store.All()
	if err != nil {
		t.Fatal(err)
	}
	for _, tk := range all {
		if tk.ID == id {
			return tk
		}
	}
	t.Fatalf("task %s not found", id)
	return task.Task{}
}
