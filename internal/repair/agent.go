// Package repair reconciles the artifact tree with what the pipeline
// should have produced. It re-queues tasks that failed on missing
// files, backfills every artifact stage from whatever its inputs are,
// scans the daemon log for crash signatures, and finishes with a
// remote sync. Every phase is idempotent; a clean tree makes the pass
// a no-op that constructs no clients.
package repair

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tkhr/chronicle/internal/artifact"
	"github.com/tkhr/chronicle/internal/capture"
	"github.com/tkhr/chronicle/internal/pipeline"
	"github.com/tkhr/chronicle/internal/task"
)

// missingFileSignatures mark task errors that a path fix plus a retry
// can plausibly cure. Matched case-insensitively.
var missingFileSignatures = []string{
	"no such file",
	"cannot find the file",
	"file does not exist",
	"filenotfounderror",
}

// logSignatures are scanned for in the daemon log; they indicate
// defects a retry will not fix and are surfaced for a human.
var logSignatures = []string{
	"panic:",
	"runtime error:",
	"undefined symbol",
}

// Store is the slice of the task queue the agent needs.
type Store interface {
	All() ([]task.Task, error)
	Requeue(id string, paths []string) error
}

// Clients are lazy constructors for the stage collaborators. A phase
// that finds nothing missing never invokes its constructor.
type Clients struct {
	Transcriber func() pipeline.Transcriber
	Diarizer    func() pipeline.Diarizer
	Summarizer  func() pipeline.Summarizer
	Novelist    func() pipeline.Novelist
	Prompts     func() pipeline.PromptExtractor
	Images      func() pipeline.ImageGenerator
}

type Agent struct {
	store          Store
	stages         *pipeline.Stages
	layout         artifact.Layout
	syncer         pipeline.Syncer
	maxAutoRepairs int
	logger         *slog.Logger

	transcriber *pipeline.Handle[pipeline.Transcriber]
	diarizer    *pipeline.Handle[pipeline.Diarizer]
	summarizer  *pipeline.Handle[pipeline.Summarizer]
	novelist    *pipeline.Handle[pipeline.Novelist]
	prompts     *pipeline.Handle[pipeline.PromptExtractor]
	images      *pipeline.Handle[pipeline.ImageGenerator]
}

func NewAgent(store Store, stages *pipeline.Stages, clients Clients, syncer pipeline.Syncer, maxAutoRepairs int, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		store:          store,
		stages:         stages,
		layout:         stages.Layout(),
		syncer:         syncer,
		maxAutoRepairs: maxAutoRepairs,
		logger:         logger,
		transcriber:    pipeline.NewHandle(clients.Transcriber),
		diarizer:       pipeline.NewHandle(clients.Diarizer),
		summarizer:     pipeline.NewHandle(clients.Summarizer),
		novelist:       pipeline.NewHandle(clients.Novelist),
		prompts:        pipeline.NewHandle(clients.Prompts),
		images:         pipeline.NewHandle(clients.Images),
	}
}

// Run executes one full repair pass. Phase order matters: tasks are
// re-queued first so the engine picks them up next tick, then each
// artifact stage is backfilled in pipeline order so a later phase can
// consume what an earlier one just produced.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.repairTasks(); err != nil {
		return err
	}
	if err := a.backfillTranscripts(ctx); err != nil {
		return err
	}
	if err := a.backfillSummaries(ctx); err != nil {
		return err
	}
	if err := a.backfillChapters(ctx); err != nil {
		return err
	}
	if err := a.backfillPhotos(ctx); err != nil {
		return err
	}
	a.checkLogs()
	if err := a.syncer.Sync(ctx); err != nil {
		a.logger.Warn("repair sync failed", "error", err)
	}
	return nil
}

// repairTasks re-queues stuck and path-broken tasks, up to the auto
// repair cap per task.
func (a *Agent) repairTasks() error {
	tasks, err := a.store.All()
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}

	for _, t := range tasks {
		switch t.Status {
		case task.StatusProcessing, task.StatusFailed, task.StatusDiscarded:
		default:
			continue
		}
		if t.RetryCount >= a.maxAutoRepairs {
			continue
		}

		// A processing task with no error was orphaned by a crash
		// mid-flight; anything else needs a repairable signature.
		stale := t.Status == task.StatusProcessing && t.Error == ""
		if !stale && !matchesMissingFile(t.Error) {
			continue
		}

		paths := make([]string, len(t.FilePaths))
		for i, p := range t.FilePaths {
			paths[i] = strings.ReplaceAll(p, `\`, "/")
		}
		if err := a.store.Requeue(t.ID, paths); err != nil {
			return fmt.Errorf("requeueing task %s: %w", t.ID, err)
		}
		a.logger.Info("requeued task", "task", t.ID, "status", t.Status, "error", t.Error, "retries", t.RetryCount+1)
	}
	return nil
}

func matchesMissingFile(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	if lower == "" {
		return false
	}
	for _, sig := range missingFileSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// backfillTranscripts transcribes every recording still waiting in the
// recordings directory that has no transcript. The transcriber is
// released (and its model unloaded) once the batch is done.
func (a *Agent) backfillTranscripts(ctx context.Context) error {
	recordings, err := a.layout.RecordingFiles()
	if err != nil {
		return fmt.Errorf("listing recordings: %w", err)
	}

	defer a.transcriber.Release(func(tr pipeline.Transcriber) {
		if err := tr.Unload(ctx); err != nil {
			a.logger.Warn("transcriber unload failed", "error", err)
		}
	})

	for _, rec := range recordings {
		if artifact.Exists(a.layout.TranscriptPath(rec)) {
			continue
		}
		a.logger.Info("backfilling transcript", "recording", rec)
		if _, err := a.stages.ProcessSegment(ctx, a.transcriber.Get(), a.diarizer.Get(), rec); err != nil {
			a.logger.Error("transcript backfill failed", "recording", rec, "error", err)
		}
	}
	return nil
}

func (a *Agent) backfillSummaries(ctx context.Context) error {
	dates, err := a.layout.TranscriptDates()
	if err != nil {
		return fmt.Errorf("listing transcript dates: %w", err)
	}
	for _, date := range dates {
		if artifact.Exists(a.layout.SummaryPath(date)) {
			continue
		}
		a.logger.Info("backfilling summary", "date", date)
		var sess *capture.Session
		if err := a.stages.SummarizeDate(ctx, a.summarizer.Get(), date, sess); err != nil {
			a.logger.Error("summary backfill failed", "date", date, "error", err)
		}
	}
	return nil
}

func (a *Agent) backfillChapters(ctx context.Context) error {
	dates, err := a.layout.SummaryDates()
	if err != nil {
		return fmt.Errorf("listing summary dates: %w", err)
	}
	for _, date := range dates {
		if artifact.Exists(a.layout.ChapterPath(date)) {
			continue
		}
		a.logger.Info("backfilling chapter", "date", date)
		if err := a.stages.WriteChapter(ctx, a.novelist.Get(), date); err != nil {
			a.logger.Error("chapter backfill failed", "date", date, "error", err)
		}
	}
	return nil
}

func (a *Agent) backfillPhotos(ctx context.Context) error {
	dates, err := a.layout.ChapterDates()
	if err != nil {
		return fmt.Errorf("listing chapter dates: %w", err)
	}
	for _, date := range dates {
		if artifact.Exists(a.layout.PhotoPath(date)) {
			continue
		}
		a.logger.Info("backfilling photo", "date", date)
		if err := a.stages.GeneratePhoto(ctx, a.prompts.Get(), a.images.Get(), a.layout.ChapterPath(date), a.layout.PhotoPath(date)); err != nil {
			a.logger.Error("photo backfill failed", "date", date, "error", err)
		}
	}
	return nil
}

// checkLogs scans the daemon log for crash signatures. Findings are
// surfaced, not acted on; a retry does not fix a panic.
func (a *Agent) checkLogs() {
	f, err := os.Open(a.layout.LogFile())
	if err != nil {
		return
	}
	defer f.Close()

	counts := make(map[string]int, len(logSignatures))
	samples := make(map[string]string, len(logSignatures))
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		for _, sig := range logSignatures {
			if strings.Contains(line, sig) {
				counts[sig]++
				if samples[sig] == "" {
					samples[sig] = line
				}
			}
		}
	}

	for _, sig := range logSignatures {
		if counts[sig] > 0 {
			a.logger.Warn("crash signature in daemon log", "signature", sig, "count", counts[sig], "sample", samples[sig])
		}
	}
}
