package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tkhr/chronicle/internal/artifact"
	"github.com/tkhr/chronicle/internal/capture"
	"github.com/tkhr/chronicle/internal/task"
)

// Deps are the collaborators the engine dispatches to. Diarizer may be
// nil when speaker attribution is unavailable.
type Deps struct {
	Transcriber Transcriber
	Diarizer    Diarizer
	Summarizer  Summarizer
	Prompts     PromptExtractor
	Images      ImageGenerator
	Syncer      Syncer
}

// Options tune dispatch behavior for a run.
type Options struct {
	// StrictPhotoTasks fails a photo task whose chapter is missing
	// instead of leaving it pending for the repair pass.
	StrictPhotoTasks bool
	// ArchiveAfterProcess moves recordings to the archive directory
	// once their session task completes.
	ArchiveAfterProcess bool
}

// Engine drains the runnable tasks once per call. Task-level failures
// are recorded on the task and never stop the sweep; store failures
// propagate to the caller.
type Engine struct {
	store  TaskStore
	stages *Stages
	deps   Deps
	opts   Options
	logger *slog.Logger
}

func NewEngine(store TaskStore, stages *Stages, deps Deps, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, stages: stages, deps: deps, opts: opts, logger: logger}
}

// Work processes every runnable task in insertion order. A task with no
// type is discarded; an unknown type is discarded with the type in the
// error. A deferred photo task goes back to pending untouched.
func (e *Engine) Work(ctx context.Context) error {
	tasks, err := e.store.ListRunnable()
	if err != nil {
		return fmt.Errorf("listing runnable tasks: %w", err)
	}

	for _, t := range tasks {
		if t.Type == "" {
			e.logger.Warn("discarding task without type", "task", t.ID)
			if err := e.store.UpdateStatus(t.ID, task.StatusDiscarded, "task has no type"); err != nil {
				return err
			}
			continue
		}

		if err := e.store.UpdateStatus(t.ID, task.StatusProcessing, ""); err != nil {
			return err
		}

		done := true
		var taskErr error
		switch t.Type {
		case task.TypeProcessSession:
			taskErr = e.processSession(ctx, t)
		case task.TypeGeneratePhoto:
			done, taskErr = e.generatePhoto(ctx, t)
		default:
			e.logger.Warn("discarding task of unknown type", "task", t.ID, "type", t.Type)
			if err := e.store.UpdateStatus(t.ID, task.StatusDiscarded, fmt.Sprintf("unknown task type %q", t.Type)); err != nil {
				return err
			}
			continue
		}

		switch {
		case taskErr != nil:
			e.logger.Error("task failed", "task", t.ID, "type", t.Type, "error", taskErr)
			if err := e.store.UpdateStatus(t.ID, task.StatusFailed, taskErr.Error()); err != nil {
				return err
			}
		case !done:
			if err := e.store.UpdateStatus(t.ID, task.StatusPending, ""); err != nil {
				return err
			}
		default:
			if err := e.store.Complete(t.ID); err != nil {
				return err
			}
			e.logger.Info("task completed", "task", t.ID, "type", t.Type)
		}
	}
	return nil
}

func (e *Engine) processSession(ctx context.Context, t task.Task) error {
	if len(t.FilePaths) == 0 {
		return fmt.Errorf("session task has no recordings")
	}

	paths := make([]string, len(t.FilePaths))
	for i, p := range t.FilePaths {
		paths[i] = strings.ReplaceAll(p, `\`, "/")
	}

	sess := sessionOf(t, paths)
	date := t.Date
	if date == "" {
		if sess != nil {
			date = sess.Date()
		} else {
			date = artifact.DateOf(paths[0])
		}
	}
	if date == "" {
		return fmt.Errorf("cannot derive a date for session task %s", t.ID)
	}

	for _, p := range paths {
		if _, err := e.stages.ProcessSegment(ctx, e.deps.Transcriber, e.deps.Diarizer, p); err != nil {
			return err
		}
	}
	if err := e.deps.Transcriber.Unload(ctx); err != nil {
		e.logger.Warn("transcriber unload failed", "error", err)
	}

	if err := e.stages.SummarizeDate(ctx, e.deps.Summarizer, date, sess); err != nil {
		return err
	}

	// Artifacts are on disk at this point; a sync failure is left for
	// the next repair pass instead of failing the task.
	if err := e.deps.Syncer.Sync(ctx); err != nil {
		e.logger.Warn("remote sync failed", "error", err)
	}

	if e.opts.ArchiveAfterProcess {
		for _, p := range paths {
			if err := e.stages.layout.Archive(p); err != nil {
				e.logger.Warn("archiving recording failed", "path", p, "error", err)
			}
		}
	}
	return nil
}

// generatePhoto returns done=false when the chapter is not ready yet
// and strict mode is off, which leaves the task pending.
func (e *Engine) generatePhoto(ctx context.Context, t task.Task) (bool, error) {
	chapterPath := strings.ReplaceAll(t.NovelPath, `\`, "/")
	date := t.Date
	if date == "" {
		date = artifact.DateOf(chapterPath)
	}
	if chapterPath == "" {
		if date == "" {
			return true, fmt.Errorf("photo task has neither chapter path nor date")
		}
		chapterPath = e.stages.layout.ChapterPath(date)
	}
	photoPath := strings.ReplaceAll(t.PhotoPath, `\`, "/")
	if photoPath == "" {
		if date == "" {
			return true, fmt.Errorf("photo task for %s has no date to derive a photo path from", chapterPath)
		}
		photoPath = e.stages.layout.PhotoPath(date)
	}

	if !artifact.Exists(chapterPath) {
		if e.opts.StrictPhotoTasks {
			return true, fmt.Errorf("chapter not ready: %s", chapterPath)
		}
		e.logger.Info("chapter not ready, deferring photo task", "task", t.ID, "chapter", chapterPath)
		return false, nil
	}

	if err := e.stages.GeneratePhoto(ctx, e.deps.Prompts, e.deps.Images, chapterPath, photoPath); err != nil {
		return true, err
	}
	return true, nil
}

func sessionOf(t task.Task, paths []string) *capture.Session {
	sess := &capture.Session{FilePaths: paths}
	if start, err := time.ParseInLocation("20060102_150405", t.StartTime, time.Local); err == nil {
		sess.StartTime = start
	} else if stem := artifact.Stem(paths[0]); len(stem) >= 15 {
		if start, err := time.ParseInLocation("20060102_150405", stem[:15], time.Local); err == nil {
			sess.StartTime = start
		}
	}
	if sess.StartTime.IsZero() {
		return nil
	}
	sess.EndTime = time.Now()
	if t.CreatedAt.After(sess.StartTime) {
		sess.EndTime = t.CreatedAt
	}
	return sess
}
