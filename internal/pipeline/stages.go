package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tkhr/chronicle/internal/artifact"
	"github.com/tkhr/chronicle/internal/capture"
	"github.com/tkhr/chronicle/internal/trace"
)

// Stages holds the shared state of the individual stage processors.
// Collaborators are passed per call so callers can construct them
// lazily and release them between batches.
type Stages struct {
	layout artifact.Layout
	trace  *trace.Logger
	logger *slog.Logger
}

func NewStages(layout artifact.Layout, tr *trace.Logger, logger *slog.Logger) *Stages {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stages{layout: layout, trace: tr, logger: logger}
}

func (s *Stages) Layout() artifact.Layout { return s.layout }

// ProcessSegment produces the transcript for one audio segment and
// returns its text. An existing transcript is read back instead of
// re-transcribing. Diarization failure degrades to an unattributed
// transcript rather than failing the segment.
func (s *Stages) ProcessSegment(ctx context.Context, tr Transcriber, di Diarizer, segPath string) (string, error) {
	outPath := s.layout.TranscriptPath(segPath)
	if artifact.Exists(outPath) {
		data, err := os.ReadFile(outPath)
		if err != nil {
			return "", fmt.Errorf("reading transcript %s: %w", outPath, err)
		}
		return string(data), nil
	}

	if _, err := os.Stat(segPath); err != nil {
		return "", fmt.Errorf("reading segment: %w", err)
	}

	segs, err := tr.Transcribe(ctx, segPath)
	if err != nil {
		return "", fmt.Errorf("transcribing %s: %w", segPath, err)
	}

	text := MergeSpeakers(segs, nil)
	if di != nil {
		turns, derr := di.Diarize(ctx, segPath)
		if derr != nil {
			s.logger.Warn("diarization failed, keeping plain transcript", "segment", segPath, "error", derr)
		} else {
			text = MergeSpeakers(segs, turns)
		}
	}

	if err := artifact.WriteFile(outPath, []byte(text)); err != nil {
		return "", fmt.Errorf("writing transcript: %w", err)
	}
	s.logger.Info("transcript written", "segment", segPath, "transcript", outPath, "chars", len(text))
	return text, nil
}

// SummarizeDate writes the daily summary for date from all of its
// transcripts. A pre-existing summary or an empty transcript set is a
// no-op. sess carries the session bounds when known; nil means backfill.
func (s *Stages) SummarizeDate(ctx context.Context, sum Summarizer, date string, sess *capture.Session) error {
	outPath := s.layout.SummaryPath(date)
	if artifact.Exists(outPath) {
		s.logger.Info("summary exists, skipping", "date", date)
		return nil
	}

	files, err := s.layout.TranscriptsFor(date)
	if err != nil {
		return fmt.Errorf("listing transcripts for %s: %w", date, err)
	}
	if len(files) == 0 {
		s.logger.Info("no transcripts for date, skipping summary", "date", date)
		return nil
	}

	parts := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("reading transcript %s: %w", f, err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		s.logger.Info("transcripts for date are empty, skipping summary", "date", date)
		return nil
	}
	transcript := strings.Join(parts, "\n\n")

	dashed := date
	if t, err := time.Parse("20060102", date); err == nil {
		dashed = t.Format("2006-01-02")
	}
	start, end := "", ""
	if sess != nil {
		start = sess.StartTime.Format("15:04")
		end = sess.EndTime.Format("15:04")
	}

	text, err := sum.Summarize(ctx, transcript, dashed, start, end)
	if err != nil {
		return fmt.Errorf("summarizing %s: %w", date, err)
	}
	if err := artifact.WriteFile(outPath, []byte(text)); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	s.logger.Info("summary written", "date", date, "path", outPath)
	if s.trace != nil {
		s.trace.Log("summary", map[string]any{"date": date, "transcripts": len(files)}, text)
	}
	return nil
}

// WriteChapter appends the narrative chapter for date. The summary must
// already exist; an existing chapter file for the date is a no-op.
func (s *Stages) WriteChapter(ctx context.Context, nov Novelist, date string) error {
	outPath := s.layout.ChapterPath(date)
	if artifact.Exists(outPath) {
		s.logger.Info("chapter exists, skipping", "date", date)
		return nil
	}

	summaryPath := s.layout.SummaryPath(date)
	summary, err := os.ReadFile(summaryPath)
	if err != nil {
		return fmt.Errorf("reading summary for %s: %w", date, err)
	}

	// Tolerates a partially written file from an interrupted run.
	soFar, _ := os.ReadFile(outPath)

	chapter, err := nov.GenerateChapter(ctx, string(summary), string(soFar))
	if err != nil {
		return fmt.Errorf("generating chapter for %s: %w", date, err)
	}
	if err := s.layout.AppendChapter(date, chapter); err != nil {
		return fmt.Errorf("appending chapter: %w", err)
	}
	s.logger.Info("chapter written", "date", date, "path", outPath)
	if s.trace != nil {
		s.trace.Log("chapter", map[string]any{"date": date}, chapter)
	}
	return nil
}

// GeneratePhoto renders the illustration for a chapter. An existing
// photo is a no-op; a missing chapter is an error, the caller decides
// whether that defers or fails the task.
func (s *Stages) GeneratePhoto(ctx context.Context, pe PromptExtractor, ig ImageGenerator, chapterPath, photoPath string) error {
	if artifact.Exists(photoPath) {
		s.logger.Info("photo exists, skipping", "path", photoPath)
		return nil
	}

	chapter, err := os.ReadFile(chapterPath)
	if err != nil {
		return fmt.Errorf("reading chapter %s: %w", chapterPath, err)
	}

	scene, err := pe.ImagePrompt(ctx, string(chapter))
	if err != nil {
		return fmt.Errorf("extracting image prompt: %w", err)
	}
	prompt, negative := ig.BuildPrompt(scene)
	if err := ig.Generate(ctx, prompt, negative, photoPath); err != nil {
		return fmt.Errorf("generating photo: %w", err)
	}
	s.logger.Info("photo written", "path", photoPath)
	if s.trace != nil {
		s.trace.Log("photo", map[string]any{"path": photoPath}, scene)
	}
	return nil
}
