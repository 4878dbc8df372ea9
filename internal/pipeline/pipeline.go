// Package pipeline drives tasks through the artifact chain:
// recording -> transcript -> daily summary, with the narrative chapter
// and illustration stages filled in behind them. Every stage checks for
// its artifact before calling a generator, so any stage can be re-run
// safely; the date (or segment stem) is the idempotency key.
package pipeline

import (
	"context"

	"github.com/tkhr/chronicle/internal/task"
	"github.com/tkhr/chronicle/internal/whisper"
)

// Transcriber converts one audio segment into timed transcript segments.
// Unload releases the backing model's memory after a batch.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]whisper.Segment, error)
	Unload(ctx context.Context) error
}

// Diarizer attributes speaker turns to an audio segment.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) ([]whisper.Turn, error)
}

// Summarizer writes the daily summary for a transcript. date is
// YYYY-MM-DD; start and end are HH:MM session bounds, empty when the
// session times are unknown (backfill).
type Summarizer interface {
	Summarize(ctx context.Context, transcript, date, start, end string) (string, error)
}

// Novelist continues the serialized narrative with one chapter.
type Novelist interface {
	GenerateChapter(ctx context.Context, summary, novelSoFar string) (string, error)
}

// PromptExtractor derives a visual scene prompt from chapter text.
type PromptExtractor interface {
	ImagePrompt(ctx context.Context, chapterText string) (string, error)
}

// ImageGenerator renders a prompt to a PNG file.
type ImageGenerator interface {
	BuildPrompt(sceneText string) (prompt, negative string)
	Generate(ctx context.Context, prompt, negative, outPath string) error
}

// Syncer pushes finished artifacts to the remote store.
type Syncer interface {
	Sync(ctx context.Context) error
}

// TaskStore is the slice of the task queue the engine needs.
type TaskStore interface {
	ListRunnable() ([]task.Task, error)
	UpdateStatus(id, status, errMsg string) error
	Complete(id string) error
}
