// Package web serves the local status API. It is read-only: the loop
// owns all writes, the API just reports on the queue and the artifact
// tree.
package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/tkhr/chronicle/internal/artifact"
	"github.com/tkhr/chronicle/internal/task"
)

// CaptureStatus reports whether a recording session is open.
type CaptureStatus interface {
	Recording() bool
}

// TaskLister is the read side of the task queue.
type TaskLister interface {
	All() ([]task.Task, error)
}

type Deps struct {
	Layout  artifact.Layout
	Tasks   TaskLister
	Capture CaptureStatus
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/api/status", handleStatus(deps))
	r.Get("/api/entries", handleListEntries(deps))
	r.Get("/api/entries/{date}", handleGetEntry(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type statusResponse struct {
	Capturing      bool           `json:"capturing"`
	TaskCounts     map[string]int `json:"task_counts"`
	ArtifactCounts map[string]int `json:"artifact_counts"`
	Dates          int            `json:"dates"`
	RecentTasks    []task.Task    `json:"recent_tasks"`
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := deps.Tasks.All()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list tasks: %v", err)
			return
		}

		counts := map[string]int{}
		for _, t := range tasks {
			counts[t.Status]++
		}

		recent := tasks
		if len(recent) > 10 {
			recent = recent[len(recent)-10:]
		}
		if recent == nil {
			recent = []task.Task{}
		}

		dates, err := entryDates(deps.Layout)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to scan artifacts: %v", err)
			return
		}
		artifacts, err := artifactCounts(deps.Layout)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to scan artifacts: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statusResponse{
			Capturing:      deps.Capture.Recording(),
			TaskCounts:     counts,
			ArtifactCounts: artifacts,
			Dates:          len(dates),
			RecentTasks:    recent,
		})
	}
}

type entrySummary struct {
	Date       string `json:"date"`
	HasSummary bool   `json:"has_summary"`
	HasChapter bool   `json:"has_chapter"`
	HasPhoto   bool   `json:"has_photo"`
}

func handleListEntries(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dates, err := entryDates(deps.Layout)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to scan artifacts: %v", err)
			return
		}

		entries := make([]entrySummary, 0, len(dates))
		for _, date := range dates {
			entries = append(entries, entrySummary{
				Date:       date,
				HasSummary: artifact.Exists(deps.Layout.SummaryPath(date)),
				HasChapter: artifact.Exists(deps.Layout.ChapterPath(date)),
				HasPhoto:   artifact.Exists(deps.Layout.PhotoPath(date)),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}

type entryDetail struct {
	Date      string `json:"date"`
	Summary   string `json:"summary,omitempty"`
	Chapter   string `json:"chapter,omitempty"`
	PhotoPath string `json:"photo_path,omitempty"`
}

func handleGetEntry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := chi.URLParam(r, "date")
		if !artifact.IsDateKey(date) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "date must be YYYYMMDD")
			return
		}

		detail := entryDetail{Date: date}
		if data, err := os.ReadFile(deps.Layout.SummaryPath(date)); err == nil {
			detail.Summary = string(data)
		}
		if data, err := os.ReadFile(deps.Layout.ChapterPath(date)); err == nil {
			detail.Chapter = string(data)
		}
		if p := deps.Layout.PhotoPath(date); artifact.Exists(p) {
			detail.PhotoPath = p
		}

		if detail.Summary == "" && detail.Chapter == "" && detail.PhotoPath == "" {
			httpError(w, http.StatusNotFound, "not_found", "no entry for %s", date)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(detail)
	}
}

// artifactCounts reports how many dates each pipeline stage has covered,
// plus recordings still waiting in the capture directory.
func artifactCounts(layout artifact.Layout) (map[string]int, error) {
	recordings, err := layout.RecordingFiles()
	if err != nil {
		return nil, err
	}
	counts := map[string]int{"recordings": len(recordings)}
	for name, list := range map[string]func() ([]string, error){
		"transcripts": layout.TranscriptDates,
		"summaries":   layout.SummaryDates,
		"chapters":    layout.ChapterDates,
	} {
		dates, err := list()
		if err != nil {
			return nil, err
		}
		counts[name] = len(dates)
	}
	return counts, nil
}

// entryDates is the union of dates that have any artifact at all.
func entryDates(layout artifact.Layout) ([]string, error) {
	seen := map[string]bool{}
	for _, list := range []func() ([]string, error){
		layout.TranscriptDates,
		layout.SummaryDates,
		layout.ChapterDates,
	} {
		dates, err := list()
		if err != nil {
			return nil, err
		}
		for _, d := range dates {
			seen[d] = true
		}
	}

	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
