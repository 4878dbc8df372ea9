// Package task persists the pipeline work queue. The whole task set is
// the durability unit: every mutation reloads the JSON file, applies the
// change, and atomically rewrites it. That makes restart recovery trivial
// at the cost of O(n) per mutation, which is fine at session granularity.
package task

import "time"

// Status values a task moves through. Transitions are monotonic except
// the repair agent's failed/discarded -> pending requeue.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusDiscarded  = "discarded"
)

// Task types dispatched by the pipeline engine.
const (
	TypeProcessSession = "process_session"
	TypeGeneratePhoto  = "generate_photo"
)

// Task is one unit of deferred pipeline work.
type Task struct {
	ID        string `json:"id"`
	Type      string `json:"type,omitempty"`
	Status    string `json:"status"`

	// process_session payload: ordered segment paths plus the session
	// start in YYYYMMDD_HHMMSS form.
	FilePaths []string `json:"file_paths,omitempty"`
	StartTime string   `json:"start_time,omitempty"`

	// generate_photo payload.
	Date      string `json:"date,omitempty"`
	NovelPath string `json:"novel_path,omitempty"`
	PhotoPath string `json:"photo_path,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
}
