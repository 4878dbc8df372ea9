// Package trace records one JSONL line per external model call, enough
// to audit what was generated when without storing the content itself.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends trace entries to a JSONL file.
type Logger struct {
	mu   sync.Mutex
	path string
}

// NewLogger writes traces to path (created on first entry).
func NewLogger(path string) *Logger {
	return &Logger{path: path}
}

type entry struct {
	Timestamp    string         `json:"timestamp"`
	Component    string         `json:"component"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ContentChars int            `json:"content_chars"`
}

// Log appends one entry. Trace failures are returned, not fatal; callers
// log and continue.
func (l *Logger) Log(component string, metadata map[string]any, content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := entry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Component:    component,
		Metadata:     metadata,
		ContentChars: len([]rune(content)),
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling trace entry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating trace dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening trace file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending trace entry: %w", err)
	}
	return nil
}
