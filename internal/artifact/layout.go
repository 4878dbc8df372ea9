// Package artifact defines the on-disk artifact tree and its naming
// conventions. Every pipeline stage and the repair agent resolve paths
// through this package so the idempotency keys stay in one place.
//
// Daily artifacts are keyed by YYYYMMDD, per-segment artifacts by
// YYYYMMDD_HHMMSS (the recording segment's start time).
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Layout holds the directory per stage, all rooted under the data dir.
type Layout struct {
	Recordings  string
	Transcripts string
	Summaries   string
	Chapters    string
	Photos      string
	Archives    string
	Logs        string
}

// NewLayout derives the stage directories from dataDir. It does not
// create them; EnsureDirs does.
func NewLayout(dataDir string) Layout {
	return Layout{
		Recordings:  filepath.Join(dataDir, "recordings"),
		Transcripts: filepath.Join(dataDir, "transcripts"),
		Summaries:   filepath.Join(dataDir, "summaries"),
		Chapters:    filepath.Join(dataDir, "novels"),
		Photos:      filepath.Join(dataDir, "photos"),
		Archives:    filepath.Join(dataDir, "archives"),
		Logs:        filepath.Join(dataDir, "logs"),
	}
}

// EnsureDirs creates every stage directory.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.Recordings, l.Transcripts, l.Summaries, l.Chapters, l.Photos, l.Archives, l.Logs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// LogFile is the process log the repair agent scans for fatal signatures.
func (l Layout) LogFile() string {
	return filepath.Join(l.Logs, "chronicle.log")
}

// TranscriptPath maps a recording segment to its raw transcript.
func (l Layout) TranscriptPath(segmentPath string) string {
	return filepath.Join(l.Transcripts, Stem(segmentPath)+".txt")
}

// CleanedTranscriptPath maps a recording segment to its cleaned transcript.
func (l Layout) CleanedTranscriptPath(segmentPath string) string {
	return filepath.Join(l.Transcripts, "cleaned_"+Stem(segmentPath)+".txt")
}

// SummaryPath is the daily summary artifact for a YYYYMMDD date key.
func (l Layout) SummaryPath(date string) string {
	return filepath.Join(l.Summaries, date+"_summary.txt")
}

// ChapterPath is the narrative chapter artifact for a date key.
func (l Layout) ChapterPath(date string) string {
	return filepath.Join(l.Chapters, date+".md")
}

// PhotoPath is the illustration artifact for a date key.
func (l Layout) PhotoPath(date string) string {
	return filepath.Join(l.Photos, date+".png")
}

// Stem returns the file name without directory or extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var dateKeyRe = regexp.MustCompile(`(\d{8})`)

// DateOf extracts the YYYYMMDD key from an artifact path, or "" when the
// name carries none.
func DateOf(path string) string {
	return dateKeyRe.FindString(Stem(path))
}

// IsDateKey reports whether s is exactly an 8-digit date key.
func IsDateKey(s string) bool {
	if len(s) != 8 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Exists reports whether path holds a finished artifact: present and
// non-empty. Half-written files never reach their final name (see
// WriteFile), so an empty file is treated as absent rather than done.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// WriteFile writes content to path via a temp file in the same directory
// followed by a rename, so a crash never leaves a partial artifact under
// the final name.
func WriteFile(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// AppendChapter appends a chapter to the date's narrative file, creating
// it when absent. Existing narrative text is never overwritten.
func (l Layout) AppendChapter(date, chapter string) error {
	path := l.ChapterPath(date)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading chapter file: %w", err)
	}
	var content string
	if len(existing) > 0 {
		content = strings.TrimRight(string(existing), "\n") + "\n\n" + chapter
	} else {
		content = chapter
	}
	return WriteFile(path, []byte(content))
}

// Archive moves path into the archives directory, keeping its base name.
func (l Layout) Archive(path string) error {
	if err := os.MkdirAll(l.Archives, 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	dst := filepath.Join(l.Archives, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("archiving %s: %w", path, err)
	}
	return nil
}

var audioExts = map[string]bool{".wav": true, ".flac": true, ".mp3": true}

// RecordingFiles lists audio segment files in the recordings dir, sorted by name.
func (l Layout) RecordingFiles() ([]string, error) {
	entries, err := os.ReadDir(l.Recordings)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading recordings dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !audioExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(l.Recordings, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// TranscriptDates returns the sorted set of date keys that have at least
// one transcript.
func (l Layout) TranscriptDates() ([]string, error) {
	return l.datesIn(l.Transcripts, ".txt", false)
}

// SummaryDates returns the sorted date keys that have a daily summary.
func (l Layout) SummaryDates() ([]string, error) {
	entries, err := os.ReadDir(l.Summaries)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading summaries dir: %w", err)
	}
	var dates []string
	for _, e := range entries {
		stem := Stem(e.Name())
		date, ok := strings.CutSuffix(stem, "_summary")
		if !ok || !IsDateKey(date) {
			// Session-scoped summaries (YYYYMMDD_HHMMSS_summary.txt)
			// are not daily artifacts.
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

// ChapterDates returns the sorted date keys that have a narrative chapter.
func (l Layout) ChapterDates() ([]string, error) {
	return l.datesIn(l.Chapters, ".md", true)
}

// TranscriptsFor lists the transcripts for a date, preferring cleaned
// ones when any exist, sorted by name (capture order).
func (l Layout) TranscriptsFor(date string) ([]string, error) {
	cleaned, err := filepath.Glob(filepath.Join(l.Transcripts, "cleaned_"+date+"_*.txt"))
	if err != nil {
		return nil, err
	}
	if len(cleaned) > 0 {
		sort.Strings(cleaned)
		return cleaned, nil
	}
	raw, err := filepath.Glob(filepath.Join(l.Transcripts, date+"_*.txt"))
	if err != nil {
		return nil, err
	}
	sort.Strings(raw)
	return raw, nil
}

func (l Layout) datesIn(dir, ext string, exact bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	seen := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		var date string
		if exact {
			stem := Stem(e.Name())
			if !IsDateKey(stem) {
				continue
			}
			date = stem
		} else {
			date = DateOf(e.Name())
			if date == "" {
				continue
			}
		}
		seen[date] = true
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}
