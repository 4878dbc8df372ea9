package capture

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// segmentWriter writes voiced blocks to one WAV segment file. A segment
// that never receives a block is deleted on close so callers only ever
// see non-empty files.
type segmentWriter struct {
	path    string
	file    *os.File
	enc     *wav.Encoder
	format  *audio.Format
	written bool
}

func newSegmentWriter(path string, sampleRate, channels int) (*segmentWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating segment %s: %w", path, err)
	}
	return &segmentWriter{
		path:   path,
		file:   f,
		enc:    wav.NewEncoder(f, sampleRate, 16, channels, 1),
		format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
	}, nil
}

func (w *segmentWriter) Write(b Block) error {
	data := make([]int, len(b))
	for i, s := range b {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{Format: w.format, Data: data, SourceBitDepth: 16}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("writing segment %s: %w", w.path, err)
	}
	w.written = true
	return nil
}

// Close flushes and closes the segment. It reports whether the segment
// holds any audio; empty segments are removed from disk.
func (w *segmentWriter) Close() (bool, error) {
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if !w.written {
		os.Remove(w.path)
		return false, nil
	}
	if encErr != nil {
		return true, fmt.Errorf("finalizing segment %s: %w", w.path, encErr)
	}
	if fileErr != nil {
		return true, fmt.Errorf("closing segment %s: %w", w.path, fileErr)
	}
	return true, nil
}
