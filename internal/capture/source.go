// Package capture owns the recording session manager: a background loop
// that samples an audio source, drops silent blocks, rotates segment
// files on a fixed interval, and hands the finished segment list back as
// a session when capture stops.
package capture

import "time"

// Block is one fixed-size chunk of mono/interleaved PCM samples.
type Block []int16

// Source abstracts the audio input device. Start returns a channel of
// capture blocks; the channel closes when the source stops or fails.
type Source interface {
	Start() (<-chan Block, error)
	Stop() error
}

// Session is the unit handed from capture to the pipeline: one
// continuous capture interval and its ordered, non-empty segment files.
type Session struct {
	StartTime time.Time
	EndTime   time.Time
	FilePaths []string
}

// Date returns the session's YYYYMMDD idempotency key.
func (s *Session) Date() string {
	return s.StartTime.Format("20060102")
}
