package capture

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tkhr/chronicle/internal/config"
)

// Recorder manages capture sessions. Start is idempotent; Stop signals
// the capture loop and joins it, so no segment file is still open for
// writing when Stop returns.
type Recorder struct {
	cfg    config.CaptureConfig
	dir    string
	src    Source
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	active  bool
	current string
	stopCh  chan struct{}
	doneCh  chan struct{}
	result  *Session
}

// NewRecorder creates a recorder writing segments into dir.
func NewRecorder(cfg config.CaptureConfig, dir string, src Source) *Recorder {
	return &Recorder{
		cfg:    cfg,
		dir:    dir,
		src:    src,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Recording reports whether a capture session is live.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start begins a capture session and returns the active segment path.
// Calling Start while already capturing returns the current segment path
// without side effects.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return r.current, nil
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating recordings dir: %w", err)
	}
	blocks, err := r.src.Start()
	if err != nil {
		return "", fmt.Errorf("starting audio source: %w", err)
	}

	start := r.now()
	path := r.segmentPath(start)
	r.active = true
	r.current = path
	r.result = nil
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go r.loop(blocks, r.stopCh, r.doneCh, path, start)

	r.logger.Info("capture started", "segment", path)
	return path, nil
}

// Stop ends the session. It blocks until the capture loop has flushed
// and closed the current segment, then returns the session, or nil when
// no capture was active or no segment held any audio.
func (r *Recorder) Stop() *Session {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil
	}
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	<-doneCh

	if err := r.src.Stop(); err != nil {
		r.logger.Warn("stopping audio source", "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.current = ""
	sess := r.result
	r.result = nil
	if sess != nil {
		r.logger.Info("capture stopped", "segments", len(sess.FilePaths))
	} else {
		r.logger.Info("capture stopped", "segments", 0)
	}
	return sess
}

func (r *Recorder) segmentPath(t time.Time) string {
	return filepath.Join(r.dir, t.Format("20060102_150405")+".wav")
}

func (r *Recorder) loop(blocks <-chan Block, stopCh <-chan struct{}, doneCh chan<- struct{}, firstPath string, sessionStart time.Time) {
	defer close(doneCh)

	var finished []string
	segStart := sessionStart

	w, err := newSegmentWriter(firstPath, r.cfg.SampleRate, r.cfg.Channels)
	if err != nil {
		r.logger.Error("opening segment", "error", err)
	}

	closeCurrent := func() {
		if w == nil {
			return
		}
		voiced, err := w.Close()
		if err != nil {
			r.logger.Error("closing segment", "error", err)
		}
		if voiced {
			finished = append(finished, w.path)
		}
		w = nil
	}

	for {
		select {
		case <-stopCh:
			closeCurrent()
			r.finish(finished, sessionStart)
			return
		case b, ok := <-blocks:
			if !ok {
				// Source failed underneath us; segments already
				// closed stay intact, the open one is flushed.
				r.logger.Warn("audio source closed unexpectedly")
				closeCurrent()
				r.finish(finished, sessionStart)
				return
			}

			now := r.now()
			if now.Sub(segStart) >= r.cfg.Rotation {
				closeCurrent()
				segStart = now
				path := r.segmentPath(now)
				next, err := newSegmentWriter(path, r.cfg.SampleRate, r.cfg.Channels)
				if err != nil {
					// The previous, closed segment is preserved;
					// blocks are dropped until the next rotation.
					r.logger.Error("rotating segment", "error", err)
				} else {
					w = next
					r.mu.Lock()
					r.current = path
					r.mu.Unlock()
					r.logger.Info("segment rotated", "segment", path)
				}
			}

			if w == nil {
				continue
			}
			if rms(b) > r.cfg.SilenceThreshold {
				if err := w.Write(b); err != nil {
					r.logger.Error("writing block", "error", err)
				}
			}
		}
	}
}

func (r *Recorder) finish(paths []string, start time.Time) {
	if len(paths) == 0 {
		return
	}
	r.mu.Lock()
	r.result = &Session{StartTime: start, EndTime: r.now(), FilePaths: paths}
	r.mu.Unlock()
}

// rms computes the root-mean-square level of a block.
func rms(b Block) float64 {
	if len(b) == 0 {
		return 0
	}
	var sum float64
	for _, s := range b {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(b)))
}
