package capture

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/tkhr/chronicle/internal/config"
)

type fakeSource struct {
	ch     chan Block
	starts int
	stops  int
}

func (f *fakeSource) Start() (<-chan Block, error) {
	f.starts++
	f.ch = make(chan Block)
	return f.ch, nil
}

func (f *fakeSource) Stop() error {
	f.stops++
	return nil
}

// fakeClock advances by step on every reading, making rotation
// deterministic without sleeping.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func testConfig() config.CaptureConfig {
	return config.CaptureConfig{
		SampleRate:       16000,
		Channels:         1,
		BlockSize:        1024,
		SilenceThreshold: 100,
		Rotation:         30 * time.Minute,
	}
}

func loudBlock() Block {
	b := make(Block, 256)
	for i := range b {
		b[i] = 1000
	}
	return b
}

func newTestRecorder(t *testing.T, clock *fakeClock) (*Recorder, *fakeSource) {
	t.Helper()
	src := &fakeSource{}
	r := NewRecorder(testConfig(), t.TempDir(), src)
	r.now = clock.Now
	return r, src
}

func TestStartIdempotent(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	r, src := newTestRecorder(t, clock)

	first, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("second Start returned %q, want the active segment %q", second, first)
	}
	if src.starts != 1 {
		t.Errorf("source started %d times, want 1", src.starts)
	}
	r.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r, _ := newTestRecorder(t, clock)
	if sess := r.Stop(); sess != nil {
		t.Errorf("Stop() = %+v, want nil when idle", sess)
	}
}

func TestSilentSessionProducesNothing(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), step: time.Second}
	r, src := newTestRecorder(t, clock)

	path, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	src.ch <- make(Block, 256) // all zeros, below threshold

	sess := r.Stop()
	if sess != nil {
		t.Errorf("Stop() = %+v, want nil for an all-silent session", sess)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("empty segment file left on disk")
	}
}

func TestRotationSegmentCount(t *testing.T) {
	// Each clock reading advances 10 minutes. Over seven blocks the
	// session spans ~70 minutes against a 30 minute rotation, so the
	// segment list must come back with ceil(70/30) = 3 files.
	clock := &fakeClock{
		t:    time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		step: 10 * time.Minute,
	}
	r, src := newTestRecorder(t, clock)

	if _, err := r.Start(); err != nil {
		t.Fatal(err)
	}
	for range 7 {
		src.ch <- loudBlock()
	}

	sess := r.Stop()
	if sess == nil {
		t.Fatal("Stop() = nil, want a session")
	}
	if len(sess.FilePaths) != 3 {
		t.Fatalf("got %d segments, want 3: %v", len(sess.FilePaths), sess.FilePaths)
	}
	for _, p := range sess.FilePaths {
		info, err := os.Stat(p)
		if err != nil {
			t.Errorf("segment %s: %v", p, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("segment %s is empty", p)
		}
	}
	if sess.StartTime.Format("20060102") != "20250101" {
		t.Errorf("session start = %v", sess.StartTime)
	}
}

func TestVoicedBlocksOnlyAreWritten(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), step: time.Second}
	r, src := newTestRecorder(t, clock)

	path, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	src.ch <- loudBlock()
	src.ch <- make(Block, 256) // silence, dropped
	src.ch <- loudBlock()

	sess := r.Stop()
	if sess == nil || len(sess.FilePaths) != 1 {
		t.Fatalf("session = %+v, want one segment", sess)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	// Two voiced blocks of 256 samples at 16-bit: 1024 data bytes plus
	// the WAV header. The silent block must not add to that.
	const wantData = 2 * 256 * 2
	if info.Size() < wantData || info.Size() > wantData+128 {
		t.Errorf("segment size = %d, want about %d + header", info.Size(), wantData)
	}
}

func TestSourceFailureKeepsSegments(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), step: time.Second}
	r, src := newTestRecorder(t, clock)

	if _, err := r.Start(); err != nil {
		t.Fatal(err)
	}
	src.ch <- loudBlock()
	close(src.ch) // device died

	sess := r.Stop()
	if sess == nil || len(sess.FilePaths) != 1 {
		t.Fatalf("session = %+v, want the flushed segment to survive", sess)
	}
	if !fileNonEmpty(t, sess.FilePaths[0]) {
		t.Error("surviving segment is empty")
	}
}

func TestRestartAfterStop(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), step: time.Second}
	r, src := newTestRecorder(t, clock)

	if _, err := r.Start(); err != nil {
		t.Fatal(err)
	}
	src.ch <- loudBlock()
	if sess := r.Stop(); sess == nil {
		t.Fatal("first session missing")
	}

	if _, err := r.Start(); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	src.ch <- loudBlock()
	if sess := r.Stop(); sess == nil || len(sess.FilePaths) != 1 {
		t.Fatalf("second session = %+v", sess)
	}
	if src.starts != 2 || src.stops != 2 {
		t.Errorf("source starts/stops = %d/%d, want 2/2", src.starts, src.stops)
	}
}

func fileNonEmpty(t *testing.T, path string) bool {
	t.Helper()
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
