package audio

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Eric-C-E/ESP32-LLL/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testFormat = PCMFormat{SampleRate: 16000, Channels: 1}

// scriptedSource replays a fixed list of read results, then reports timeouts
type scriptedSource struct {
	mu      sync.Mutex
	results []scriptedRead
	calls   int
}

type scriptedRead struct {
	data []byte
	err  error
}

func (s *scriptedSource) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.results) == 0 {
		return 0, ErrReadTimeout
	}
	r := s.results[0]
	s.results = s.results[1:]
	if r.err != nil {
		return 0, r.err
	}
	return copy(buf, r.data), nil
}

func (s *scriptedSource) Format() PCMFormat { return testFormat }
func (s *scriptedSource) Close() error      { return nil }

func runCapture(t *testing.T, c *Capture) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Capture did not stop after cancel")
		}
	}
}

func TestNewCaptureValidation(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	ring := newTestRing(t, 128)
	src := &scriptedSource{}

	tests := []struct {
		name   string
		source Source
		ring   *RingBuffer
		chunk  int
	}{
		{"nil source", nil, ring, 64},
		{"nil ring", src, nil, 64},
		{"zero chunk", src, ring, 0},
		{"chunk larger than ring", src, ring, 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCapture(testLogger(), m, tt.source, tt.ring, CaptureConfig{ChunkBytes: tt.chunk})
			if err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestCaptureFeedsRingInOrder(t *testing.T) {
	pcm := make([]byte, 1000)
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}
	src, err := NewPCMSource(pcm, testFormat, false)
	if err != nil {
		t.Fatalf("NewPCMSource failed: %v", err)
	}

	ring := newTestRing(t, 4096)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	c, err := NewCapture(testLogger(), m, src, ring, CaptureConfig{
		ChunkBytes:  300,
		ReadTimeout: 50 * time.Millisecond,
		PushTimeout: 50 * time.Millisecond,
		Interval:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewCapture failed: %v", err)
	}

	stop := runCapture(t, c)

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 2500 && time.Now().Before(deadline) {
		got = append(got, ring.PopUpTo(context.Background(), 512, 50*time.Millisecond)...)
	}
	stop()

	if len(got) < 2500 {
		t.Fatalf("Expected at least 2500 bytes, got %d", len(got))
	}
	for i := 0; i < 2500; i++ {
		if got[i] != pcm[i%len(pcm)] {
			t.Fatalf("Byte %d: expected %d, got %d", i, pcm[i%len(pcm)], got[i])
		}
	}

	if reads := testutil.ToFloat64(m.CaptureReads); reads < 9 {
		t.Errorf("Expected at least 9 reads recorded, got %v", reads)
	}
}

func TestCaptureDropsWhenRingFull(t *testing.T) {
	chunk := bytes.Repeat([]byte{0x7f}, 64)
	results := make([]scriptedRead, 5)
	for i := range results {
		results[i] = scriptedRead{data: chunk}
	}
	src := &scriptedSource{results: results}

	ring := newTestRing(t, 100)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	c, err := NewCapture(testLogger(), m, src, ring, CaptureConfig{
		ChunkBytes:  64,
		ReadTimeout: 10 * time.Millisecond,
		PushTimeout: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewCapture failed: %v", err)
	}

	ctx := context.Background()
	buf := make([]byte, 64)
	for i := 0; i < 5; i++ {
		start := time.Now()
		c.step(ctx, buf)
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Fatalf("Capture step blocked for %v with a full ring", elapsed)
		}
	}

	stats := c.GetStats()
	if stats.Reads != 5 {
		t.Errorf("Expected 5 reads, got %d", stats.Reads)
	}
	if stats.Dropped != 4 {
		t.Errorf("Expected 4 dropped chunks, got %d", stats.Dropped)
	}
	if ring.Len() != 64 {
		t.Errorf("Expected exactly one chunk queued, got %d bytes", ring.Len())
	}
	if drops := testutil.ToFloat64(m.RingDrops); drops != 4 {
		t.Errorf("Expected ring drop metric 4, got %v", drops)
	}
}

func TestCaptureContinuesAfterReadFailure(t *testing.T) {
	src := &scriptedSource{results: []scriptedRead{
		{err: errors.New("i2s dma timeout")},
		{err: ErrReadTimeout},
		{data: []byte{1, 2, 3, 4}},
	}}

	ring := newTestRing(t, 64)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	c, err := NewCapture(testLogger(), m, src, ring, CaptureConfig{ChunkBytes: 16})
	if err != nil {
		t.Fatalf("NewCapture failed: %v", err)
	}

	buf := make([]byte, 16)
	for i := 0; i < 3; i++ {
		c.step(context.Background(), buf)
	}

	if got := ring.PopUpTo(context.Background(), 16, 0); !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("Expected chunk after failures, got %v", got)
	}
	stats := c.GetStats()
	if stats.ReadFailures != 2 || stats.Reads != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if failures := testutil.ToFloat64(m.CaptureFailures); failures != 2 {
		t.Errorf("Expected capture failure metric 2, got %v", failures)
	}
}

func TestFileSourceLoadsWAV(t *testing.T) {
	pcm := []byte{10, 0, 20, 0, 30, 0, 40, 0}
	wavData, err := EncodeWAV(pcm, testFormat)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "loop.wav")
	if err := os.WriteFile(path, wavData, 0644); err != nil {
		t.Fatalf("Failed to write WAV: %v", err)
	}

	src, err := NewFileSource(testLogger(), path, testFormat)
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}
	defer src.Close()

	if src.Format() != testFormat {
		t.Errorf("Expected format %+v, got %+v", testFormat, src.Format())
	}

	// 8 bytes at 32000 B/s is 250us, well inside the timeout
	buf := make([]byte, 12)
	n, err := src.Read(context.Background(), buf, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	expected := []byte{10, 0, 20, 0, 30, 0, 40, 0, 10, 0, 20, 0}
	if n != 12 || !bytes.Equal(buf, expected) {
		t.Errorf("Expected looped %v, got %v", expected, buf[:n])
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	if _, err := NewFileSource(testLogger(), filepath.Join(t.TempDir(), "none.wav"), testFormat); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestFileSourceRealtimePacing(t *testing.T) {
	src, err := NewPCMSource(make([]byte, 64000), testFormat, true)
	if err != nil {
		t.Fatalf("NewPCMSource failed: %v", err)
	}

	// 1600 bytes of 16 kHz mono is 50ms of audio
	buf := make([]byte, 1600)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := src.Read(context.Background(), buf, time.Second); err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 140*time.Millisecond {
		t.Errorf("Expected ~150ms of pacing, reads finished after %v", elapsed)
	}

	// A read that cannot complete inside its timeout reports a timeout
	if _, err := src.Read(context.Background(), buf, 5*time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("Expected ErrReadTimeout, got %v", err)
	}
}
