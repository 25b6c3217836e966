package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Eric-C-E/ESP32-LLL/internal/metrics"
)

// ErrReadTimeout is returned by a Source when no audio arrived in time
var ErrReadTimeout = errors.New("audio read timed out")

// Source is a microphone-like producer of S16LE PCM bytes
type Source interface {
	// Read fills buf with up to len(buf) bytes, waiting at most timeout.
	Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error)
	Format() PCMFormat
	Close() error
}

// CaptureConfig contains the capture loop parameters
type CaptureConfig struct {
	ChunkBytes  int
	ReadTimeout time.Duration
	PushTimeout time.Duration
	Interval    time.Duration // pause between reads
}

// CaptureStats represents capture loop counters for monitoring
type CaptureStats struct {
	Reads        uint64 `json:"reads"`
	ReadFailures uint64 `json:"read_failures"`
	BytesRead    uint64 `json:"bytes_read"`
	Dropped      uint64 `json:"dropped_chunks"`
}

// Capture moves audio from a Source into the ring buffer. It never blocks
// on the consumer: a chunk that does not fit within the push timeout is lost.
type Capture struct {
	source  Source
	ring    *RingBuffer
	config  CaptureConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	reads        atomic.Uint64
	readFailures atomic.Uint64
	bytesRead    atomic.Uint64
	dropped      atomic.Uint64
}

// NewCapture creates a capture loop feeding ring from source
func NewCapture(logger *slog.Logger, m *metrics.Metrics, source Source, ring *RingBuffer, config CaptureConfig) (*Capture, error) {
	if source == nil || ring == nil {
		return nil, fmt.Errorf("capture requires a source and a ring buffer")
	}
	if config.ChunkBytes <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", config.ChunkBytes)
	}
	if config.ChunkBytes > ring.Cap() {
		return nil, fmt.Errorf("chunk size %d exceeds ring capacity %d", config.ChunkBytes, ring.Cap())
	}

	return &Capture{
		source:  source,
		ring:    ring,
		config:  config,
		logger:  logger,
		metrics: m,
	}, nil
}

// Run reads and pushes chunks until ctx is cancelled
func (c *Capture) Run(ctx context.Context) error {
	format := c.source.Format()
	c.logger.Info("Audio capture started",
		slog.Int("sample_rate", format.SampleRate),
		slog.Int("channels", format.Channels),
		slog.Int("chunk_bytes", c.config.ChunkBytes),
		slog.Duration("interval", c.config.Interval))

	buf := make([]byte, c.config.ChunkBytes)
	for {
		if ctx.Err() != nil {
			c.logger.Info("Audio capture stopped",
				slog.Uint64("reads", c.reads.Load()),
				slog.Uint64("dropped_chunks", c.dropped.Load()))
			return nil
		}

		c.step(ctx, buf)

		if c.config.Interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.config.Interval):
			}
		}
	}
}

// step performs one read/push cycle
func (c *Capture) step(ctx context.Context, buf []byte) {
	n, err := c.source.Read(ctx, buf, c.config.ReadTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.readFailures.Add(1)
		c.metrics.RecordCaptureFailure()
		c.logger.Debug("Microphone read failed", slog.String("error", err.Error()))
		return
	}
	if n == 0 {
		return
	}

	c.reads.Add(1)
	c.bytesRead.Add(uint64(n))
	c.metrics.RecordCaptureRead(n)

	if !c.ring.Push(ctx, buf[:n], c.config.PushTimeout) {
		c.dropped.Add(1)
		c.metrics.RecordRingDrop()
		c.logger.Debug("Ring buffer full, audio chunk dropped", slog.Int("bytes", n))
	}
	c.metrics.SetRingFill(c.ring.Len())
}

// GetStats returns the capture counters
func (c *Capture) GetStats() CaptureStats {
	return CaptureStats{
		Reads:        c.reads.Load(),
		ReadFailures: c.readFailures.Load(),
		BytesRead:    c.bytesRead.Load(),
		Dropped:      c.dropped.Load(),
	}
}
