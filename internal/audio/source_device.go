package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// deviceQueueDepth bounds the callback-to-reader hand-off in periods
const deviceQueueDepth = 64

// DeviceSource captures S16LE PCM from the default input device. The driver
// callback copies each period into a bounded queue; a full queue drops the
// period so the audio thread is never blocked.
type DeviceSource struct {
	format PCMFormat
	logger *slog.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	periods  chan []byte
	pending  []byte
	overruns atomic.Uint64

	closeOnce sync.Once
}

// NewDeviceSource opens and starts the default capture device
func NewDeviceSource(logger *slog.Logger, format PCMFormat) (*DeviceSource, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture format: %w", err)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}

	s := &DeviceSource{
		format:  format,
		logger:  logger,
		ctx:     mctx,
		periods: make(chan []byte, deviceQueueDepth),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.enqueue(input)
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		s.freeContext()
		return nil, fmt.Errorf("failed to init capture device: %w", err)
	}
	s.device = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		s.freeContext()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	logger.Info("Capture device started",
		slog.Int("sample_rate", format.SampleRate),
		slog.Int("channels", format.Channels))

	return s, nil
}

// enqueue runs on the driver thread
func (s *DeviceSource) enqueue(input []byte) {
	if len(input) == 0 {
		return
	}
	period := make([]byte, len(input))
	copy(period, input)

	select {
	case s.periods <- period:
	default:
		s.overruns.Add(1)
	}
}

// Read blocks until buf is full or timeout expires. A partial buffer is
// returned without error; no data at all yields ErrReadTimeout.
func (s *DeviceSource) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	n := s.takePending(buf)
	if n == len(buf) {
		return n, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for n < len(buf) {
		select {
		case period := <-s.periods:
			s.pending = period
			n += s.takePending(buf[n:])
		case <-timer.C:
			if n == 0 {
				return 0, ErrReadTimeout
			}
			return n, nil
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
	return n, nil
}

func (s *DeviceSource) takePending(buf []byte) int {
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return n
}

// Format returns the negotiated capture format
func (s *DeviceSource) Format() PCMFormat {
	return s.format
}

// Overruns returns the number of driver periods dropped because the reader
// fell behind
func (s *DeviceSource) Overruns() uint64 {
	return s.overruns.Load()
}

// Close stops the device and releases the audio context
func (s *DeviceSource) Close() error {
	s.closeOnce.Do(func() {
		s.device.Stop()
		s.device.Uninit()
		s.freeContext()
		if dropped := s.overruns.Load(); dropped > 0 {
			s.logger.Warn("Capture device dropped periods", slog.Uint64("overruns", dropped))
		}
	})
	return nil
}

func (s *DeviceSource) freeContext() {
	_ = s.ctx.Uninit()
	s.ctx.Free()
}
