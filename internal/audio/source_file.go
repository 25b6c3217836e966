package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// FileSource replays a WAV file in a loop, paced to the file's byte rate so
// the rest of the pipeline sees the same cadence as a live microphone.
type FileSource struct {
	pcm      []byte
	format   PCMFormat
	pos      int
	realtime bool

	next time.Time // when the next read may complete
}

// NewFileSource loads a 16-bit PCM WAV file for looped playback
func NewFileSource(logger *slog.Logger, path string, want PCMFormat) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file %s: %w", path, err)
	}

	pcm, format, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio file %s: %w", path, err)
	}

	if format != want {
		// Frames carry no format info, so the peer will misinterpret the audio
		logger.Warn("Audio file format differs from configured capture format",
			slog.String("path", path),
			slog.Int("file_sample_rate", format.SampleRate),
			slog.Int("file_channels", format.Channels),
			slog.Int("sample_rate", want.SampleRate),
			slog.Int("channels", want.Channels))
	}

	logger.Info("Audio file loaded",
		slog.String("path", path),
		slog.Int("bytes", len(pcm)),
		slog.Float64("duration_seconds", format.Duration(len(pcm))))

	return NewPCMSource(pcm, format, true)
}

// NewPCMSource loops over in-memory PCM. With realtime false reads return
// immediately, which tests use to drive the capture loop quickly.
func NewPCMSource(pcm []byte, format PCMFormat, realtime bool) (*FileSource, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("audio source needs at least one byte of PCM")
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	return &FileSource{
		pcm:      pcm,
		format:   format,
		realtime: realtime,
	}, nil
}

// Read copies the next len(buf) bytes of the loop into buf. In realtime
// mode it first waits until that much audio would have been recorded.
func (s *FileSource) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	if s.realtime {
		now := time.Now()
		if s.next.IsZero() || now.Sub(s.next) > time.Second {
			// First read, or fell far behind (suspended process): resync
			// instead of bursting
			s.next = now
		}
		period := time.Duration(s.format.Duration(len(buf)) * float64(time.Second))

		wait := s.next.Add(period).Sub(now)
		if wait > timeout {
			if err := sleepCtx(ctx, timeout); err != nil {
				return 0, err
			}
			return 0, ErrReadTimeout
		}
		if wait > 0 {
			if err := sleepCtx(ctx, wait); err != nil {
				return 0, err
			}
		}
		s.next = s.next.Add(period)
	}

	n := 0
	for n < len(buf) {
		copied := copy(buf[n:], s.pcm[s.pos:])
		n += copied
		s.pos = (s.pos + copied) % len(s.pcm)
	}
	return n, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Format returns the format of the loaded file
func (s *FileSource) Format() PCMFormat {
	return s.format
}

// Close is a no-op; the file is fully loaded at construction
func (s *FileSource) Close() error {
	return nil
}
