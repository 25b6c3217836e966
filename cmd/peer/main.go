// Command peer is a bench stand-in for the remote processing server. It
// accepts node connections, accounts the tagged audio it receives and
// answers with TEXT frames addressed to the matching display.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Eric-C-E/ESP32-LLL/internal/audio"
	"github.com/Eric-C-E/ESP32-LLL/internal/protocol"
)

// maxAudioPayload bounds a single inbound frame; larger ones are drained
const maxAudioPayload = 64 * 1024

type peerConfig struct {
	Listen     string
	ReplyEvery time.Duration // audio duration per channel between replies
	DumpDir    string        // per-channel WAV dumps; empty disables
	Format     audio.PCMFormat
}

// channelState accumulates one channel's audio within a session
type channelState struct {
	name      string
	display   uint8
	pcm       []byte
	sinceLast int
	replies   int
}

// session is one accepted node connection
type session struct {
	id     uuid.UUID
	conn   net.Conn
	logger *slog.Logger
	config peerConfig

	channels map[uint8]*channelState
	frames   int
}

func newSession(conn net.Conn, logger *slog.Logger, config peerConfig) *session {
	id := uuid.New()
	return &session{
		id:     id,
		conn:   conn,
		logger: logger.With(slog.String("session_id", id.String())),
		config: config,
		channels: map[uint8]*channelState{
			protocol.FlagChannelA: {name: "channel_a", display: protocol.FlagDisplay1},
			protocol.FlagChannelB: {name: "channel_b", display: protocol.FlagDisplay2},
		},
	}
}

// serve reads frames until the node disconnects or ctx is cancelled
func (s *session) serve(ctx context.Context) error {
	s.logger.Info("Node connected", slog.String("remote", s.conn.RemoteAddr().String()))

	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()
	defer s.conn.Close()

	buf := make([]byte, maxAudioPayload)
	for {
		header, err := protocol.ReadHeader(s.conn)
		if err != nil {
			return s.finish(err)
		}

		if err := protocol.ValidateHeader(header); err != nil {
			s.logger.Warn("Unexpected frame header", slog.String("error", err.Error()))
		}

		payload, err := protocol.ReadPayload(s.conn, header, buf)
		if errors.Is(err, protocol.ErrOversize) {
			s.logger.Warn("Oversize frame drained", slog.Uint64("payload_len", uint64(header.PayloadLen)))
			continue
		}
		if err != nil {
			return s.finish(err)
		}

		s.frames++
		if header.MsgType != protocol.MsgTypeAudio {
			s.logger.Debug("Ignoring non-audio frame", slog.String("header", header.String()))
			continue
		}

		if err := s.handleAudio(header.Flags, payload); err != nil {
			return s.finish(err)
		}
	}
}

// handleAudio accounts one AUDIO payload and replies once a channel has
// accumulated ReplyEvery worth of audio
func (s *session) handleAudio(flags uint8, payload []byte) error {
	var ch *channelState
	switch {
	case flags&protocol.FlagChannelA != 0:
		ch = s.channels[protocol.FlagChannelA]
	case flags&protocol.FlagChannelB != 0:
		ch = s.channels[protocol.FlagChannelB]
	default:
		s.logger.Warn("Audio frame without channel tag", slog.Int("bytes", len(payload)))
		return nil
	}

	if s.config.DumpDir != "" {
		ch.pcm = append(ch.pcm, payload...)
	}
	ch.sinceLast += len(payload)

	s.logger.Debug("Audio frame",
		slog.String("channel", ch.name),
		slog.Int("bytes", len(payload)))

	threshold := int(s.config.ReplyEvery.Seconds() * float64(s.config.Format.ByteRate()))
	if threshold <= 0 || ch.sinceLast < threshold {
		return nil
	}

	seconds := s.config.Format.Duration(ch.sinceLast)
	ch.sinceLast = 0
	ch.replies++
	text := fmt.Sprintf("%s #%d: %.1fs heard", ch.name, ch.replies, seconds)
	return s.reply(ch.display, text)
}

// reply sends a TEXT frame to the node
func (s *session) reply(display uint8, text string) error {
	frame := protocol.Encode(protocol.MsgTypeText, display, []byte(text))
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}

	s.logger.Info("Reply sent", slog.String("text", text))
	return nil
}

// finish dumps captured audio and classifies the terminating error
func (s *session) finish(err error) error {
	s.dump()

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		s.logger.Info("Node disconnected", slog.Int("frames", s.frames))
		return nil
	}
	return err
}

func (s *session) dump() {
	if s.config.DumpDir == "" {
		return
	}

	for _, ch := range s.channels {
		if len(ch.pcm) == 0 {
			continue
		}

		wav, err := audio.EncodeWAV(ch.pcm, s.config.Format)
		if err != nil {
			s.logger.Error("Failed to encode audio dump", slog.String("error", err.Error()))
			continue
		}

		path := filepath.Join(s.config.DumpDir, fmt.Sprintf("%s-%s.wav", s.id, ch.name))
		if err := os.WriteFile(path, wav, 0644); err != nil {
			s.logger.Error("Failed to write audio dump", slog.String("error", err.Error()))
			continue
		}

		s.logger.Info("Audio dump written",
			slog.String("path", path),
			slog.Float64("duration_seconds", s.config.Format.Duration(len(ch.pcm))))
	}
}

// serveListener accepts nodes one at a time until ctx is cancelled
func serveListener(ctx context.Context, ln net.Listener, logger *slog.Logger, config peerConfig) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept failed: %w", err)
			}

			if err := newSession(conn, logger, config).serve(ctx); err != nil {
				logger.Warn("Session ended with error", slog.String("error", err.Error()))
			}
		}
	})
	return g.Wait()
}

func main() {
	listen := flag.String("listen", ":3333", "TCP address to accept the node on")
	replyEvery := flag.Duration("reply-every", 2*time.Second, "Audio duration per channel between text replies")
	dumpDir := flag.String("dump-dir", "", "Directory for per-channel WAV dumps (disabled when empty)")
	sampleRate := flag.Int("sample-rate", 16000, "PCM sample rate sent by the node")
	channels := flag.Int("channels", 1, "PCM channel count sent by the node")
	debug := flag.Bool("debug", false, "Log every frame")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	config := peerConfig{
		Listen:     *listen,
		ReplyEvery: *replyEvery,
		DumpDir:    *dumpDir,
		Format:     audio.PCMFormat{SampleRate: *sampleRate, Channels: *channels},
	}
	if err := config.Format.Validate(); err != nil {
		logger.Error("Invalid audio format", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if config.DumpDir != "" {
		if err := os.MkdirAll(config.DumpDir, 0755); err != nil {
			logger.Error("Failed to create dump directory", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", config.Listen)
	if err != nil {
		logger.Error("Failed to listen", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Peer listening",
		slog.String("address", ln.Addr().String()),
		slog.Duration("reply_every", config.ReplyEvery),
		slog.String("dump_dir", config.DumpDir))

	if err := serveListener(ctx, ln, logger, config); err != nil {
		logger.Error("Peer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Peer stopped")
}
