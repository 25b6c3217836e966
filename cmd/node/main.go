package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Eric-C-E/ESP32-LLL/internal/audio"
	"github.com/Eric-C-E/ESP32-LLL/internal/config"
	"github.com/Eric-C-E/ESP32-LLL/internal/dispatch"
	"github.com/Eric-C-E/ESP32-LLL/internal/link"
	"github.com/Eric-C-E/ESP32-LLL/internal/metrics"
	"github.com/Eric-C-E/ESP32-LLL/internal/modegate"
	"github.com/Eric-C-E/ESP32-LLL/internal/server"
	"github.com/Eric-C-E/ESP32-LLL/internal/transport"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-link-node"
	serviceVersion    = "1.0.0"

	linkPollInterval = time.Second
	displayHistory   = 8
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty for built-in defaults)")
	flag.Parse()

	// Load configuration
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Node starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("server_address", cfg.Server.Address),
		slog.String("audio_source", cfg.Audio.Source),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("chunk_bytes", cfg.Audio.ChunkBytes),
		slog.Int("ring_bytes", cfg.Audio.RingBytes),
		slog.Int("debounce_count", cfg.Buttons.DebounceCount),
		slog.Int("display_queue_length", cfg.Dispatch.QueueLength),
		slog.String("log_level", cfg.Logging.Level),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Node failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Node stopped")
}

// run builds every component and supervises them until a signal arrives or
// one of them fails
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	format := audio.PCMFormat{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
	source, err := openSource(cfg.Audio, format, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	ring, err := audio.NewRingBuffer(cfg.Audio.RingBytes)
	if err != nil {
		return fmt.Errorf("failed to create ring buffer: %w", err)
	}

	capture, err := audio.NewCapture(logger, appMetrics, source, ring, audio.CaptureConfig{
		ChunkBytes:  cfg.Audio.ChunkBytes,
		ReadTimeout: cfg.Audio.GetReadTimeout(),
		PushTimeout: cfg.Audio.GetPushTimeout(),
		Interval:    cfg.Audio.GetCaptureInterval(),
	})
	if err != nil {
		return fmt.Errorf("failed to create capture: %w", err)
	}

	button1, err := modegate.NewLevelReader(cfg.Buttons.Button1Path, cfg.Buttons.ActiveLevel)
	if err != nil {
		return fmt.Errorf("failed to open button1: %w", err)
	}
	button2, err := modegate.NewLevelReader(cfg.Buttons.Button2Path, cfg.Buttons.ActiveLevel)
	if err != nil {
		return fmt.Errorf("failed to open button2: %w", err)
	}

	gate, err := modegate.NewGate(logger, appMetrics, button1, button2, modegate.GateConfig{
		ActiveLevel:   cfg.Buttons.ActiveLevel,
		DebounceCount: cfg.Buttons.DebounceCount,
		PollInterval:  cfg.Buttons.GetPollInterval(),
	})
	if err != nil {
		return fmt.Errorf("failed to create mode gate: %w", err)
	}

	dispatcher, err := dispatch.New(logger, appMetrics, dispatch.Config{
		QueueLength:    cfg.Dispatch.QueueLength,
		MaxTextBytes:   cfg.Dispatch.MaxTextBytes,
		EnqueueTimeout: cfg.Dispatch.GetEnqueueTimeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	renderer, err := server.NewRenderer(logger, dispatcher.Display1(), dispatcher.Display2(), displayHistory)
	if err != nil {
		return fmt.Errorf("failed to create display renderer: %w", err)
	}

	tr, err := transport.New(logger, appMetrics, transport.Config{
		Address:      cfg.Server.Address,
		DialTimeout:  cfg.Server.GetDialTimeout(),
		RetryDelay:   cfg.Server.GetRetryDelay(),
		PopTimeout:   cfg.Server.GetPopTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
		ChunkBytes:   cfg.Audio.ChunkBytes,
		MaxTextBytes: cfg.Dispatch.MaxTextBytes,
	}, gate, ring, dispatcher)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	monitor := link.NewMonitor(logger, link.NewProcReader(link.DefaultWirelessPath, cfg.Link.Interface),
		cfg.Link.Interface, linkPollInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return capture.Run(gctx) })
	g.Go(func() error { return gate.Run(gctx) })
	g.Go(func() error { return tr.Run(gctx) })
	g.Go(func() error { return renderer.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })

	// Initialize HTTP API server (if enabled)
	if cfg.HTTP.Enabled {
		httpServer := server.NewHTTPServer(cfg.HTTP, logger, cfg, server.Sources{
			Transport: tr,
			Gate:      gate,
			Ring:      ring,
			Capture:   capture,
			Link:      monitor,
			Dispatch:  dispatcher,
			Display:   renderer,
		}, appMetrics, prometheus.DefaultGatherer)
		g.Go(func() error { return httpServer.Run(gctx) })
	}

	logger.Info("Node started successfully, waiting for signals...",
		slog.String("server_address", cfg.Server.Address),
	)

	err = g.Wait()

	// Get final statistics
	stats := tr.Stats()
	captureStats := capture.GetStats()
	logger.Info("Final node statistics",
		slog.Uint64("connects", stats.Connects),
		slog.Uint64("frames_sent", stats.FramesSent),
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("capture_reads", captureStats.Reads),
		slog.Uint64("dropped_chunks", captureStats.Dropped),
	)

	return err
}

// openSource opens the configured microphone source
func openSource(cfg config.AudioConfig, format audio.PCMFormat, logger *slog.Logger) (audio.Source, error) {
	switch cfg.Source {
	case "file":
		source, err := audio.NewFileSource(logger, cfg.FilePath, format)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio file: %w", err)
		}
		return source, nil
	default:
		source, err := audio.NewDeviceSource(logger, format)
		if err != nil {
			return nil, fmt.Errorf("failed to open capture device: %w", err)
		}
		return source, nil
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
