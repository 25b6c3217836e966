package modegate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Eric-C-E/ESP32-LLL/internal/metrics"
	"github.com/Eric-C-E/ESP32-LLL/internal/protocol"
)

// Mode is the channel the node is currently streaming on
type Mode int

const (
	ModeIdle Mode = iota
	ModeChannelA
	ModeChannelB
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case ModeChannelA:
		return "channel_a"
	case ModeChannelB:
		return "channel_b"
	default:
		return "idle"
	}
}

// MarshalText encodes the mode by name in JSON status output
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Flag returns the frame flag that tags audio for this mode, or 0 for Idle
func (m Mode) Flag() uint8 {
	switch m {
	case ModeChannelA:
		return protocol.FlagChannelA
	case ModeChannelB:
		return protocol.FlagChannelB
	default:
		return 0
	}
}

// Button identifies which input was pressed most recently
type Button int

const (
	ButtonNone Button = iota
	Button1
	Button2
)

// String returns the button name used in logs and metric labels
func (b Button) String() string {
	switch b {
	case Button1:
		return "button1"
	case Button2:
		return "button2"
	default:
		return "none"
	}
}

// MarshalText encodes the button by name in JSON status output
func (b Button) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// DeriveMode maps the debounced buttons to a mode. When both are held the
// most recently pressed one wins; with no recorded press it falls back to
// ChannelA.
func DeriveMode(pressed1, pressed2 bool, last Button) Mode {
	switch {
	case pressed1 && pressed2:
		if last == Button2 {
			return ModeChannelB
		}
		return ModeChannelA
	case pressed1:
		return ModeChannelA
	case pressed2:
		return ModeChannelB
	default:
		return ModeIdle
	}
}

// Snapshot is a consistent view of the gate published after each poll
type Snapshot struct {
	Mode        Mode   `json:"mode"`
	Button1     bool   `json:"button1_pressed"`
	Button2     bool   `json:"button2_pressed"`
	LastPressed Button `json:"last_pressed"`
	Polls       uint64 `json:"polls"`
	Misses      uint64 `json:"poll_misses"`
}

// GateConfig contains debounce and polling parameters
type GateConfig struct {
	ActiveLevel   int
	DebounceCount int
	PollInterval  time.Duration
}

// Gate owns the two debouncers and publishes the derived mode
type Gate struct {
	inputs     [2]LevelReader
	debouncers [2]*Debouncer
	last       Button
	config     GateConfig

	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	snap Snapshot
}

// NewGate primes the debouncers from the current input levels. An input that
// cannot be read at startup is assumed released.
func NewGate(logger *slog.Logger, m *metrics.Metrics, button1, button2 LevelReader, config GateConfig) (*Gate, error) {
	if button1 == nil || button2 == nil {
		return nil, fmt.Errorf("gate requires two level readers")
	}
	if config.ActiveLevel != 0 && config.ActiveLevel != 1 {
		return nil, fmt.Errorf("active level must be 0 or 1, got %d", config.ActiveLevel)
	}
	if config.DebounceCount < 1 {
		return nil, fmt.Errorf("debounce count must be at least 1, got %d", config.DebounceCount)
	}

	g := &Gate{
		inputs:  [2]LevelReader{button1, button2},
		config:  config,
		logger:  logger,
		metrics: m,
	}

	for i, input := range g.inputs {
		level, err := input.Level()
		if err != nil {
			logger.Warn("Button unreadable at startup, assuming released",
				slog.String("button", Button(i+1).String()),
				slog.String("error", err.Error()))
			level = 1 - config.ActiveLevel
		}
		g.debouncers[i] = NewDebouncer(level, config.ActiveLevel, config.DebounceCount)
	}

	g.snap = Snapshot{
		Mode:    DeriveMode(g.debouncers[0].Pressed(), g.debouncers[1].Pressed(), ButtonNone),
		Button1: g.debouncers[0].Pressed(),
		Button2: g.debouncers[1].Pressed(),
	}
	m.SetMode(int(g.snap.Mode))

	return g, nil
}

// Poll samples both inputs once and publishes the new snapshot. A read error
// skips the whole poll so the debouncers never see half a sample.
func (g *Gate) Poll() error {
	var levels [2]int
	for i, input := range g.inputs {
		level, err := input.Level()
		if err != nil {
			g.mu.Lock()
			g.snap.Misses++
			g.mu.Unlock()
			g.metrics.RecordPollMiss()
			return fmt.Errorf("%s: %w", Button(i+1), err)
		}
		levels[i] = level
	}

	for i, d := range g.debouncers {
		edge := d.Update(levels[i])
		if edge == EdgeNone {
			continue
		}
		button := Button(i + 1)
		if edge == EdgePress {
			g.last = button
		}
		g.metrics.RecordButtonEdge(button.String(), edge.String())
		g.logger.Debug("Button edge",
			slog.String("button", button.String()),
			slog.String("edge", edge.String()))
	}

	pressed1 := g.debouncers[0].Pressed()
	pressed2 := g.debouncers[1].Pressed()
	mode := DeriveMode(pressed1, pressed2, g.last)

	g.mu.Lock()
	previous := g.snap.Mode
	g.snap.Mode = mode
	g.snap.Button1 = pressed1
	g.snap.Button2 = pressed2
	g.snap.LastPressed = g.last
	g.snap.Polls++
	g.mu.Unlock()

	if mode != previous {
		g.metrics.SetMode(int(mode))
		g.logger.Info("Channel mode changed",
			slog.String("from", previous.String()),
			slog.String("to", mode.String()))
	}
	return nil
}

// Run polls at the configured interval until ctx is cancelled
func (g *Gate) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.config.PollInterval)
	defer ticker.Stop()

	g.logger.Info("Mode gate running",
		slog.Duration("poll_interval", g.config.PollInterval),
		slog.Int("debounce_count", g.config.DebounceCount))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := g.Poll(); err != nil {
				g.logger.Debug("Button poll skipped", slog.String("error", err.Error()))
			}
		}
	}
}

// Mode returns the current channel mode
func (g *Gate) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap.Mode
}

// Snapshot returns a copy of the latest published state
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap
}
