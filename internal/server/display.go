package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Eric-C-E/ESP32-LLL/internal/dispatch"
)

// DisplayLine is one text message shown on a display
type DisplayLine struct {
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
	ShownAt    time.Time `json:"shown_at"`
}

// DisplaySnapshot is the current content of both displays, newest line last
type DisplaySnapshot struct {
	Display1 []DisplayLine `json:"display1"`
	Display2 []DisplayLine `json:"display2"`
	Shown    [2]uint64     `json:"shown"`
}

// Renderer consumes both display queues and keeps the most recent lines of
// each. It stands in for the physical screens and logs every line it shows.
type Renderer struct {
	logger   *slog.Logger
	display1 <-chan dispatch.Message
	display2 <-chan dispatch.Message
	history  int

	mu    sync.Mutex
	lines [2][]DisplayLine
	shown [2]uint64
}

// NewRenderer creates a renderer keeping up to history lines per display
func NewRenderer(logger *slog.Logger, display1, display2 <-chan dispatch.Message, history int) (*Renderer, error) {
	if display1 == nil || display2 == nil {
		return nil, fmt.Errorf("both display queues are required")
	}
	if history < 1 {
		return nil, fmt.Errorf("history must be at least 1, got %d", history)
	}

	return &Renderer{
		logger:   logger,
		display1: display1,
		display2: display2,
		history:  history,
	}, nil
}

// Run drains both queues until ctx is cancelled
func (r *Renderer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.display1:
			r.show(msg)
		case msg := <-r.display2:
			r.show(msg)
		}
	}
}

func (r *Renderer) show(msg dispatch.Message) {
	idx := 0
	if msg.Destination == dispatch.Display2 {
		idx = 1
	}

	line := DisplayLine{
		Text:       strings.ToValidUTF8(string(msg.Text), "?"),
		ReceivedAt: msg.ReceivedAt,
		ShownAt:    time.Now(),
	}

	r.mu.Lock()
	lines := append(r.lines[idx], line)
	if len(lines) > r.history {
		lines = append([]DisplayLine(nil), lines[len(lines)-r.history:]...)
	}
	r.lines[idx] = lines
	r.shown[idx]++
	r.mu.Unlock()

	r.logger.Info("Display text",
		slog.String("display", msg.Destination.String()),
		slog.String("text", line.Text),
		slog.Duration("latency", line.ShownAt.Sub(line.ReceivedAt)),
	)
}

// Snapshot returns a copy of the lines currently held for each display
func (r *Renderer) Snapshot() DisplaySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return DisplaySnapshot{
		Display1: append([]DisplayLine{}, r.lines[0]...),
		Display2: append([]DisplayLine{}, r.lines[1]...),
		Shown:    r.shown,
	}
}
