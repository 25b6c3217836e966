package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Eric-C-E/ESP32-LLL/internal/metrics"
	"github.com/Eric-C-E/ESP32-LLL/internal/protocol"
)

// Display identifies one of the two text surfaces
type Display int

const (
	Display1 Display = iota + 1
	Display2
)

// String returns the display name used in logs and metric labels
func (d Display) String() string {
	switch d {
	case Display1:
		return "display1"
	case Display2:
		return "display2"
	default:
		return "unknown"
	}
}

// MarshalText encodes the display by name in JSON output
func (d Display) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Message is one line of text bound for a display
type Message struct {
	Destination Display   `json:"destination"`
	Text        []byte    `json:"-"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Drop reasons
const (
	reasonUnroutable = "unroutable"
	reasonQueueFull  = "queue_full"
	reasonOversize   = "oversize"
)

// Config contains dispatcher parameters
type Config struct {
	QueueLength    int
	MaxTextBytes   int
	EnqueueTimeout time.Duration
}

// Stats represents dispatcher counters for monitoring
type Stats struct {
	Routed     [2]uint64 `json:"routed"`
	Unroutable uint64    `json:"unroutable"`
	QueueFull  uint64    `json:"queue_full"`
	Oversize   uint64    `json:"oversize"`
}

// Dispatcher routes inbound text to one of two bounded display queues by
// the frame's destination flags. Display1 wins when both bits are set.
type Dispatcher struct {
	queues  [2]chan Message
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	routed     [2]atomic.Uint64
	unroutable atomic.Uint64
	queueFull  atomic.Uint64
	oversize   atomic.Uint64
}

// New creates a dispatcher with two empty queues
func New(logger *slog.Logger, m *metrics.Metrics, config Config) (*Dispatcher, error) {
	if config.QueueLength < 1 {
		return nil, fmt.Errorf("queue length must be at least 1, got %d", config.QueueLength)
	}
	if config.MaxTextBytes < 1 {
		return nil, fmt.Errorf("text limit must be at least 1, got %d", config.MaxTextBytes)
	}

	return &Dispatcher{
		queues: [2]chan Message{
			make(chan Message, config.QueueLength),
			make(chan Message, config.QueueLength),
		},
		config:  config,
		logger:  logger,
		metrics: m,
	}, nil
}

// Route returns the display selected by flags, or false if neither
// destination bit is set
func Route(flags uint8) (Display, bool) {
	switch {
	case flags&protocol.FlagDisplay1 != 0:
		return Display1, true
	case flags&protocol.FlagDisplay2 != 0:
		return Display2, true
	default:
		return 0, false
	}
}

// Dispatch copies payload into a Message and queues it for its display. It
// waits at most the enqueue timeout for room and reports whether the
// message was queued.
func (d *Dispatcher) Dispatch(ctx context.Context, flags uint8, payload []byte) bool {
	if len(payload) > d.config.MaxTextBytes {
		d.oversize.Add(1)
		d.metrics.RecordDisplayDrop(reasonOversize)
		d.logger.Warn("Text message too long, dropped",
			slog.Int("bytes", len(payload)),
			slog.Int("limit", d.config.MaxTextBytes))
		return false
	}

	display, ok := Route(flags)
	if !ok {
		d.unroutable.Add(1)
		d.metrics.RecordDisplayDrop(reasonUnroutable)
		d.logger.Warn("Unknown display flag, message dropped", slog.Int("flags", int(flags)))
		return false
	}

	msg := Message{
		Destination: display,
		Text:        append([]byte(nil), payload...),
		ReceivedAt:  time.Now(),
	}

	if d.enqueue(ctx, d.queues[display-1], msg) {
		d.routed[display-1].Add(1)
		d.metrics.RecordDisplayRouted(display.String())
		return true
	}

	d.queueFull.Add(1)
	d.metrics.RecordDisplayDrop(reasonQueueFull)
	d.logger.Warn("Display queue full, message dropped", slog.String("display", display.String()))
	return false
}

// enqueue tries an immediate send before waiting, so a zero timeout never
// loses a race against a queue with room
func (d *Dispatcher) enqueue(ctx context.Context, queue chan<- Message, msg Message) bool {
	select {
	case queue <- msg:
		return true
	default:
	}
	if d.config.EnqueueTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(d.config.EnqueueTimeout)
	defer timer.Stop()

	select {
	case queue <- msg:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Display1 returns the receive side of the first display queue
func (d *Dispatcher) Display1() <-chan Message {
	return d.queues[0]
}

// Display2 returns the receive side of the second display queue
func (d *Dispatcher) Display2() <-chan Message {
	return d.queues[1]
}

// GetStats returns dispatcher counters
func (d *Dispatcher) GetStats() Stats {
	return Stats{
		Routed:     [2]uint64{d.routed[0].Load(), d.routed[1].Load()},
		Unroutable: d.unroutable.Load(),
		QueueFull:  d.queueFull.Load(),
		Oversize:   d.oversize.Load(),
	}
}
