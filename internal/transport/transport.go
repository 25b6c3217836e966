package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Eric-C-E/ESP32-LLL/internal/metrics"
	"github.com/Eric-C-E/ESP32-LLL/internal/modegate"
	"github.com/Eric-C-E/ESP32-LLL/internal/protocol"
)

// ErrPeerClosed is reported when the server closes its end of the connection
var ErrPeerClosed = errors.New("peer closed connection")

// Log cadence for frame headers on each direction
const (
	txLogEvery = 100
	rxLogEvery = 50
)

// ConnectionState is the sender's view of the server connection
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the state name
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText encodes the state by name in JSON status output
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ModeSource supplies the channel the sender tags audio with
type ModeSource interface {
	Mode() modegate.Mode
}

// AudioSource is the consumer side of the capture ring
type AudioSource interface {
	PopUpTo(ctx context.Context, maxBytes int, timeout time.Duration) []byte
}

// Sink receives inbound payloads. Implementations must copy payload, the
// receiver reuses its buffer.
type Sink interface {
	Dispatch(ctx context.Context, flags uint8, payload []byte) bool
}

// DialFunc opens the server connection
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config contains transport parameters
type Config struct {
	Address      string
	DialTimeout  time.Duration
	RetryDelay   time.Duration
	PopTimeout   time.Duration
	WriteTimeout time.Duration
	ChunkBytes   int // max audio payload per frame
	MaxTextBytes int // receive buffer; larger payloads are drained

	// Dial overrides net.Dialer, mainly for tests
	Dial DialFunc
}

// Stats represents transport counters for monitoring
type Stats struct {
	State          ConnectionState `json:"state"`
	LinkID         string          `json:"link_id,omitempty"`
	ConnectedSince *time.Time      `json:"connected_since,omitempty"`
	Connects       uint64          `json:"connects"`
	Teardowns      uint64          `json:"teardowns"`
	FramesSent     uint64          `json:"frames_sent"`
	BytesSent      uint64          `json:"bytes_sent"`
	IdleDiscarded  uint64          `json:"idle_discarded_bytes"`
	FramesReceived uint64          `json:"frames_received"`
	OversizeDrops  uint64          `json:"oversize_drops"`
}

// link is one connection's lifetime. The sender creates it, hands it to the
// receiver through the lifecycle channel and is the only one to close it.
type link struct {
	id        uuid.UUID
	conn      net.Conn
	connected time.Time

	done chan struct{} // closed by the sender at teardown

	fault     chan struct{} // closed by the receiver on a read error
	faultOnce sync.Once
	faultErr  error
}

func newLink(conn net.Conn) *link {
	return &link{
		id:        uuid.New(),
		conn:      conn,
		connected: time.Now(),
		done:      make(chan struct{}),
		fault:     make(chan struct{}),
	}
}

// fail records the first read error and wakes the sender
func (l *link) fail(err error) {
	l.faultOnce.Do(func() {
		l.faultErr = err
		close(l.fault)
	})
}

func (l *link) stale() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Transport streams tagged audio to the server and feeds inbound text to a
// Sink over a single TCP connection. The sender owns the connection: it
// dials, reconnects forever with a fixed delay, and tears down on any write
// or read fault. The receiver only reads from links the sender published.
type Transport struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mode  ModeSource
	audio AudioSource
	sink  Sink

	links   chan *link
	current atomic.Pointer[link]

	state         atomic.Int32
	onStateChange func(ConnectionState)

	connects       atomic.Uint64
	teardowns      atomic.Uint64
	framesSent     atomic.Uint64
	bytesSent      atomic.Uint64
	idleDiscarded  atomic.Uint64
	framesReceived atomic.Uint64
	oversizeDrops  atomic.Uint64
}

// New creates a transport. Nothing is dialed until Run.
func New(logger *slog.Logger, m *metrics.Metrics, config Config, mode ModeSource, audio AudioSource, sink Sink) (*Transport, error) {
	if mode == nil || audio == nil || sink == nil {
		return nil, fmt.Errorf("transport requires a mode source, an audio source and a sink")
	}
	if config.Address == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if config.ChunkBytes <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", config.ChunkBytes)
	}
	if config.MaxTextBytes <= 0 {
		return nil, fmt.Errorf("text limit must be positive, got %d", config.MaxTextBytes)
	}
	if config.Dial == nil {
		dialer := &net.Dialer{Timeout: config.DialTimeout}
		config.Dial = dialer.DialContext
	}

	return &Transport{
		config:  config,
		logger:  logger,
		metrics: m,
		mode:    mode,
		audio:   audio,
		sink:    sink,
		links:   make(chan *link, 1),
	}, nil
}

// OnStateChange registers fn to be called on every state transition. It must
// be set before Run and must not block.
func (t *Transport) OnStateChange(fn func(ConnectionState)) {
	t.onStateChange = fn
}

// State returns the current connection state
func (t *Transport) State() ConnectionState {
	return ConnectionState(t.state.Load())
}

func (t *Transport) setState(s ConnectionState) {
	if ConnectionState(t.state.Swap(int32(s))) == s {
		return
	}
	t.metrics.SetConnectionState(int(s))
	if t.onStateChange != nil {
		t.onStateChange(s)
	}
}

// Run starts the sender and receiver and blocks until ctx is cancelled
func (t *Transport) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.runSender(ctx) })
	g.Go(func() error { return t.runReceiver(ctx) })
	return g.Wait()
}

func (t *Transport) runSender(ctx context.Context) error {
	t.logger.Info("Transport sender started", slog.String("server", t.config.Address))

	for {
		if ctx.Err() != nil {
			t.setState(StateDisconnected)
			return nil
		}

		t.setState(StateConnecting)
		conn, err := t.dial(ctx)
		t.metrics.RecordConnectAttempt(err != nil)
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Debug("Server unreachable, retrying",
					slog.String("server", t.config.Address),
					slog.String("error", err.Error()))
			}
			t.wait(ctx, t.config.RetryDelay)
			continue
		}

		l := newLink(conn)
		t.connects.Add(1)
		t.current.Store(l)
		t.publish(l)
		t.setState(StateConnected)
		t.logger.Info("Connected to server",
			slog.String("server", t.config.Address),
			slog.String("link_id", l.id.String()))

		err = t.stream(ctx, l)
		t.teardown(l, err)

		if ctx.Err() != nil {
			return nil
		}
		t.wait(ctx, t.config.RetryDelay)
	}
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.config.DialTimeout)
	defer cancel()
	return t.config.Dial(dialCtx, "tcp", t.config.Address)
}

// publish hands l to the receiver, replacing any link it never picked up
func (t *Transport) publish(l *link) {
	t.drainStale()
	select {
	case t.links <- l:
	default:
	}
}

func (t *Transport) drainStale() {
	select {
	case <-t.links:
	default:
	}
}

// stream sends audio until a write fails, the receiver faults the link or
// ctx is cancelled
func (t *Transport) stream(ctx context.Context, l *link) error {
	frame := make([]byte, 0, protocol.HeaderSize+t.config.ChunkBytes)
	var sent uint64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.fault:
			return fmt.Errorf("receive failed: %w", l.faultErr)
		default:
		}

		mode := t.mode.Mode()
		chunk := t.audio.PopUpTo(ctx, t.config.ChunkBytes, t.config.PopTimeout)
		if len(chunk) == 0 {
			continue
		}

		if mode == modegate.ModeIdle {
			t.idleDiscarded.Add(uint64(len(chunk)))
			t.metrics.RecordIdleDiscard(len(chunk))
			t.logger.Debug("Idle, dumped audio", slog.Int("bytes", len(chunk)))
			continue
		}

		frame = protocol.AppendFrame(frame[:0], protocol.MsgTypeAudio, mode.Flag(), chunk)
		if sent%txLogEvery == 0 {
			t.logger.Info("TX frame",
				slog.String("link_id", l.id.String()),
				slog.String("mode", mode.String()),
				slog.Int("payload_len", len(chunk)))
		}

		if err := t.writeFrame(l.conn, frame); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		sent++
		t.metrics.RecordFrameSent(mode.String(), len(frame))
		t.bytesSent.Add(uint64(len(frame)))
		t.framesSent.Add(1)
	}
}

func (t *Transport) writeFrame(conn net.Conn, frame []byte) error {
	if t.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout)); err != nil {
			return err
		}
	}
	return writeFull(conn, frame)
}

// writeFull writes b completely or returns the first error
func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

// teardown closes the link exactly once. Closing the conn unblocks the
// receiver; closing done marks the link stale for anyone still holding it.
func (t *Transport) teardown(l *link, cause error) {
	l.conn.Close()
	close(l.done)
	t.drainStale()
	t.current.CompareAndSwap(l, nil)
	t.teardowns.Add(1)
	t.metrics.RecordTeardown()
	t.setState(StateDisconnected)

	if cause == nil || errors.Is(cause, context.Canceled) {
		t.logger.Info("Connection closed", slog.String("link_id", l.id.String()))
		return
	}
	t.logger.Warn("Connection lost, reconnecting",
		slog.String("link_id", l.id.String()),
		slog.Duration("uptime", time.Since(l.connected)),
		slog.String("error", cause.Error()))
}

func (t *Transport) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (t *Transport) runReceiver(ctx context.Context) error {
	t.logger.Info("Transport receiver started", slog.Int("max_text_bytes", t.config.MaxTextBytes))

	buf := make([]byte, t.config.MaxTextBytes)
	for {
		var l *link
		select {
		case <-ctx.Done():
			return nil
		case l = <-t.links:
		}

		if l.stale() {
			t.logger.Debug("Skipping stale link", slog.String("link_id", l.id.String()))
			continue
		}

		t.logger.Info("Receiver attached", slog.String("link_id", l.id.String()))
		err := t.receive(ctx, l, buf)
		l.fail(err)
		if ctx.Err() != nil {
			return nil
		}
		t.logger.Info("Receiver waiting for reconnect",
			slog.String("link_id", l.id.String()),
			slog.String("error", err.Error()))
	}
}

// receive reads frames from l until a read fails. The returned error is
// never nil.
func (t *Transport) receive(ctx context.Context, l *link, buf []byte) error {
	var received uint64
	for {
		h, err := protocol.ReadHeader(l.conn)
		if err != nil {
			return readError("header", err)
		}

		if err := protocol.ValidateHeader(h); err != nil {
			// Tolerated: the declared length still tells us where the next
			// header starts
			t.metrics.RecordHeaderAnomaly()
			t.logger.Warn("Malformed frame header",
				slog.String("link_id", l.id.String()),
				slog.String("header", h.String()),
				slog.String("error", err.Error()))
		}

		if received%rxLogEvery == 0 {
			t.logger.Info("RX frame",
				slog.String("link_id", l.id.String()),
				slog.String("type", protocol.MsgTypeString(h.MsgType)),
				slog.Int("flags", int(h.Flags)),
				slog.Int("payload_len", int(h.PayloadLen)))
		}
		received++

		payload, err := protocol.ReadPayload(l.conn, h, buf)
		if errors.Is(err, protocol.ErrOversize) {
			t.oversizeDrops.Add(1)
			t.metrics.RecordOversizeDrop()
			t.logger.Warn("Inbound payload exceeds buffer, discarded",
				slog.Int("payload_len", int(h.PayloadLen)),
				slog.Int("limit", len(buf)))
			continue
		}
		if err != nil {
			return readError("payload", err)
		}

		t.framesReceived.Add(1)
		t.metrics.RecordFrameReceived()

		if h.MsgType == protocol.MsgTypeControl {
			t.logger.Debug("Control frame ignored", slog.Int("payload_len", len(payload)))
			continue
		}
		t.sink.Dispatch(ctx, h.Flags, payload)
	}
}

func readError(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = ErrPeerClosed
	}
	return fmt.Errorf("failed to read %s: %w", what, err)
}

// Stats returns a snapshot of the transport counters
func (t *Transport) Stats() Stats {
	stats := Stats{
		State:          t.State(),
		Connects:       t.connects.Load(),
		Teardowns:      t.teardowns.Load(),
		FramesSent:     t.framesSent.Load(),
		BytesSent:      t.bytesSent.Load(),
		IdleDiscarded:  t.idleDiscarded.Load(),
		FramesReceived: t.framesReceived.Load(),
		OversizeDrops:  t.oversizeDrops.Load(),
	}
	if l := t.current.Load(); l != nil {
		since := l.connected
		stats.LinkID = l.id.String()
		stats.ConnectedSince = &since
	}
	return stats
}
