package link

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NoSignal is the RSSI reported while not associated
const NoSignal = -127

// DefaultWirelessPath is the Linux wireless statistics table
const DefaultWirelessPath = "/proc/net/wireless"

// Status describes the wireless link the node reaches the server over
type Status struct {
	Interface  string    `json:"interface"`
	Associated bool      `json:"associated"`
	RSSI       int       `json:"rssi_dbm"`
	Quality    int       `json:"link_quality"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Reader samples the current link status
type Reader interface {
	Read() (Status, error)
}

// ProcReader reads an interface's row from /proc/net/wireless. An interface
// missing from the table is reported as not associated.
type ProcReader struct {
	path  string
	iface string
}

// NewProcReader returns a reader for iface. An empty path selects
// DefaultWirelessPath.
func NewProcReader(path, iface string) *ProcReader {
	if path == "" {
		path = DefaultWirelessPath
	}
	return &ProcReader{path: path, iface: iface}
}

// Read parses the wireless table
func (r *ProcReader) Read() (Status, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return disconnected(r.iface), fmt.Errorf("failed to open %s: %w", r.path, err)
	}
	defer f.Close()

	return parseWireless(f, r.iface)
}

func disconnected(iface string) Status {
	return Status{Interface: iface, RSSI: NoSignal, CheckedAt: time.Now()}
}

// parseWireless finds iface in a /proc/net/wireless style table:
//
//	Inter-| sta-|   Quality        |   Discarded packets               | Missed | WE
//	 face | tus | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22
//	 wlan0: 0000   54.  -56.  -256        0      0      0      0      0        0
func parseWireless(r io.Reader, iface string) (Status, error) {
	status := disconnected(iface)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		name, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok || strings.TrimSpace(name) != iface {
			continue
		}

		fields := strings.Fields(rest)
		if len(fields) < 3 {
			return status, fmt.Errorf("malformed wireless row for %s: %q", iface, scanner.Text())
		}
		quality, err := parseStat(fields[1])
		if err != nil {
			return status, fmt.Errorf("bad link quality for %s: %w", iface, err)
		}
		level, err := parseStat(fields[2])
		if err != nil {
			return status, fmt.Errorf("bad signal level for %s: %w", iface, err)
		}

		status.Associated = true
		status.Quality = quality
		status.RSSI = level
		return status, nil
	}
	if err := scanner.Err(); err != nil {
		return status, fmt.Errorf("failed to read wireless table: %w", err)
	}
	return status, nil
}

// parseStat accepts the trailing "." the kernel appends to updated values
func parseStat(s string) (int, error) {
	return strconv.Atoi(strings.TrimSuffix(s, "."))
}

// Monitor polls a Reader and caches the latest status for the status API
type Monitor struct {
	reader   Reader
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	status Status
}

// NewMonitor creates a monitor. Until the first poll the link is reported
// as not associated.
func NewMonitor(logger *slog.Logger, reader Reader, iface string, interval time.Duration) *Monitor {
	return &Monitor{
		reader:   reader,
		interval: interval,
		logger:   logger,
		status:   disconnected(iface),
	}
}

// Poll samples the reader once and logs association changes
func (m *Monitor) Poll() Status {
	status, err := m.reader.Read()
	if err != nil {
		m.logger.Debug("Link status unavailable", slog.String("error", err.Error()))
	}
	if !status.Associated {
		status.RSSI = NoSignal
	}

	m.mu.Lock()
	was := m.status.Associated
	m.status = status
	m.mu.Unlock()

	if status.Associated && !was {
		m.logger.Info("Wireless link associated",
			slog.String("interface", status.Interface),
			slog.Int("rssi_dbm", status.RSSI))
	} else if !status.Associated && was {
		m.logger.Warn("Wireless link lost", slog.String("interface", status.Interface))
	}
	return status
}

// Run polls until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	m.Poll()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Poll()
		}
	}
}

// Status returns the most recent sample
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Connected reports whether the link was associated at the last poll
func (m *Monitor) Connected() bool {
	return m.Status().Associated
}

// RSSI returns the last signal level, or NoSignal when not associated
func (m *Monitor) RSSI() int {
	return m.Status().RSSI
}
