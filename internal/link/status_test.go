package link

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleTable = `Inter-| sta-|   Quality        |   Discarded packets               | Missed | WE
 face | tus | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22
 wlan0: 0000   54.  -56.  -256        0      0      0      0      0        0
  wlx00c0: 0000   70   -40.  -256        0      0      0      0      0        0
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParseWireless(t *testing.T) {
	tests := []struct {
		name       string
		iface      string
		associated bool
		rssi       int
		quality    int
	}{
		{"trailing dots", "wlan0", true, -56, 54},
		{"mixed formatting", "wlx00c0", true, -40, 70},
		{"missing interface", "wlan1", false, NoSignal, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := parseWireless(strings.NewReader(sampleTable), tt.iface)
			if err != nil {
				t.Fatalf("parseWireless failed: %v", err)
			}
			if status.Interface != tt.iface {
				t.Errorf("Expected interface %s, got %s", tt.iface, status.Interface)
			}
			if status.Associated != tt.associated || status.RSSI != tt.rssi || status.Quality != tt.quality {
				t.Errorf("Unexpected status %+v", status)
			}
		})
	}
}

func TestParseWirelessMalformed(t *testing.T) {
	table := " wlan0: 0000   abc  -56.  -256\n"
	status, err := parseWireless(strings.NewReader(table), "wlan0")
	if err == nil {
		t.Fatal("Expected error for malformed quality")
	}
	if status.Associated || status.RSSI != NoSignal {
		t.Errorf("Malformed row must read as not associated, got %+v", status)
	}
}

func TestProcReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wireless")
	if err := os.WriteFile(path, []byte(sampleTable), 0644); err != nil {
		t.Fatalf("Failed to write table: %v", err)
	}

	status, err := NewProcReader(path, "wlan0").Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !status.Associated || status.RSSI != -56 {
		t.Errorf("Unexpected status %+v", status)
	}

	status, err = NewProcReader(filepath.Join(t.TempDir(), "absent"), "wlan0").Read()
	if err == nil {
		t.Error("Expected error for missing table")
	}
	if status.RSSI != NoSignal {
		t.Errorf("Expected RSSI %d on error, got %d", NoSignal, status.RSSI)
	}
}

// sequenceReader returns the queued statuses in order
type sequenceReader struct {
	statuses []Status
	errs     []error
}

func (r *sequenceReader) Read() (Status, error) {
	s, err := r.statuses[0], r.errs[0]
	if len(r.statuses) > 1 {
		r.statuses = r.statuses[1:]
		r.errs = r.errs[1:]
	}
	return s, err
}

func TestMonitorTracksAssociation(t *testing.T) {
	reader := &sequenceReader{
		statuses: []Status{
			{Interface: "wlan0", Associated: true, RSSI: -61, Quality: 49},
			{Interface: "wlan0", RSSI: -70},
			disconnected("wlan0"),
		},
		errs: []error{nil, nil, errors.New("no such file")},
	}
	m := NewMonitor(testLogger(), reader, "wlan0", time.Second)

	if m.Connected() || m.RSSI() != NoSignal {
		t.Fatalf("Expected not associated before first poll, got %+v", m.Status())
	}

	m.Poll()
	if !m.Connected() || m.RSSI() != -61 {
		t.Errorf("Expected associated at -61 dBm, got %+v", m.Status())
	}

	// A stale level from a disassociated row is never reported
	m.Poll()
	if m.Connected() || m.RSSI() != NoSignal {
		t.Errorf("Expected RSSI %d after losing the link, got %+v", NoSignal, m.Status())
	}

	m.Poll()
	if m.Connected() || m.RSSI() != NoSignal {
		t.Errorf("Expected not associated after read error, got %+v", m.Status())
	}
}
