package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete node configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	Buttons  ButtonsConfig  `yaml:"buttons"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Link     LinkConfig     `yaml:"link"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig describes the remote processing server and the send path
type ServerConfig struct {
	Address        string `yaml:"address"` // host:port
	DialTimeoutMs  int    `yaml:"dial_timeout_ms"`
	RetryDelayMs   int    `yaml:"retry_delay_ms"` // fixed delay between connection attempts
	PopTimeoutMs   int    `yaml:"pop_timeout_ms"` // max wait for audio per send cycle
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

// AudioConfig contains capture and ring buffer parameters
type AudioConfig struct {
	Source            string `yaml:"source"`    // "device" or "file"
	FilePath          string `yaml:"file_path"` // WAV file for the "file" source
	SampleRate        int    `yaml:"sample_rate"`
	Channels          int    `yaml:"channels"`
	ChunkBytes        int    `yaml:"chunk_bytes"`
	RingBytes         int    `yaml:"ring_bytes"`
	ReadTimeoutMs     int    `yaml:"read_timeout_ms"`
	PushTimeoutMs     int    `yaml:"push_timeout_ms"`
	CaptureIntervalMs int    `yaml:"capture_interval_ms"`
}

// ButtonsConfig contains the mode selector inputs
type ButtonsConfig struct {
	Button1Path    string `yaml:"button1_path"` // sysfs value file; empty means never pressed
	Button2Path    string `yaml:"button2_path"`
	ActiveLevel    int    `yaml:"active_level"` // raw level that means pressed
	DebounceCount  int    `yaml:"debounce_count"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
}

// DispatchConfig contains inbound text routing parameters
type DispatchConfig struct {
	QueueLength      int `yaml:"queue_length"`
	MaxTextBytes     int `yaml:"max_text_bytes"`
	EnqueueTimeoutMs int `yaml:"enqueue_timeout_ms"`
}

// LinkConfig selects the wireless interface reported in status
type LinkConfig struct {
	Interface string `yaml:"interface"`
}

// HTTPConfig contains HTTP status API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration the firmware ships with
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        "192.168.4.1:3333",
			DialTimeoutMs:  3000,
			RetryDelayMs:   100,
			PopTimeoutMs:   100,
			WriteTimeoutMs: 2000,
		},
		Audio: AudioConfig{
			Source:            "device",
			SampleRate:        16000,
			Channels:          1,
			ChunkBytes:        3072,
			RingBytes:         32768,
			ReadTimeoutMs:     500,
			PushTimeoutMs:     5,
			CaptureIntervalMs: 30,
		},
		Buttons: ButtonsConfig{
			ActiveLevel:    0,
			DebounceCount:  3,
			PollIntervalMs: 10,
		},
		Dispatch: DispatchConfig{
			QueueLength:      8,
			MaxTextBytes:     128,
			EnqueueTimeoutMs: 100,
		},
		Link: LinkConfig{
			Interface: "wlan0",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Fields missing from the
// file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Buttons.Validate(); err != nil {
		return fmt.Errorf("buttons config: %w", err)
	}

	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if _, _, err := net.SplitHostPort(s.Address); err != nil {
		return fmt.Errorf("address must be host:port, got '%s': %w", s.Address, err)
	}

	if s.DialTimeoutMs < 1 {
		return fmt.Errorf("dial_timeout_ms must be at least 1, got %d", s.DialTimeoutMs)
	}

	if s.RetryDelayMs < 1 {
		return fmt.Errorf("retry_delay_ms must be at least 1, got %d", s.RetryDelayMs)
	}

	if s.PopTimeoutMs < 1 {
		return fmt.Errorf("pop_timeout_ms must be at least 1, got %d", s.PopTimeoutMs)
	}

	if s.WriteTimeoutMs < 1 {
		return fmt.Errorf("write_timeout_ms must be at least 1, got %d", s.WriteTimeoutMs)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.Source {
	case "device":
	case "file":
		if a.FilePath == "" {
			return fmt.Errorf("file_path cannot be empty when source is 'file'")
		}
	default:
		return fmt.Errorf("source must be 'device' or 'file', got '%s'", a.Source)
	}

	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels < 1 || a.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}

	if a.ChunkBytes < 64 {
		return fmt.Errorf("chunk_bytes must be at least 64, got %d", a.ChunkBytes)
	}

	if a.RingBytes < a.ChunkBytes {
		return fmt.Errorf("ring_bytes (%d) must be at least chunk_bytes (%d)", a.RingBytes, a.ChunkBytes)
	}

	if a.ReadTimeoutMs < 1 {
		return fmt.Errorf("read_timeout_ms must be at least 1, got %d", a.ReadTimeoutMs)
	}

	if a.PushTimeoutMs < 0 {
		return fmt.Errorf("push_timeout_ms cannot be negative, got %d", a.PushTimeoutMs)
	}

	if a.CaptureIntervalMs < 0 {
		return fmt.Errorf("capture_interval_ms cannot be negative, got %d", a.CaptureIntervalMs)
	}

	return nil
}

// Validate validates button configuration
func (b *ButtonsConfig) Validate() error {
	if b.ActiveLevel != 0 && b.ActiveLevel != 1 {
		return fmt.Errorf("active_level must be 0 or 1, got %d", b.ActiveLevel)
	}

	if b.DebounceCount < 1 {
		return fmt.Errorf("debounce_count must be at least 1, got %d", b.DebounceCount)
	}

	if b.PollIntervalMs < 1 {
		return fmt.Errorf("poll_interval_ms must be at least 1, got %d", b.PollIntervalMs)
	}

	return nil
}

// Validate validates dispatch configuration
func (d *DispatchConfig) Validate() error {
	if d.QueueLength < 1 {
		return fmt.Errorf("queue_length must be at least 1, got %d", d.QueueLength)
	}

	if d.MaxTextBytes < 1 || d.MaxTextBytes > 65535 {
		return fmt.Errorf("max_text_bytes must be between 1 and 65535, got %d", d.MaxTextBytes)
	}

	if d.EnqueueTimeoutMs < 0 {
		return fmt.Errorf("enqueue_timeout_ms cannot be negative, got %d", d.EnqueueTimeoutMs)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(l.Level)] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output is stdout, stderr, or a file path
	return nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// GetDialTimeout returns the dial timeout as a time.Duration
func (s *ServerConfig) GetDialTimeout() time.Duration { return millis(s.DialTimeoutMs) }

// GetRetryDelay returns the reconnect delay as a time.Duration
func (s *ServerConfig) GetRetryDelay() time.Duration { return millis(s.RetryDelayMs) }

// GetPopTimeout returns the ring pop timeout as a time.Duration
func (s *ServerConfig) GetPopTimeout() time.Duration { return millis(s.PopTimeoutMs) }

// GetWriteTimeout returns the socket write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeout() time.Duration { return millis(s.WriteTimeoutMs) }

// GetReadTimeout returns the microphone read timeout as a time.Duration
func (a *AudioConfig) GetReadTimeout() time.Duration { return millis(a.ReadTimeoutMs) }

// GetPushTimeout returns the ring push timeout as a time.Duration
func (a *AudioConfig) GetPushTimeout() time.Duration { return millis(a.PushTimeoutMs) }

// GetCaptureInterval returns the capture cadence as a time.Duration
func (a *AudioConfig) GetCaptureInterval() time.Duration { return millis(a.CaptureIntervalMs) }

// GetPollInterval returns the button poll interval as a time.Duration
func (b *ButtonsConfig) GetPollInterval() time.Duration { return millis(b.PollIntervalMs) }

// GetEnqueueTimeout returns the display enqueue timeout as a time.Duration
func (d *DispatchConfig) GetEnqueueTimeout() time.Duration { return millis(d.EnqueueTimeoutMs) }
