package modegate

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LevelReader samples one digital input. Levels are 0 or 1.
type LevelReader interface {
	Level() (int, error)
}

// SysfsLevelReader reads a GPIO line through its sysfs value file
// (/sys/class/gpio/gpioN/value). The line must already be exported and
// configured as an input with the appropriate pull resistor.
type SysfsLevelReader struct {
	path string
}

// NewSysfsLevelReader checks that path is readable and returns a reader for it
func NewSysfsLevelReader(path string) (*SysfsLevelReader, error) {
	r := &SysfsLevelReader{path: path}
	if _, err := r.Level(); err != nil {
		return nil, err
	}
	return r, nil
}

// Level returns the current raw level of the line
func (r *SysfsLevelReader) Level() (int, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read gpio value %s: %w", r.path, err)
	}

	level, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || (level != 0 && level != 1) {
		return 0, fmt.Errorf("unexpected gpio value %q in %s", strings.TrimSpace(string(data)), r.path)
	}
	return level, nil
}

// StaticLevel is a LevelReader that always reports the same level. It stands
// in for an unwired button on headless builds.
type StaticLevel int

// Level returns the fixed level
func (s StaticLevel) Level() (int, error) {
	return int(s), nil
}

// NewLevelReader returns a sysfs reader for path, or a StaticLevel pinned to
// the released level when path is empty.
func NewLevelReader(path string, activeLevel int) (LevelReader, error) {
	if path == "" {
		return StaticLevel(1 - activeLevel), nil
	}
	return NewSysfsLevelReader(path)
}
