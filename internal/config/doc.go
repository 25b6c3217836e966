// Package config provides configuration loading and validation for the voice link node.
// It handles YAML-based configuration layered over firmware defaults, with
// per-section validation and millisecond fields exposed as time.Duration.
package config
