// Package config provides configuration loading and validation for the
// transcription service. It handles YAML-based configuration with per-section
// validation and duration helpers for the time-valued settings.
package config
