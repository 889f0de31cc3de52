// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the SDK configuration for the meridian CLI and
// for host applications that prefer a file over wiring the client
// struct by hand.
//
// Configuration comes from a single YAML file — no discovery, no
// layered overrides. Tuning values default to the collector protocol's
// long-standing constants and rarely need changing.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full SDK configuration.
type Config struct {
	// APIKey authenticates the client to the collector. Required.
	APIKey string `yaml:"api_key"`

	// Endpoint is the collector's upload URL. Required.
	Endpoint string `yaml:"endpoint"`

	// DatabasePath is where the pending event log and preferences
	// live. The parent directory must exist. Required.
	DatabasePath string `yaml:"database_path"`

	// AppVersion is the host application's version string, stamped
	// onto every event. Optional.
	AppVersion string `yaml:"app_version"`

	// Tuning adjusts batching and session behavior.
	Tuning Tuning `yaml:"tuning"`
}

// Tuning holds the batching and session parameters. Zero values are
// replaced by defaults during Load/Validate.
type Tuning struct {
	// UploadThreshold is the pending count that triggers an
	// immediate, size-bounded upload.
	UploadThreshold int `yaml:"upload_threshold"`

	// UploadMaxBatch caps the events in one size-triggered upload.
	UploadMaxBatch int `yaml:"upload_max_batch"`

	// EventMaxCount is the hard cap on stored events. Beyond it, the
	// oldest EventRemoveBatch rows are dropped unsent.
	EventMaxCount int `yaml:"event_max_count"`

	// EventRemoveBatch is how many oldest rows one retention pass
	// removes.
	EventRemoveBatch int `yaml:"event_remove_batch"`

	// UploadPeriod is the debounce delay for time-triggered uploads.
	UploadPeriod Duration `yaml:"upload_period"`

	// SessionMergeWindow is the maximum gap between a session's end
	// and the next session's start for the two to be coalesced.
	SessionMergeWindow Duration `yaml:"session_merge_window"`

	// SessionTimeout is the idle gap after which a logged event
	// starts a new session.
	SessionTimeout Duration `yaml:"session_timeout"`

	// QueueCapacity bounds the work queue backlog.
	QueueCapacity int `yaml:"queue_capacity"`
}

// Default returns a Config with every tuning value at its default.
// APIKey, Endpoint, and DatabasePath must still be filled in.
func Default() *Config {
	return &Config{
		Tuning: Tuning{
			UploadThreshold:    30,
			UploadMaxBatch:     100,
			EventMaxCount:      1000,
			EventRemoveBatch:   20,
			UploadPeriod:       Duration(30 * time.Second),
			SessionMergeWindow: Duration(15 * time.Second),
			SessionTimeout:     Duration(30 * time.Minute),
			QueueCapacity:      1024,
		},
	}
}

// LoadFile reads and validates a configuration file. Missing tuning
// values take their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults backfills tuning fields an explicit file left zero.
// Unmarshal overwrites the whole Tuning struct when the file has a
// tuning section, so partial sections need the backfill.
func (c *Config) applyDefaults() {
	defaults := Default().Tuning
	if c.Tuning.UploadThreshold <= 0 {
		c.Tuning.UploadThreshold = defaults.UploadThreshold
	}
	if c.Tuning.UploadMaxBatch <= 0 {
		c.Tuning.UploadMaxBatch = defaults.UploadMaxBatch
	}
	if c.Tuning.EventMaxCount <= 0 {
		c.Tuning.EventMaxCount = defaults.EventMaxCount
	}
	if c.Tuning.EventRemoveBatch <= 0 {
		c.Tuning.EventRemoveBatch = defaults.EventRemoveBatch
	}
	if c.Tuning.UploadPeriod <= 0 {
		c.Tuning.UploadPeriod = defaults.UploadPeriod
	}
	if c.Tuning.SessionMergeWindow <= 0 {
		c.Tuning.SessionMergeWindow = defaults.SessionMergeWindow
	}
	if c.Tuning.SessionTimeout <= 0 {
		c.Tuning.SessionTimeout = defaults.SessionTimeout
	}
	if c.Tuning.QueueCapacity <= 0 {
		c.Tuning.QueueCapacity = defaults.QueueCapacity
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	parsed, err := url.Parse(c.Endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("endpoint %q is not an absolute URL", c.Endpoint)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.Tuning.UploadThreshold >= c.Tuning.EventMaxCount {
		return fmt.Errorf("upload_threshold (%d) must be below event_max_count (%d)",
			c.Tuning.UploadThreshold, c.Tuning.EventMaxCount)
	}
	if c.Tuning.EventRemoveBatch > c.Tuning.EventMaxCount {
		return fmt.Errorf("event_remove_batch (%d) must not exceed event_max_count (%d)",
			c.Tuning.EventRemoveBatch, c.Tuning.EventMaxCount)
	}
	return nil
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "15m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
