// Package config loads the harvest configuration: global windowing
// defaults plus the list of sources to collect from.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SourceType discriminates the per-type fields of a SourceConfig.
type SourceType string

const (
	SourceRSS   SourceType = "rss"
	SourceURL   SourceType = "url"
	SourceGmail SourceType = "gmail"
)

// Config is the full harvest configuration.
type Config struct {
	// TimeZone anchors calendar-mode windows, e.g. "America/New_York".
	TimeZone string `yaml:"time_zone"`

	// LookbackDays is the default lookback for sources that don't
	// override it.
	LookbackDays int `yaml:"lookback_days"`

	// WindowMode is "calendar" or "rolling".
	WindowMode string `yaml:"window_mode"`

	// Hours is the rolling-window length; ignored in calendar mode.
	Hours int `yaml:"hours"`

	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig describes one source. Type decides which of the optional
// fields apply; Validate enforces that per type.
type SourceConfig struct {
	ID      string     `yaml:"id"`
	Name    string     `yaml:"name"`
	Type    SourceType `yaml:"type"`
	URL     string     `yaml:"url,omitempty"`
	Enabled *bool      `yaml:"enabled,omitempty"` // nil means enabled

	// LookbackDays overrides the global default for this source.
	LookbackDays *int `yaml:"lookback_days,omitempty"`

	// Gmail-only fields.
	Label       string `yaml:"label,omitempty"`
	MaxMessages int    `yaml:"max_messages,omitempty"`

	// Extractor selects "heuristic" (default) or "model" link
	// extraction for gmail sources.
	Extractor string `yaml:"extractor,omitempty"`

	LinkRules LinkRules `yaml:"link_rules,omitempty"`
}

// IsEnabled reports whether the source should be collected. Sources are
// enabled unless explicitly disabled.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// LinkRules tunes link extraction for a newsletter source. Zero values
// fall back to the package defaults in internal/extract.
type LinkRules struct {
	ExcludeText         []string `yaml:"exclude_text,omitempty"`
	IncludeDomains      []string `yaml:"include_domains,omitempty"`
	ExcludeDomains      []string `yaml:"exclude_domains,omitempty"`
	IncludePathKeywords []string `yaml:"include_path_keywords,omitempty"`
	ExcludePathKeywords []string `yaml:"exclude_path_keywords,omitempty"`
	MinArticleScore     *int     `yaml:"min_article_score,omitempty"`
	MinTextLength       *int     `yaml:"min_text_length,omitempty"`
	MaxModelLinks       *int     `yaml:"max_model_links,omitempty"`

	// ResolveTrackingLinks toggles redirect probing; nil means on.
	ResolveTrackingLinks *bool `yaml:"resolve_tracking_links,omitempty"`

	// Debug logs every dropped candidate with the stage that dropped it.
	Debug bool `yaml:"debug,omitempty"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config, applying defaults where a zero value has a
// sensible one.
func (c *Config) Validate() error {
	if c.TimeZone == "" {
		c.TimeZone = "UTC"
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 1
	}
	if c.WindowMode == "" {
		c.WindowMode = "calendar"
	}
	if c.WindowMode != "calendar" && c.WindowMode != "rolling" {
		return fmt.Errorf("window_mode must be calendar or rolling, got %q", c.WindowMode)
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.ID == "" {
			return fmt.Errorf("source %d: missing id", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate source id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Name == "" {
			s.Name = s.ID
		}

		switch s.Type {
		case SourceRSS, SourceURL:
			if s.URL == "" {
				return fmt.Errorf("source %q: %s source requires url", s.ID, s.Type)
			}
		case SourceGmail:
			if s.Label == "" {
				return fmt.Errorf("source %q: gmail source requires label", s.ID)
			}
			if s.MaxMessages <= 0 {
				s.MaxMessages = 5
			}
			if s.Extractor == "" {
				s.Extractor = "heuristic"
			}
			if s.Extractor != "heuristic" && s.Extractor != "model" {
				return fmt.Errorf("source %q: extractor must be heuristic or model, got %q", s.ID, s.Extractor)
			}
		default:
			return fmt.Errorf("source %q: unknown type %q", s.ID, s.Type)
		}
	}

	return nil
}
