// Package config carries the tool-level settings shared across commands.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/flotilla-run/flotilla/pkg/duration"
)

// LabelPrefix namespaces the labels stamped on everything flotilla creates,
// so ps/down can find containers from earlier runs of the CLI.
const LabelPrefix = "run.flotilla"

// Config holds the tool-level configuration. The topology file owns the
// per-service settings; this is only what the CLI itself needs.
type Config struct {
	// Project names the stack. Containers, volumes and the network are
	// prefixed with it. Defaults to the topology name.
	Project string

	// File is the topology file path.
	File string

	// DefaultGracePeriod applies to services without a stop_grace_period.
	DefaultGracePeriod time.Duration

	// StartTimeout bounds how long Up waits for one service to reach its
	// ready condition before marking it Failed.
	StartTimeout time.Duration
}

// Defaults returns the baseline configuration before flags and environment
// overrides are applied.
func Defaults() *Config {
	return &Config{
		File:               "flotilla.yaml",
		DefaultGracePeriod: 10 * time.Second,
		StartTimeout:       2 * time.Minute,
	}
}

// Load builds the effective configuration from defaults and FLOTILLA_*
// environment variables. Flag values are applied on top by the commands.
func Load() (*Config, error) {
	cfg := Defaults()

	if v := os.Getenv("FLOTILLA_FILE"); v != "" {
		cfg.File = v
	}
	if v := os.Getenv("FLOTILLA_PROJECT"); v != "" {
		cfg.Project = v
	}
	if v := os.Getenv("FLOTILLA_START_TIMEOUT"); v != "" {
		d, err := duration.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("FLOTILLA_START_TIMEOUT: %w", err)
		}
		cfg.StartTimeout = d
	}
	if v := os.Getenv("FLOTILLA_GRACE_PERIOD"); v != "" {
		d, err := duration.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("FLOTILLA_GRACE_PERIOD: %w", err)
		}
		cfg.DefaultGracePeriod = d
	}

	return cfg, nil
}

var projectNamePattern = regexp.MustCompile(`[^a-z0-9_-]`)

// NormalizeProject sanitizes a project name the way container runtimes
// expect: lowercase, with anything outside [a-z0-9_-] replaced by a hyphen.
func NormalizeProject(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = projectNamePattern.ReplaceAllString(name, "-")
	return strings.Trim(name, "-_")
}

// NetworkName returns the bridge network for a project.
func (c *Config) NetworkName() string {
	return c.Project + "_default"
}

// ProjectLabels returns the labels stamped on containers, volumes and
// networks managed for this project.
func (c *Config) ProjectLabels() map[string]string {
	return map[string]string{
		LabelPrefix + ".project": c.Project,
	}
}

// ServiceLabels returns ProjectLabels plus the service identity label.
func (c *Config) ServiceLabels(service string) map[string]string {
	labels := c.ProjectLabels()
	labels[LabelPrefix+".service"] = service
	return labels
}
