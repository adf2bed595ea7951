// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local machines running packs under test.
	Development Environment = "development"
	// Production is for installed daemons.
	Production Environment = "production"
)

// Compression names accepted by bridge.compression.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// Config is the daemon configuration.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	Paths     PathsConfig      `yaml:"paths"`
	Protocol  ProtocolConfig   `yaml:"protocol"`
	Bridge    BridgeConfig     `yaml:"bridge"`
	Gamepacks []GamepackConfig `yaml:"gamepacks"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the sections that can be overridden per
// environment. Zero-valued fields leave the base value unchanged.
type ConfigOverrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	Protocol *ProtocolConfig `yaml:"protocol,omitempty"`
	Bridge   *BridgeConfig   `yaml:"bridge,omitempty"`
}

// PathsConfig configures filesystem locations.
type PathsConfig struct {
	// Root is the base directory for Companion data.
	Root string `yaml:"root"`

	// State holds runtime state (pid files, logs of gamepack stderr).
	State string `yaml:"state"`

	// CacheDB is the SQLite database backing the bridge cache.
	CacheDB string `yaml:"cache_db"`

	// Manifests is the directory gamepack manifest paths are resolved
	// against when relative.
	Manifests string `yaml:"manifests"`
}

// ProtocolConfig configures the daemon side of the gamepack line
// protocol.
type ProtocolConfig struct {
	// CommandTimeout bounds every command round trip.
	CommandTimeout Duration `yaml:"command_timeout"`

	// ShutdownTimeout is how long a pack has to exit after the shutdown
	// command before its process group is killed.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// PollInterval is the period of the detect/status/events poll loop.
	PollInterval Duration `yaml:"poll_interval"`
}

// BridgeConfig configures the sandbox cache bridge host.
type BridgeConfig struct {
	// ListenAddr is the WebSocket listen address. Empty disables the
	// listener.
	ListenAddr string `yaml:"listen_addr"`

	// RequestTimeout is the per-request timeout handed to sandbox
	// bridges that ask for it.
	RequestTimeout Duration `yaml:"request_timeout"`

	// Compression selects how cached values are compressed at rest:
	// none, zstd or lz4.
	Compression string `yaml:"compression"`
}

// GamepackConfig names one gamepack manifest.
type GamepackConfig struct {
	// Manifest is the path to the pack's config.json.
	Manifest string `yaml:"manifest"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the pack should be launched.
func (g GamepackConfig) IsEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// Duration is a time.Duration that decodes from a YAML duration string.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the base configuration the file is merged into.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "companion")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:      defaultRoot,
			State:     filepath.Join(defaultRoot, "state"),
			CacheDB:   filepath.Join(defaultRoot, "cache.db"),
			Manifests: filepath.Join(defaultRoot, "gamepacks"),
		},
		Protocol: ProtocolConfig{
			CommandTimeout:  Duration(10 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
			PollInterval:    Duration(time.Second),
		},
		Bridge: BridgeConfig{
			ListenAddr:     "127.0.0.1:7461",
			RequestTimeout: Duration(10 * time.Second),
			Compression:    CompressionZstd,
		},
	}
}

// Load loads configuration from the file named by COMPANION_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("COMPANION_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("COMPANION_CONFIG environment variable not set; " +
			"set it to the path of your companion.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, applies the environment
// section, and expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Protocol: &ProtocolConfig{
					CommandTimeout:  Duration(5 * time.Second),
					ShutdownTimeout: Duration(3 * time.Second),
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if p := overrides.Paths; p != nil {
		overrideString(&c.Paths.Root, p.Root)
		overrideString(&c.Paths.State, p.State)
		overrideString(&c.Paths.CacheDB, p.CacheDB)
		overrideString(&c.Paths.Manifests, p.Manifests)
	}
	if p := overrides.Protocol; p != nil {
		overrideDuration(&c.Protocol.CommandTimeout, p.CommandTimeout)
		overrideDuration(&c.Protocol.ShutdownTimeout, p.ShutdownTimeout)
		overrideDuration(&c.Protocol.PollInterval, p.PollInterval)
	}
	if b := overrides.Bridge; b != nil {
		overrideString(&c.Bridge.ListenAddr, b.ListenAddr)
		overrideDuration(&c.Bridge.RequestTimeout, b.RequestTimeout)
		overrideString(&c.Bridge.Compression, b.Compression)
	}
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func overrideDuration(target *Duration, value Duration) {
	if value != 0 {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"COMPANION_ROOT": c.Paths.Root,
		"HOME":           os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["COMPANION_ROOT"] = c.Paths.Root

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.CacheDB = expandVars(c.Paths.CacheDB, vars)
	c.Paths.Manifests = expandVars(c.Paths.Manifests, vars)
	for i := range c.Gamepacks {
		c.Gamepacks[i].Manifest = expandVars(c.Gamepacks[i].Manifest, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, preferring vars over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// ManifestPath resolves a gamepack manifest path against
// Paths.Manifests.
func (c *Config) ManifestPath(pack GamepackConfig) string {
	if filepath.IsAbs(pack.Manifest) {
		return pack.Manifest
	}
	return filepath.Join(c.Paths.Manifests, pack.Manifest)
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.CacheDB == "" {
		errs = append(errs, fmt.Errorf("paths.cache_db is required"))
	}
	if c.Protocol.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("protocol.command_timeout must be positive"))
	}
	if c.Protocol.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("protocol.shutdown_timeout must be positive"))
	}
	if c.Protocol.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("protocol.poll_interval must be positive"))
	}
	if c.Bridge.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("bridge.request_timeout must be positive"))
	}
	switch c.Bridge.Compression {
	case CompressionNone, CompressionZstd, CompressionLZ4:
	default:
		errs = append(errs, fmt.Errorf("bridge.compression must be one of: none, zstd, lz4"))
	}
	for i, pack := range c.Gamepacks {
		if pack.Manifest == "" {
			errs = append(errs, fmt.Errorf("gamepacks[%d].manifest is required", i))
		}
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.State, filepath.Dir(c.Paths.CacheDB)} {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
