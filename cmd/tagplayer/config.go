// ABOUTME: Configuration loading for the tagplayer launcher
// ABOUTME: Loads TOML config with environment variable expansion and GOTAG_* overrides

package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/gotag/internal/agent"
	"github.com/2389/gotag/internal/config"
)

type Config struct {
	Lookup  LookupConfig  `toml:"lookup"`
	Player  PlayerConfig  `toml:"player"`
	Logging LoggingConfig `toml:"logging"`
}

type LookupConfig struct {
	Addr string `toml:"addr"`
}

type PlayerConfig struct {
	Restraint   string `toml:"restraint"`
	Retry       string `toml:"retry"`
	CallTimeout string `toml:"call_timeout"`
	MaxResults  int    `toml:"max_results"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns the launcher configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Lookup:  LookupConfig{Addr: config.DefaultLookupAddr},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads config from the given path, expanding environment variables.
// A missing file at the default path yields DefaultConfig; a missing file
// that was asked for explicitly is an error.
func Load(path string, explicit bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := expandEnvVars(string(data))
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// applyEnv lets GOTAG_* variables override file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GOTAG_LOOKUP"); v != "" {
		cfg.Lookup.Addr = v
	}
	if v := os.Getenv("GOTAG_RESTRAINT"); v != "" {
		cfg.Player.Restraint = v
	}
	if v := os.Getenv("GOTAG_RETRY"); v != "" {
		cfg.Player.Retry = v
	}
	if v := os.Getenv("GOTAG_CALL_TIMEOUT"); v != "" {
		cfg.Player.CallTimeout = v
	}
	if v := os.Getenv("GOTAG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v, err := strconv.ParseBool(os.Getenv("GOTAG_DEBUG")); err == nil && v {
		cfg.Logging.Level = "debug"
	}
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Lookup.Addr == "" {
		return fmt.Errorf("lookup.addr is required")
	}
	if c.Player.MaxResults < 0 {
		return fmt.Errorf("player.max_results must not be negative")
	}
	if _, err := c.Timing(); err != nil {
		return err
	}
	return nil
}

// Timing converts the player section into controller pacing, filling
// unset values from agent.DefaultTiming.
func (c *Config) Timing() (agent.Timing, error) {
	t := agent.DefaultTiming()

	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"player.restraint", c.Player.Restraint, &t.Restraint},
		{"player.retry", c.Player.Retry, &t.Retry},
		{"player.call_timeout", c.Player.CallTimeout, &t.CallTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return agent.Timing{}, fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	if c.Player.MaxResults > 0 {
		t.MaxResults = c.Player.MaxResults
	}
	return t, nil
}
